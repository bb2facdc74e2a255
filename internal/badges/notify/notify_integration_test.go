//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"credentials/internal/badges/models"
	"credentials/internal/badges/notify"
	"credentials/internal/platform/kafka/producer"
	"credentials/internal/platform/logger"
	"credentials/pkg/testutil/containers"
)

type NotifierIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
	topics   notify.Topics
}

func TestNotifierIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(NotifierIntegrationSuite))
}

func (s *NotifierIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
	s.topics = notify.Topics{Awarded: "badge-awarded-it", Revoked: "badge-revoked-it"}
	s.Require().NoError(s.kafka.EnsureTopics(context.Background(), s.topics.Awarded, s.topics.Revoked))

	prod, err := producer.New(producer.DefaultConfig(s.kafka.Brokers), logger.Discard())
	s.Require().NoError(err)
	s.producer = prod
}

func (s *NotifierIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

func badge(username string) models.BadgeNotification {
	return models.BadgeNotification{
		CredentialID: uuid.New(),
		User:         models.UserData{ID: 42, IsActive: true, Username: username, Email: username + "@example.org"},
		Template: models.BadgeTemplate{
			ExternalID: uuid.New(),
			Origin:     models.OriginOpenEdx,
			Name:       "Demo course passed",
		},
	}
}

func (s *NotifierIntegrationSuite) readOne(topic, key string) *kgo.Record {
	reader, err := s.kafka.Reader(topic)
	s.Require().NoError(err)
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	record, err := containers.Next(ctx, reader, func(r *kgo.Record) bool { return string(r.Key) == key })
	s.Require().NoError(err)
	return record
}

func (s *NotifierIntegrationSuite) TestAwardReachesAwardedTopic() {
	n := notify.New(s.producer, s.topics, "credentials")
	b := badge("alice")

	s.Require().NoError(n.BadgeAwarded(context.Background(), b))

	record := s.readOne(s.topics.Awarded, b.CredentialID.String())
	s.Equal(notify.EventBadgeAwarded, containers.Header(record, "ce_type"))
	s.Equal("credentials", containers.Header(record, "ce_source"))

	var msg notify.Message
	s.Require().NoError(json.Unmarshal(record.Value, &msg))
	s.Equal(b.CredentialID.String(), msg.UUID)
	s.Equal("alice", msg.User.PII.Username)
	s.Equal(b.Template.ExternalID.String(), msg.Template.UUID)
	s.Equal(string(models.OriginOpenEdx), msg.Template.Origin)
}

func (s *NotifierIntegrationSuite) TestRevocationReachesRevokedTopic() {
	n := notify.New(s.producer, s.topics, "credentials")
	b := badge("bob")

	s.Require().NoError(n.BadgeRevoked(context.Background(), b))

	record := s.readOne(s.topics.Revoked, b.CredentialID.String())
	s.Equal(notify.EventBadgeRevoked, containers.Header(record, "ce_type"))
}

func (s *NotifierIntegrationSuite) TestProducerHealth() {
	s.NoError(s.producer.Health(context.Background()))
}

func (s *NotifierIntegrationSuite) TestClosedProducerRejectsNotifications() {
	prod, err := producer.New(producer.DefaultConfig(s.kafka.Brokers), logger.Discard())
	s.Require().NoError(err)
	s.Require().NoError(prod.Close())

	err = notify.New(prod, s.topics, "credentials").BadgeAwarded(context.Background(), badge("carol"))
	s.ErrorIs(err, producer.ErrClosed)
}
