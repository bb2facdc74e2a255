// Package notify publishes badge award and revoke notifications to the event bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"credentials/internal/badges/models"
	"credentials/internal/platform/kafka/producer"
)

// Event types carried in the ce_type header.
const (
	EventBadgeAwarded = "org.openedx.learning.badge.awarded.v1"
	EventBadgeRevoked = "org.openedx.learning.badge.revoked.v1"
)

// Topics selects where each notification kind is written.
type Topics struct {
	Awarded string
	Revoked string
}

// KafkaNotifier serializes notifications and hands them to a publisher:
// the Kafka producer directly, or the outbox for durable relay.
type KafkaNotifier struct {
	publisher producer.Publisher
	topics    Topics
	source    string
}

// New builds a notifier. source fills the ce_source header.
func New(publisher producer.Publisher, topics Topics, source string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topics: topics, source: source}
}

// BadgeAwarded publishes an award notification.
func (n *KafkaNotifier) BadgeAwarded(ctx context.Context, badge models.BadgeNotification) error {
	return n.publish(ctx, n.topics.Awarded, EventBadgeAwarded, badge)
}

// BadgeRevoked publishes a revoke notification.
func (n *KafkaNotifier) BadgeRevoked(ctx context.Context, badge models.BadgeNotification) error {
	return n.publish(ctx, n.topics.Revoked, EventBadgeRevoked, badge)
}

func (n *KafkaNotifier) publish(ctx context.Context, topic, eventType string, badge models.BadgeNotification) error {
	value, err := json.Marshal(toMessage(badge))
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return n.publisher.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte(badge.CredentialID.String()),
		Value: value,
		Headers: map[string]string{
			"ce_type":   eventType,
			"ce_source": n.source,
		},
	})
}

// Message is the wire format of a badge notification.
type Message struct {
	UUID     string          `json:"uuid"`
	User     UserMessage     `json:"user"`
	Template TemplateMessage `json:"template"`
}

type UserMessage struct {
	ID       int64      `json:"id"`
	IsActive bool       `json:"is_active"`
	PII      PIIMessage `json:"pii"`
}

type PIIMessage struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

type TemplateMessage struct {
	UUID        string `json:"uuid"`
	Origin      string `json:"origin"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

func toMessage(b models.BadgeNotification) Message {
	return Message{
		UUID: b.CredentialID.String(),
		User: UserMessage{
			ID:       b.User.ID,
			IsActive: b.User.IsActive,
			PII: PIIMessage{
				Username: b.User.Username,
				Email:    b.User.Email,
				Name:     b.User.Name,
			},
		},
		Template: TemplateMessage{
			UUID:        b.Template.ExternalID.String(),
			Origin:      string(b.Template.Origin),
			Name:        b.Template.Name,
			Description: b.Template.Description,
			ImageURL:    b.Template.IconURL,
		},
	}
}
