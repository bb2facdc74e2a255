//go:build integration

package containers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer runs a Redpanda broker speaking the Kafka protocol.
type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   string
}

func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()

	ctx := context.Background()
	container, err := kafka.Run(ctx,
		"redpandadata/redpanda:latest",
		kafka.WithClusterID("credentials-test"),
	)
	if err != nil {
		t.Fatalf("start kafka: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("kafka brokers: %v", err)
	}

	return &KafkaContainer{Container: container, Brokers: brokers[0]}
}

// admin opens a short-lived admin client. Callers close the returned kgo client.
func (k *KafkaContainer) admin() (*kadm.Client, *kgo.Client, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		return nil, nil, err
	}
	return kadm.NewClient(client), client, nil
}

// EnsureTopics creates single-partition topics, leaving existing ones alone.
func (k *KafkaContainer) EnsureTopics(ctx context.Context, topics ...string) error {
	admin, client, err := k.admin()
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return err
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// CommittedOffset returns the offset groupID committed on partition 0 of
// topic, or -1 when nothing was committed.
func (k *KafkaContainer) CommittedOffset(ctx context.Context, groupID, topic string) (int64, error) {
	admin, client, err := k.admin()
	if err != nil {
		return 0, err
	}
	defer client.Close()

	offsets, err := admin.FetchOffsets(ctx, groupID)
	if err != nil {
		return 0, err
	}
	o, ok := offsets.Lookup(topic, 0)
	if !ok {
		return -1, nil
	}
	if o.Err != nil {
		return 0, o.Err
	}
	return o.At, nil
}

// Write produces records synchronously with a raw client, bypassing the
// service producer.
func (k *KafkaContainer) Write(ctx context.Context, records ...*kgo.Record) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers), kgo.AllowAutoTopicCreation())
	if err != nil {
		return err
	}
	defer client.Close()
	return client.ProduceSync(ctx, records...).FirstErr()
}

// Reader opens a client reading topics from the start without committing.
func (k *KafkaContainer) Reader(topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
}

// Next polls client until a record satisfies match or ctx ends.
func Next(ctx context.Context, client *kgo.Client, match func(*kgo.Record) bool) (*kgo.Record, error) {
	for {
		fetches := client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("no matching record: %w", err)
		}
		if fetches.IsClientClosed() {
			return nil, kgo.ErrClientClosed
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			if r := iter.Next(); match(r) {
				return r, nil
			}
		}
	}
}

// Header returns the value of key on r.
func Header(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
