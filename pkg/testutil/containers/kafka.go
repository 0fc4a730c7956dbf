//go:build integration

package containers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer is a single-node Redpanda broker.
type KafkaContainer struct {
	Container *redpanda.Container
	Brokers   string
}

func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	container, err := redpanda.Run(ctx,
		"docker.redpanda.com/redpandadata/redpanda:v24.2.4",
		redpanda.WithAutoCreateTopics(),
	)
	if err != nil {
		t.Fatalf("start redpanda: %v", err)
	}
	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		fail(t, container, "redpanda seed broker: %v", err)
	}
	return &KafkaContainer{Container: container, Brokers: broker}
}

func (k *KafkaContainer) client(opts ...kgo.Opt) (*kgo.Client, error) {
	return kgo.NewClient(append([]kgo.Opt{kgo.SeedBrokers(k.Brokers)}, opts...)...)
}

// CreateTopics creates single-partition topics so ordering assertions hold.
// Existing topics are left alone.
func (k *KafkaContainer) CreateTopics(ctx context.Context, topics ...string) error {
	cl, err := k.client()
	if err != nil {
		return err
	}
	defer cl.Close()

	resp, err := kadm.NewClient(cl).CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return err
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return t.Err
		}
	}
	return nil
}

// Produce writes a raw record, bypassing the application producer. Suites use
// it to inject payloads the producer would never build.
func (k *KafkaContainer) Produce(ctx context.Context, topic string, key, value []byte) error {
	cl, err := k.client()
	if err != nil {
		return err
	}
	defer cl.Close()
	return cl.ProduceSync(ctx, &kgo.Record{Topic: topic, Key: key, Value: value}).FirstErr()
}

// NewConsumer reads topics from the start without committing.
func (k *KafkaContainer) NewConsumer(_ context.Context, group string, topics ...string) (*kgo.Client, error) {
	return k.client(
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
}

// WaitForMessage polls until a record satisfies match or timeout elapses, in
// which case it returns nil.
func (k *KafkaContainer) WaitForMessage(ctx context.Context, cl *kgo.Client, timeout time.Duration, match func(*kgo.Record) bool) *kgo.Record {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for ctx.Err() == nil {
		fetches := cl.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			if r := iter.Next(); match(r) {
				return r
			}
		}
	}
	return nil
}
