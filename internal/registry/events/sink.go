package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sumbandila/internal/credential/issuance"
	"sumbandila/internal/platform/kafka/producer"
)

// Producer publishes msgs as one batch and waits for the acknowledgements.
type Producer interface {
	Produce(ctx context.Context, msgs ...*producer.Message) error
}

type SinkOption func(*KafkaSink)

// KafkaSink publishes issued credentials to TopicIssued, keyed by
// fingerprint so every event for one credential lands on one partition.
type KafkaSink struct {
	producer       Producer
	topic          string
	registryTopic  string
	publishRecords bool
	now            func() time.Time
	logger         *slog.Logger
}

func NewKafkaSink(p Producer, opts ...SinkOption) *KafkaSink {
	s := &KafkaSink{
		producer:      p,
		topic:         TopicIssued,
		registryTopic: TopicRegistry,
		now:           time.Now,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithTopic(topic string) SinkOption {
	return func(s *KafkaSink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithRecordPublishing also publishes a credential.recorded event carrying
// the record to the registry topic, so the sync worker stores it for
// compact-payload verification. Use only when the registry topic is
// restricted to this deployment.
func WithRecordPublishing(registryTopic string) SinkOption {
	return func(s *KafkaSink) {
		s.publishRecords = true
		if registryTopic != "" {
			s.registryTopic = registryTopic
		}
	}
}

func WithSinkClock(now func() time.Time) SinkOption {
	return func(s *KafkaSink) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(s *KafkaSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Publish implements issuance.Sink. With record publishing enabled the
// record and issuance events are produced as one batch.
func (s *KafkaSink) Publish(ctx context.Context, cred *issuance.IssuedCredential) error {
	at := cred.IssuedAt
	if at.IsZero() {
		at = s.now()
	}
	key := cred.Fingerprint.Tagged()

	var batch []*producer.Message
	var ids []string
	add := func(topic, eventType string, data any) error {
		msg, id, err := message(topic, key, eventType, at, data)
		if err != nil {
			return err
		}
		batch = append(batch, msg)
		ids = append(ids, id)
		return nil
	}

	if s.publishRecords {
		record, err := json.Marshal(cred.Record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := add(s.registryTopic, TypeRecordStored, RecordStored{Fingerprint: key, Record: record}); err != nil {
			return err
		}
	}
	err := add(s.topic, TypeCredentialIssued, CredentialIssued{
		Issuer:      cred.Issuer.String(),
		Fingerprint: key,
		KeyID:       cred.Signature.KeyID.String(),
		Algorithm:   string(cred.Signature.Algorithm),
		Signature:   cred.Signature.Value,
		Mode:        cred.Mode.String(),
	})
	if err != nil {
		return err
	}

	if err := s.producer.Produce(ctx, batch...); err != nil {
		return fmt.Errorf("publish %s event: %w", TypeCredentialIssued, err)
	}
	s.logger.DebugContext(ctx, "credential events published", "fingerprint", key, "event_ids", ids)
	return nil
}
