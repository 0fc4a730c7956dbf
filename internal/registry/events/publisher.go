package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/platform/kafka/producer"
	"sumbandila/internal/registry/models"
)

// Publisher writes backend registry events to TopicRegistry. Events are
// keyed by issuer or fingerprint so changes to one entity stay ordered.
type Publisher struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewPublisher(p Producer, topic string) *Publisher {
	if topic == "" {
		topic = TopicRegistry
	}
	return &Publisher{producer: p, topic: topic, now: time.Now}
}

// KeyRegistered publishes a new key version for issuer.
func (p *Publisher) KeyRegistered(ctx context.Context, issuer credential.IssuerID, pub *signing.PublicKey) (string, error) {
	pem, err := pub.MarshalPEM()
	if err != nil {
		return "", err
	}
	return publish(ctx, p.producer, p.topic, issuer.String(), TypeKeyRegistered, p.now(), KeyRegistered{
		Issuer:       issuer.String(),
		KeyID:        pub.KeyID().String(),
		PublicKeyPEM: string(pem),
	})
}

// CredentialRevoked publishes a revocation.
func (p *Publisher) CredentialRevoked(ctx context.Context, rev models.Revocation) (string, error) {
	at := rev.RevokedAt
	if at.IsZero() {
		at = p.now()
	}
	return publish(ctx, p.producer, p.topic, rev.Fingerprint.Tagged(), TypeCredentialRevoked, at, CredentialRevoked{
		Fingerprint: rev.Fingerprint.Tagged(),
		Issuer:      rev.Issuer.String(),
		Reason:      rev.Reason,
	})
}

// RecordStored publishes the record behind fp.
func (p *Publisher) RecordStored(ctx context.Context, fp credential.Fingerprint, record credential.Record) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return publish(ctx, p.producer, p.topic, fp.Tagged(), TypeRecordStored, p.now(), RecordStored{
		Fingerprint: fp.Tagged(),
		Record:      body,
	})
}

// message wraps data in an envelope addressed to topic.
func message(topic, key, eventType string, at time.Time, data any) (*producer.Message, string, error) {
	env, err := NewEnvelope(eventType, at, data)
	if err != nil {
		return nil, "", err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return &producer.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			HeaderEventType: eventType,
			HeaderEventID:   env.ID,
		},
	}, env.ID, nil
}

// publish produces a single event and returns its id.
func publish(ctx context.Context, p Producer, topic, key, eventType string, at time.Time, data any) (string, error) {
	msg, id, err := message(topic, key, eventType, at, data)
	if err != nil {
		return "", err
	}
	if err := p.Produce(ctx, msg); err != nil {
		return "", fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return id, nil
}
