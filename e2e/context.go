package e2e

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"sumbandila/internal/credential/issuance"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/credential/verifier"
	"sumbandila/internal/platform/kafka/consumer"
	"sumbandila/internal/platform/kafka/producer"
	"sumbandila/internal/registry/events"
	"sumbandila/internal/registry/store"
	"sumbandila/pkg/platform/sentinel"
)

// TestContext holds state between test steps. Issuers publish to an
// in-process loopback in place of Kafka; registry events are applied to the
// in-memory registry as the sync worker would apply them.
type TestContext struct {
	Registry  *store.InMemory
	Outage    *outageRegistry
	Keys      *signing.StaticKeyProvider
	Loopback  *loopbackProducer
	Publisher *events.Publisher
	Now       time.Time

	Record     models.Record
	Credential *issuance.IssuedCredential
	Verdict    models.Verdict
	LastErr    error
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	reg := store.NewInMemory()
	loop := &loopbackProducer{handler: events.NewHandler(reg)}
	return &TestContext{
		Registry:  reg,
		Outage:    &outageRegistry{InMemory: reg},
		Keys:      signing.NewStaticKeyProvider(),
		Loopback:  loop,
		Publisher: events.NewPublisher(loop, ""),
		Now:       time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (tc *TestContext) issuer() (*issuance.Service, error) {
	sink := events.NewKafkaSink(tc.Loopback, events.WithRecordPublishing(""))
	return issuance.New(tc.Keys,
		issuance.WithSink(sink),
		issuance.WithClock(func() time.Time { return tc.Now }),
	)
}

func (tc *TestContext) verifier() (*verifier.Verifier, error) {
	return verifier.New(tc.Outage,
		verifier.WithRecordSource(tc.Outage),
		verifier.WithClock(func() time.Time { return tc.Now }),
	)
}

func (tc *TestContext) present(claimed models.Record) error {
	if tc.Credential == nil {
		return fmt.Errorf("no credential has been issued")
	}
	v, err := tc.verifier()
	if err != nil {
		return err
	}
	tc.Verdict = v.VerifyPayload(context.Background(), tc.Credential.Payload, claimed)
	return nil
}

func (tc *TestContext) claimedRecord() models.Record {
	return maps.Clone(tc.Record)
}

// loopbackProducer applies registry events synchronously and keeps every
// message for inspection.
type loopbackProducer struct {
	mu      sync.Mutex
	handler *events.Handler
	sent    []*producer.Message
}

func (p *loopbackProducer) Produce(ctx context.Context, msgs ...*producer.Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, msgs...)
	p.mu.Unlock()

	for _, msg := range msgs {
		if msg.Topic != events.TopicRegistry {
			continue
		}
		err := p.handler.Handle(ctx, &consumer.Message{
			Topic:   msg.Topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: msg.Headers,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *loopbackProducer) count(topic, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.sent {
		if m.Topic == topic && m.Headers[events.HeaderEventType] == eventType {
			n++
		}
	}
	return n
}

// outageRegistry answers from the in-memory registry until it is taken down.
type outageRegistry struct {
	*store.InMemory
	mu   sync.RWMutex
	down bool
}

func (r *outageRegistry) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *outageRegistry) available() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.down {
		return sentinel.ErrUnavailable
	}
	return nil
}

func (r *outageRegistry) ResolvePublicKey(ctx context.Context, issuer models.IssuerID, keyID models.KeyID) (*signing.PublicKey, error) {
	if err := r.available(); err != nil {
		return nil, err
	}
	return r.InMemory.ResolvePublicKey(ctx, issuer, keyID)
}

func (r *outageRegistry) IsRevoked(ctx context.Context, fp models.Fingerprint) (bool, error) {
	if err := r.available(); err != nil {
		return false, err
	}
	return r.InMemory.IsRevoked(ctx, fp)
}

func (r *outageRegistry) FindRecord(ctx context.Context, fp models.Fingerprint) (models.Record, error) {
	if err := r.available(); err != nil {
		return nil, err
	}
	return r.InMemory.FindRecord(ctx, fp)
}
