package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher appends credential lifecycle events to a Store. By default each
// Emit writes through; WithAsyncBuffer moves persistence to a background
// writer so verification never waits on the audit store.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer queues up to size events for the background writer. Events
// emitted while the queue is full are dropped and counted.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Event, size)
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisherClock sets the clock used for events emitted without a timestamp.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.queue {
		p.persist(context.Background(), event)
	}
}

func (p *Publisher) persist(ctx context.Context, event Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"error", err,
			"action", event.Action,
			"issuer", event.Issuer,
		)
	}
}

// Emit records event. In async mode it never blocks and always returns nil;
// after Close it writes through.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.queue == nil || p.closed {
		return p.store.Append(ctx, event)
	}

	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", event.Action,
			"issuer", event.Issuer,
		)
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes queued events and stops the background writer. It is safe to
// call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.queue == nil || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

// List returns the audit trail of one credential, oldest first.
func (p *Publisher) List(ctx context.Context, fingerprint string) ([]Event, error) {
	return p.store.ListByFingerprint(ctx, fingerprint)
}
