package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/registry/metrics"
	"sumbandila/pkg/platform/circuit"
	"sumbandila/pkg/platform/sentinel"
)

// Resilient wraps a Backend with circuit breaker protection. While the
// circuit is open, calls fail fast with sentinel.ErrUnavailable so verifiers
// answer RegistryUnavailable without waiting on a dead registry.
//
// Explicit key versions seen before are served from memory while open: a
// KeyID never changes its key material. Revocation status and active-key
// lookups have no fallback.
type Resilient struct {
	next Backend
	cb   *circuit.Breaker

	mu    sync.RWMutex
	known map[keyRef]*signing.PublicKey
}

// ResilientOption configures the resilient backend.
type ResilientOption func(*resilientConfig)

type resilientConfig struct {
	breakerOpts []circuit.Option
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// WithFailureThreshold sets the number of consecutive failures to open the circuit.
func WithFailureThreshold(n int) ResilientOption {
	return func(c *resilientConfig) {
		c.breakerOpts = append(c.breakerOpts, circuit.WithFailureThreshold(n))
	}
}

// WithSuccessThreshold sets the number of consecutive successes to close the circuit.
func WithSuccessThreshold(n int) ResilientOption {
	return func(c *resilientConfig) {
		c.breakerOpts = append(c.breakerOpts, circuit.WithSuccessThreshold(n))
	}
}

// WithOpenTimeout sets how long the circuit fails fast before probing.
func WithOpenTimeout(d time.Duration) ResilientOption {
	return func(c *resilientConfig) {
		c.breakerOpts = append(c.breakerOpts, circuit.WithOpenTimeout(d))
	}
}

func withBreakerClock(now func() time.Time) ResilientOption {
	return func(c *resilientConfig) {
		c.breakerOpts = append(c.breakerOpts, circuit.WithClock(now))
	}
}

// WithResilientLogger sets the logger for circuit transitions.
func WithResilientLogger(logger *slog.Logger) ResilientOption {
	return func(c *resilientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResilientMetrics exports the circuit state.
func WithResilientMetrics(m *metrics.Metrics) ResilientOption {
	return func(c *resilientConfig) {
		c.metrics = m
	}
}

func NewResilient(next Backend, opts ...ResilientOption) *Resilient {
	cfg := resilientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	onChange := func(name string, from, to circuit.State) {
		level := slog.LevelInfo
		if to == circuit.StateOpen {
			level = slog.LevelError
		}
		cfg.logger.Log(context.Background(), level, "registry circuit breaker "+to.String(),
			"circuit", name,
			"from", from.String(),
		)
		cfg.metrics.RecordCircuitTransition(name, int(to), to.String())
	}
	breakerOpts := append(cfg.breakerOpts, circuit.OnStateChange(onChange))
	return &Resilient{
		next:  next,
		cb:    circuit.New("registry", breakerOpts...),
		known: make(map[keyRef]*signing.PublicKey),
	}
}

func (r *Resilient) ResolvePublicKey(ctx context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error) {
	if !r.cb.Allow() {
		if pub, ok := r.lastKnown(issuer, keyID); ok {
			return pub, nil
		}
		return nil, sentinel.ErrUnavailable
	}

	pub, err := r.next.ResolvePublicKey(ctx, issuer, keyID)
	if err != nil {
		if open := r.recordFailure(err); open {
			if known, ok := r.lastKnown(issuer, keyID); ok {
				return known, nil
			}
		}
		return nil, err
	}
	r.cb.Success()

	r.mu.Lock()
	r.known[keyRef{issuer, pub.KeyID()}] = pub
	r.mu.Unlock()
	return pub, nil
}

func (r *Resilient) IsRevoked(ctx context.Context, fp credential.Fingerprint) (bool, error) {
	if !r.cb.Allow() {
		return false, sentinel.ErrUnavailable
	}
	revoked, err := r.next.IsRevoked(ctx, fp)
	if err != nil {
		r.recordFailure(err)
		return false, err
	}
	r.cb.Success()
	return revoked, nil
}

func (r *Resilient) FindRecord(ctx context.Context, fp credential.Fingerprint) (credential.Record, error) {
	if !r.cb.Allow() {
		return nil, sentinel.ErrUnavailable
	}
	record, err := r.next.FindRecord(ctx, fp)
	if err != nil {
		r.recordFailure(err)
		return nil, err
	}
	r.cb.Success()
	return record, nil
}

func (r *Resilient) lastKnown(issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, bool) {
	if keyID == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.known[keyRef{issuer, keyID}]
	return pub, ok
}

// recordFailure counts err against the circuit and reports whether the
// circuit is now open. A definitive not-found answer means the registry is
// healthy and counts as success.
func (r *Resilient) recordFailure(err error) bool {
	if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrInvalidInput) {
		r.cb.Success()
		return false
	}
	r.cb.Failure()
	return r.cb.IsOpen()
}
