package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/registry/metrics"
	"sumbandila/pkg/platform/sentinel"
	"sumbandila/pkg/testutil"
)

// flakyBackend serves from an in-memory store unless err is set.
type flakyBackend struct {
	*InMemory
	err   atomic.Pointer[error]
	calls atomic.Int32
}

func (f *flakyBackend) fail(err error) { f.err.Store(&err) }
func (f *flakyBackend) heal()          { f.err.Store(nil) }

func (f *flakyBackend) current() error {
	f.calls.Add(1)
	if p := f.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (f *flakyBackend) ResolvePublicKey(ctx context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error) {
	if err := f.current(); err != nil {
		return nil, err
	}
	return f.InMemory.ResolvePublicKey(ctx, issuer, keyID)
}

func (f *flakyBackend) IsRevoked(ctx context.Context, fp credential.Fingerprint) (bool, error) {
	if err := f.current(); err != nil {
		return false, err
	}
	return f.InMemory.IsRevoked(ctx, fp)
}

func (f *flakyBackend) FindRecord(ctx context.Context, fp credential.Fingerprint) (credential.Record, error) {
	if err := f.current(); err != nil {
		return nil, err
	}
	return f.InMemory.FindRecord(ctx, fp)
}

type ResilientSuite struct {
	suite.Suite
	ctx     context.Context
	backend *flakyBackend
	clock   time.Time
	reg     *Resilient
}

func TestResilientSuite(t *testing.T) {
	suite.Run(t, new(ResilientSuite))
}

func (s *ResilientSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = &flakyBackend{InMemory: NewInMemory()}
	s.clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.reg = NewResilient(s.backend,
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithOpenTimeout(time.Minute),
		withBreakerClock(func() time.Time { return s.clock }),
		WithResilientLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	key := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")
	s.Require().NoError(s.backend.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))
}

func (s *ResilientSuite) trip() {
	s.backend.fail(sentinel.ErrUnavailable)
	for range 2 {
		_, err := s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
		s.Require().Error(err)
	}
}

func (s *ResilientSuite) TestPassesThroughWhenClosed() {
	pub, err := s.reg.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
	s.Require().NoError(err)
	s.Equal(credential.KeyID("ptc-2023"), pub.KeyID())

	_, err = s.reg.ResolvePublicKey(s.ctx, testutil.IssuerForger, "")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ResilientSuite) TestNotFoundDoesNotOpenCircuit() {
	for range 5 {
		_, err := s.reg.ResolvePublicKey(s.ctx, testutil.IssuerForger, "")
		s.ErrorIs(err, sentinel.ErrNotFound)
	}
	s.False(s.reg.cb.IsOpen())
}

func (s *ResilientSuite) TestFailsFastWhileOpen() {
	s.trip()
	s.True(s.reg.cb.IsOpen())

	s.backend.heal()
	before := s.backend.calls.Load()

	_, err := s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.ErrorIs(err, sentinel.ErrUnavailable)
	_, err = s.reg.FindRecord(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.ErrorIs(err, sentinel.ErrUnavailable)
	_, err = s.reg.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "")
	s.ErrorIs(err, sentinel.ErrUnavailable, "active key lookups have no fallback")

	s.Equal(before, s.backend.calls.Load(), "open circuit must not reach the backend")
}

func (s *ResilientSuite) TestKnownKeyServedWhileOpen() {
	_, err := s.reg.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
	s.Require().NoError(err)

	s.trip()
	pub, err := s.reg.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
	s.Require().NoError(err)
	s.Equal(credential.KeyID("ptc-2023"), pub.KeyID())
}

func (s *ResilientSuite) TestProbeClosesCircuit() {
	s.trip()
	s.backend.heal()

	s.clock = s.clock.Add(time.Minute)
	revoked, err := s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.Require().NoError(err)
	s.False(revoked)
	s.False(s.reg.cb.IsOpen())
}

func (s *ResilientSuite) TestFailedProbeKeepsCircuitOpen() {
	s.trip()
	s.clock = s.clock.Add(time.Minute)

	_, err := s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.True(errors.Is(err, sentinel.ErrUnavailable))
	s.True(s.reg.cb.IsOpen())

	_, err = s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ResilientSuite) TestCircuitStateIsExported() {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.reg = NewResilient(s.backend,
		WithFailureThreshold(2),
		WithOpenTimeout(time.Minute),
		withBreakerClock(func() time.Time { return s.clock }),
		WithResilientLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithResilientMetrics(m),
	)

	s.trip()
	s.Equal(1.0, promtest.ToFloat64(m.CircuitState.WithLabelValues("registry")))
	s.Equal(1.0, promtest.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("registry", "open")))

	s.backend.heal()
	s.clock = s.clock.Add(time.Minute)
	_, err := s.reg.IsRevoked(s.ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.Require().NoError(err)
	s.Equal(2.0, promtest.ToFloat64(m.CircuitState.WithLabelValues("registry")), "one probe is not enough to close")
	s.Equal(1.0, promtest.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("registry", "half_open")))
}
