package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sumbandila/internal/credential/fingerprint"
	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/registry/models"
	"sumbandila/pkg/platform/sentinel"
	"sumbandila/pkg/testutil"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestRegisterAndResolve() {
	key := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))

	s.Run("by key id", func() {
		pub, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
		s.Require().NoError(err)
		s.Equal(credential.KeyID("ptc-2023"), pub.KeyID())
		s.Equal(credential.AlgorithmEdDSA, pub.Algorithm())
	})

	s.Run("empty key id resolves the active key", func() {
		pub, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "")
		s.Require().NoError(err)
		s.Equal(credential.KeyID("ptc-2023"), pub.KeyID())
	})

	s.Run("unknown issuer and key id are not found", func() {
		_, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerForger, "")
		s.ErrorIs(err, sentinel.ErrNotFound)

		_, err = s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-1999")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestRegisterKeyValidation() {
	key := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")

	s.Run("requires issuer and key", func() {
		s.ErrorIs(s.store.RegisterKey(s.ctx, "", key.Public()), sentinel.ErrInvalidInput)
		s.ErrorIs(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, nil), sentinel.ErrInvalidInput)
		s.ErrorIs(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public().WithKeyID("")), sentinel.ErrInvalidInput)
	})

	s.Run("re-registering the same key version is a no-op", func() {
		s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))
		s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))

		keys, err := s.store.ListKeys(s.ctx, testutil.IssuerPTC)
		s.Require().NoError(err)
		s.Len(keys, 1)
	})

	s.Run("reusing a key id for other key material is rejected", func() {
		other := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "other")
		err := s.store.RegisterKey(s.ctx, testutil.IssuerPTC, other.Public().WithKeyID("ptc-2023"))
		s.ErrorIs(err, sentinel.ErrInvalidInput)
	})
}

func (s *InMemoryStoreSuite) TestRotation() {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return clock }

	oldKey := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")
	newKey := testutil.SigningKey(s.T(), credential.AlgorithmES256, "ptc-2024")
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, oldKey.Public()))
	clock = clock.Add(24 * time.Hour)
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, newKey.Public()))

	active, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "")
	s.Require().NoError(err)
	s.Equal(credential.KeyID("ptc-2024"), active.KeyID())

	retired, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
	s.Require().NoError(err, "retired keys stay resolvable")
	s.Equal(credential.AlgorithmEdDSA, retired.Algorithm())

	keys, err := s.store.ListKeys(s.ctx, testutil.IssuerPTC)
	s.Require().NoError(err)
	s.Require().Len(keys, 2)
	s.False(keys[0].Active())
	s.Equal(clock, *keys[0].RetiredAt)
	s.True(keys[1].Active())
}

func (s *InMemoryStoreSuite) TestRevocation() {
	fp, _, err := fingerprint.Of(credential.HashV1SHA256, testutil.DiplomaRecord())
	s.Require().NoError(err)

	revoked, err := s.store.IsRevoked(s.ctx, fp)
	s.Require().NoError(err)
	s.False(revoked)

	s.Require().NoError(s.store.Revoke(s.ctx, models.Revocation{Fingerprint: fp, Issuer: testutil.IssuerPTC, Reason: "issued in error"}))
	s.Require().NoError(s.store.Revoke(s.ctx, models.Revocation{Fingerprint: fp, Reason: "duplicate"}))

	revoked, err = s.store.IsRevoked(s.ctx, fp)
	s.Require().NoError(err)
	s.True(revoked)
	s.Equal("issued in error", s.store.revocations[fp.Tagged()].Reason)

	s.Run("same digest under another hash version is a different credential", func() {
		other := credential.Fingerprint{Version: credential.HashV2SHA3, Hex: fp.Hex}
		revoked, err := s.store.IsRevoked(s.ctx, other)
		s.Require().NoError(err)
		s.False(revoked)
	})

	s.Run("zero fingerprint is rejected", func() {
		s.ErrorIs(s.store.Revoke(s.ctx, models.Revocation{}), sentinel.ErrInvalidInput)
	})
}

func (s *InMemoryStoreSuite) TestRecords() {
	record := testutil.DiplomaRecord()
	fp, _, err := fingerprint.Of(credential.HashV1SHA256, record)
	s.Require().NoError(err)

	_, err = s.store.FindRecord(s.ctx, fp)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.PutRecord(s.ctx, fp, record))
	record["name"] = "Jane Doe"

	found, err := s.store.FindRecord(s.ctx, fp)
	s.Require().NoError(err)
	s.Equal("John Doe", found["name"], "stored record is isolated from caller mutation")

	found["name"] = "Mallory"
	again, err := s.store.FindRecord(s.ctx, fp)
	s.Require().NoError(err)
	s.Equal("John Doe", again["name"])

	s.ErrorIs(s.store.PutRecord(s.ctx, credential.Fingerprint{}, record), sentinel.ErrInvalidInput)
}

func (s *InMemoryStoreSuite) TestConcurrentRegistration() {
	key := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")
	other := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "other")

	result := testutil.RunConcurrent(20, func(idx int) error {
		if idx%2 == 0 {
			return s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public())
		}
		return s.store.RegisterKey(s.ctx, testutil.IssuerPTC, other.Public().WithKeyID("ptc-2023"))
	})
	s.Equal(int32(20), result.Total())
	s.Equal(int32(0), result.Errors)
	s.Equal(int32(10), result.Successes, "exactly one key material wins the key id")
	s.Equal(int32(10), result.Rejected)

	keys, err := s.store.ListKeys(s.ctx, testutil.IssuerPTC)
	s.Require().NoError(err)
	s.Len(keys, 1)
}
