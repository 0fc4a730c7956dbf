//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"sumbandila/internal/credential/fingerprint"
	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/registry/models"
	"sumbandila/internal/registry/store"
	"sumbandila/pkg/platform/sentinel"
	"sumbandila/pkg/testutil"
	"sumbandila/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateRegistry(s.ctx))
}

func (s *PostgresStoreSuite) TestKeyRotation() {
	oldKey := testutil.SigningKey(s.T(), credential.AlgorithmRS256, "ptc-2023")
	newKey := testutil.SigningKey(s.T(), credential.AlgorithmES256, "ptc-2024")
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, oldKey.Public()))
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, newKey.Public()))

	active, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "")
	s.Require().NoError(err)
	s.Equal(credential.KeyID("ptc-2024"), active.KeyID())
	s.Equal(credential.AlgorithmES256, active.Algorithm())

	retired, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerPTC, "ptc-2023")
	s.Require().NoError(err)
	s.Equal(credential.AlgorithmRS256, retired.Algorithm())

	keys, err := s.store.ListKeys(s.ctx, testutil.IssuerPTC)
	s.Require().NoError(err)
	s.Require().Len(keys, 2)
	s.False(keys[0].Active())
	s.True(keys[1].Active())
}

func (s *PostgresStoreSuite) TestRegisterKeyIdempotency() {
	key := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "ptc-2023")
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))
	s.Require().NoError(s.store.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))

	other := testutil.SigningKey(s.T(), credential.AlgorithmEdDSA, "other")
	err := s.store.RegisterKey(s.ctx, testutil.IssuerPTC, other.Public().WithKeyID("ptc-2023"))
	s.ErrorIs(err, sentinel.ErrInvalidInput)

	var count int
	s.Require().NoError(s.postgres.QueryRow(s.ctx, `SELECT COUNT(*) FROM issuer_keys`).Scan(&count))
	s.Equal(1, count)
}

func (s *PostgresStoreSuite) TestUnknownIssuer() {
	_, err := s.store.ResolvePublicKey(s.ctx, testutil.IssuerForger, "")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.ListKeys(s.ctx, testutil.IssuerForger)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRevocation() {
	fp, _, err := fingerprint.Of(credential.HashV1SHA256, testutil.DiplomaRecord())
	s.Require().NoError(err)

	revoked, err := s.store.IsRevoked(s.ctx, fp)
	s.Require().NoError(err)
	s.False(revoked)

	rev := models.Revocation{Fingerprint: fp, Issuer: testutil.IssuerPTC, Reason: "issued in error"}
	s.Require().NoError(s.store.Revoke(s.ctx, rev))
	s.Require().NoError(s.store.Revoke(s.ctx, rev), "revoking twice is a no-op")

	revoked, err = s.store.IsRevoked(s.ctx, fp)
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *PostgresStoreSuite) TestRecords() {
	record := testutil.NewRecordBuilder().With("credits", 120).With("honours", true).Build()
	fp, _, err := fingerprint.Of(credential.HashV2SHA3, record)
	s.Require().NoError(err)

	_, err = s.store.FindRecord(s.ctx, fp)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.PutRecord(s.ctx, fp, record))
	found, err := s.store.FindRecord(s.ctx, fp)
	s.Require().NoError(err)

	again, _, err := fingerprint.Of(credential.HashV2SHA3, found)
	s.Require().NoError(err)
	s.True(fingerprint.Equal(fp, again), "stored record must fingerprint identically")
}

func (s *PostgresStoreSuite) TestClosedDatabaseIsUnavailable() {
	db := s.postgres.DB
	closed := store.NewPostgres(db)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := closed.IsRevoked(ctx, credential.Fingerprint{Version: 1, Hex: "00"})
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
