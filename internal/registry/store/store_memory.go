package store

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/registry/models"
	"sumbandila/pkg/platform/sentinel"
)

// InMemory is a thread-safe registry for tests, the CLI and single-process
// deployments. It serves keys, revocations and records.
type InMemory struct {
	mu          sync.RWMutex
	keys        map[credential.IssuerID][]models.IssuerKey
	parsed      map[keyRef]*signing.PublicKey
	revocations map[string]models.Revocation
	records     map[string]credential.Record
	now         func() time.Time
}

type keyRef struct {
	issuer credential.IssuerID
	keyID  credential.KeyID
}

func NewInMemory() *InMemory {
	return &InMemory{
		keys:        make(map[credential.IssuerID][]models.IssuerKey),
		parsed:      make(map[keyRef]*signing.PublicKey),
		revocations: make(map[string]models.Revocation),
		records:     make(map[string]credential.Record),
		now:         time.Now,
	}
}

// RegisterKey makes pub the issuer's active key and retires the previous
// one. Registering the same key version again is a no-op; reusing a key ID
// for different key material is rejected.
func (s *InMemory) RegisterKey(_ context.Context, issuer credential.IssuerID, pub *signing.PublicKey) error {
	if issuer.IsNil() || pub == nil || pub.KeyID() == "" {
		return sentinel.ErrInvalidInput
	}
	entry, err := models.NewIssuerKey(issuer, pub, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.keys[issuer]
	if i := slices.IndexFunc(existing, func(k models.IssuerKey) bool { return k.KeyID == entry.KeyID }); i >= 0 {
		if bytes.Equal(existing[i].PublicKeyPEM, entry.PublicKeyPEM) {
			return nil
		}
		return sentinel.ErrInvalidInput
	}
	for i := range existing {
		if existing[i].RetiredAt == nil {
			retired := entry.RegisteredAt
			existing[i].RetiredAt = &retired
		}
	}
	s.keys[issuer] = append(existing, entry)
	s.parsed[keyRef{issuer, entry.KeyID}] = pub
	return nil
}

func (s *InMemory) ResolvePublicKey(_ context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if keyID == "" {
		active, ok := lo.Find(s.keys[issuer], models.IssuerKey.Active)
		if !ok {
			return nil, sentinel.ErrNotFound
		}
		keyID = active.KeyID
	}
	pub, ok := s.parsed[keyRef{issuer, keyID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return pub, nil
}

// ListKeys returns an issuer's key history, oldest first.
func (s *InMemory) ListKeys(_ context.Context, issuer credential.IssuerID) ([]models.IssuerKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, ok := s.keys[issuer]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return slices.Clone(keys), nil
}

// Revoke marks fp as revoked. Revoking twice keeps the first revocation.
func (s *InMemory) Revoke(_ context.Context, rev models.Revocation) error {
	if rev.Fingerprint.IsZero() {
		return sentinel.ErrInvalidInput
	}
	if rev.RevokedAt.IsZero() {
		rev.RevokedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revocations[rev.Fingerprint.Tagged()]; !ok {
		s.revocations[rev.Fingerprint.Tagged()] = rev
	}
	return nil
}

func (s *InMemory) IsRevoked(_ context.Context, fp credential.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revocations[fp.Tagged()]
	return ok, nil
}

// PutRecord stores the record behind fp for compact payload lookups.
func (s *InMemory) PutRecord(_ context.Context, fp credential.Fingerprint, record credential.Record) error {
	if fp.IsZero() || record == nil {
		return sentinel.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[fp.Tagged()] = record.Clone()
	return nil
}

func (s *InMemory) FindRecord(_ context.Context, fp credential.Fingerprint) (credential.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fp.Tagged()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}
