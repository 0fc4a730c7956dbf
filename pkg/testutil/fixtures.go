package testutil

import (
	"fmt"
	"sync"
	"testing"

	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
)

// Fixture identifiers shared across test suites.
const (
	IssuerPTC    models.IssuerID = "pretoria-technical-college"
	IssuerWits   models.IssuerID = "wits-university"
	IssuerForger models.IssuerID = "diploma-mill"
)

// DiplomaRecord returns a fresh copy of the reference diploma record.
func DiplomaRecord() models.Record {
	return models.Record{
		"name":        "John Doe",
		"course":      "Diploma in IT",
		"institution": "Pretoria Technical College",
		"date":        "2023-11-15",
	}
}

// RecordBuilder provides a fluent interface for building test records.
type RecordBuilder struct {
	record models.Record
}

// NewRecordBuilder starts from the reference diploma record.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{record: DiplomaRecord()}
}

func (b *RecordBuilder) With(key string, value any) *RecordBuilder {
	b.record[key] = value
	return b
}

func (b *RecordBuilder) Without(key string) *RecordBuilder {
	delete(b.record, key)
	return b
}

func (b *RecordBuilder) WithExpiry(value any) *RecordBuilder {
	return b.With("expiry_date", value)
}

func (b *RecordBuilder) Build() models.Record {
	return b.record
}

var (
	keyMu    sync.Mutex
	keyCache = map[string]*signing.PrivateKey{}
)

// SigningKey returns a generated key for alg and keyID. Keys are cached per
// test binary because RSA generation dominates suite runtime.
func SigningKey(t testing.TB, alg models.SignatureAlgorithm, keyID models.KeyID) *signing.PrivateKey {
	t.Helper()
	cacheKey := fmt.Sprintf("%s/%s", alg, keyID)

	keyMu.Lock()
	defer keyMu.Unlock()
	if key, ok := keyCache[cacheKey]; ok {
		return key
	}
	key, err := signing.GenerateKey(alg, keyID)
	if err != nil {
		t.Fatalf("generate %s key: %v", alg, err)
	}
	keyCache[cacheKey] = key
	return key
}
