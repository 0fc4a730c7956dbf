package verifier

import (
	"context"

	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
)

// Registry is the trust anchor consulted during verification. Adapters return
// sentinel.ErrNotFound when an issuer or key is unknown and any other error
// (conventionally sentinel.ErrUnavailable) when the registry cannot answer.
type Registry interface {
	// ResolvePublicKey returns the issuer's key for keyID, or its active key
	// when keyID is empty. Retired keys stay resolvable by their KeyID.
	ResolvePublicKey(ctx context.Context, issuer models.IssuerID, keyID models.KeyID) (*signing.PublicKey, error)
	IsRevoked(ctx context.Context, fp models.Fingerprint) (bool, error)
}

// RecordSource looks up the record behind a fingerprint for compact
// payloads, which carry only the fingerprint and signature.
type RecordSource interface {
	FindRecord(ctx context.Context, fp models.Fingerprint) (models.Record, error)
}
