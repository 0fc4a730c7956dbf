// Package models holds the registry's view of issuers, keys and revocations.
package models

import (
	"time"

	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
)

// IssuerKey is one registered key version of an issuer. Registering a newer
// key retires the previous active one; retired keys still verify signatures
// made under them.
type IssuerKey struct {
	Issuer       credential.IssuerID
	KeyID        credential.KeyID
	Algorithm    credential.SignatureAlgorithm
	PublicKeyPEM []byte
	RegisteredAt time.Time
	RetiredAt    *time.Time
}

// Active reports whether the key is the issuer's current signing key.
func (k IssuerKey) Active() bool {
	return k.RetiredAt == nil
}

// PublicKey parses the stored PEM into a verification key.
func (k IssuerKey) PublicKey() (*signing.PublicKey, error) {
	return signing.ParsePublicKeyPEM(k.PublicKeyPEM, k.KeyID)
}

// NewIssuerKey builds a registry entry from a validated public key.
func NewIssuerKey(issuer credential.IssuerID, pub *signing.PublicKey, registeredAt time.Time) (IssuerKey, error) {
	pemBytes, err := pub.MarshalPEM()
	if err != nil {
		return IssuerKey{}, err
	}
	return IssuerKey{
		Issuer:       issuer,
		KeyID:        pub.KeyID(),
		Algorithm:    pub.Algorithm(),
		PublicKeyPEM: pemBytes,
		RegisteredAt: registeredAt,
	}, nil
}

// Revocation marks a credential as no longer valid.
type Revocation struct {
	Fingerprint credential.Fingerprint
	Issuer      credential.IssuerID
	Reason      string
	RevokedAt   time.Time
}
