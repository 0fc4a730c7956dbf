// Package fingerprint computes the versioned digest of a record's canonical
// form. The fingerprint is what issuers sign and what registries index.
package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/sha3"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

// Compute hashes a canonical form with the digest selected by version.
func Compute(version models.HashVersion, form models.CanonicalForm) (models.Fingerprint, error) {
	var digest []byte
	switch version {
	case models.HashV1SHA256:
		sum := sha256.Sum256(form)
		digest = sum[:]
	case models.HashV2SHA3:
		sum := sha3.Sum256(form)
		digest = sum[:]
	default:
		return models.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported hash version")
	}
	return models.FingerprintFromDigest(version, digest)
}

// Of canonicalizes record and fingerprints the result.
func Of(version models.HashVersion, record models.Record) (models.Fingerprint, models.CanonicalForm, error) {
	form, err := canonical.Canonicalize(record)
	if err != nil {
		return models.Fingerprint{}, nil, err
	}
	fp, err := Compute(version, form)
	if err != nil {
		return models.Fingerprint{}, nil, err
	}
	return fp, form, nil
}

// Equal compares two fingerprints in constant time with respect to the digest.
// Fingerprints of different versions never match.
func Equal(a, b models.Fingerprint) bool {
	if a.Version != b.Version {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.Hex), []byte(b.Hex)) == 1
}
