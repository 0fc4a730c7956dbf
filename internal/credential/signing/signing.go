// Package signing signs and verifies credential fingerprints.
//
// The signed message is the fingerprint's lowercase hex string, never the
// record itself. RS256 and EdDSA signatures are deterministic; ES256 is
// randomised, so signing the same fingerprint twice gives two different
// signatures that both verify.
package signing

import (
	"encoding/base64"

	"github.com/golang-jwt/jwt/v5"

	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
)

func methodFor(alg models.SignatureAlgorithm) (jwt.SigningMethod, bool) {
	switch alg {
	case models.AlgorithmRS256:
		return jwt.SigningMethodRS256, true
	case models.AlgorithmES256:
		return jwt.SigningMethodES256, true
	case models.AlgorithmEdDSA:
		return jwt.SigningMethodEdDSA, true
	default:
		return nil, false
	}
}

// Sign produces the issuer's signature over fp.
func Sign(fp models.Fingerprint, key *PrivateKey) (models.Signature, error) {
	if key == nil || key.signer == nil {
		return models.Signature{}, invalidKey("signing key is required")
	}
	if fp.IsZero() {
		return models.Signature{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint is required")
	}
	method, ok := methodFor(key.alg)
	if !ok {
		return models.Signature{}, invalidKey("unsupported signature algorithm")
	}
	raw, err := method.Sign(fp.Hex, key.signer)
	if err != nil {
		return models.Signature{}, dErrors.Wrap(err, dErrors.CodeInvalidKey, "sign fingerprint")
	}
	return models.Signature{
		Algorithm: key.alg,
		KeyID:     key.keyID,
		Value:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// Verify checks sig over fp against pub. Every failure, whether a bad
// encoding, an algorithm or key version disagreement or a cryptographic
// mismatch, is reported as a signature mismatch.
func Verify(fp models.Fingerprint, sig models.Signature, pub *PublicKey) error {
	if pub == nil || pub.key == nil {
		return mismatch("no verification key")
	}
	if sig.Algorithm != pub.alg {
		return mismatch("signature algorithm does not match issuer key")
	}
	if sig.KeyID != "" && pub.keyID != "" && sig.KeyID != pub.keyID {
		return mismatch("signature key version does not match issuer key")
	}
	method, ok := methodFor(sig.Algorithm)
	if !ok {
		return mismatch("unsupported signature algorithm")
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil || len(raw) == 0 {
		return mismatch("signature is not valid base64")
	}
	if err := method.Verify(fp.Hex, raw, pub.key); err != nil {
		return mismatch("signature does not match fingerprint")
	}
	return nil
}

func mismatch(msg string) error {
	return dErrors.New(dErrors.CodeSignatureMismatch, msg)
}
