package models

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	dErrors "sumbandila/pkg/domain-errors"
)

const (
	maxIssuerIDLen = 128
	maxKeyIDLen    = 64

	fingerprintTagPrefix = "fp"
)

// Record is the semantic content of a credential: subject, qualification,
// institution, award date and so on. Values are primitives (string, number,
// bool, nil) or, under the nested rule, maps and lists of primitives.
type Record map[string]any

// Clone returns a deep copy of r. Nested maps and lists are copied so the
// clone shares no mutable state with r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Field is a single key/value pair from an ordered source. Ordered input is
// what lets duplicate keys be detected before canonicalization.
type Field struct {
	Key   string
	Value any
}

// CanonicalForm is the deterministic byte encoding of a Record.
type CanonicalForm []byte

// HashVersion identifies the canonical encoding and digest used to compute a
// fingerprint. Every fingerprint carries its version so verification knows
// which hash to recompute.
type HashVersion uint8

const (
	// HashV1SHA256 is canonical/1 hashed with SHA-256.
	HashV1SHA256 HashVersion = 1
	// HashV2SHA3 is canonical/1 hashed with SHA3-256.
	HashV2SHA3 HashVersion = 2

	// DefaultHashVersion is used when callers do not pick one.
	DefaultHashVersion = HashV1SHA256
)

// DigestSize returns the digest length in bytes, or 0 for unknown versions.
func (v HashVersion) DigestSize() int {
	switch v {
	case HashV1SHA256, HashV2SHA3:
		return 32
	default:
		return 0
	}
}

// IsValid reports whether the version is supported.
func (v HashVersion) IsValid() bool {
	return v.DigestSize() > 0
}

func (v HashVersion) String() string {
	switch v {
	case HashV1SHA256:
		return "sha256"
	case HashV2SHA3:
		return "sha3-256"
	default:
		return "unknown"
	}
}

// ParseHashVersion accepts either the numeric version or the digest name.
func ParseHashVersion(value string) (HashVersion, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "1", "sha256":
		return HashV1SHA256, nil
	case "2", "sha3-256", "sha3":
		return HashV2SHA3, nil
	default:
		return 0, dErrors.New(dErrors.CodeInvalidInput, "unsupported hash version")
	}
}

// Fingerprint is the digest of a CanonicalForm, tagged with its hash version.
type Fingerprint struct {
	Version HashVersion
	Hex     string
}

// String returns the lowercase hex digest. This is the value that gets signed.
func (f Fingerprint) String() string {
	return f.Hex
}

// Tagged returns the digest prefixed with its version, e.g. "fp1:ab12...".
func (f Fingerprint) Tagged() string {
	return fingerprintTagPrefix + strconv.Itoa(int(f.Version)) + ":" + f.Hex
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f.Hex == ""
}

// Bytes decodes the hex digest.
func (f Fingerprint) Bytes() ([]byte, error) {
	return hex.DecodeString(f.Hex)
}

// ParseFingerprint accepts a tagged fingerprint ("fp1:<hex>") or a bare hex
// digest, which is assumed to use the default hash version.
func ParseFingerprint(value string) (Fingerprint, error) {
	version := DefaultHashVersion
	digest := value
	if tag, rest, ok := strings.Cut(value, ":"); ok {
		n, err := strconv.Atoi(strings.TrimPrefix(tag, fingerprintTagPrefix))
		if err != nil || !strings.HasPrefix(tag, fingerprintTagPrefix) || n < 0 || n > 255 {
			return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "invalid fingerprint tag")
		}
		version = HashVersion(n)
		digest = rest
	}
	if !version.IsValid() {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported hash version")
	}
	if len(digest) != version.DigestSize()*2 {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint has wrong length")
	}
	if strings.ToLower(digest) != digest {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint must be lowercase hex")
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint must be lowercase hex")
	}
	return Fingerprint{Version: version, Hex: digest}, nil
}

// FingerprintFromDigest builds a fingerprint from raw digest bytes.
func FingerprintFromDigest(version HashVersion, digest []byte) (Fingerprint, error) {
	if !version.IsValid() {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported hash version")
	}
	if len(digest) != version.DigestSize() {
		return Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "digest has wrong length")
	}
	return Fingerprint{Version: version, Hex: hex.EncodeToString(digest)}, nil
}

// SignatureAlgorithm names the signing scheme carried alongside a signature.
type SignatureAlgorithm string

const (
	// AlgorithmRS256 is RSA PKCS#1 v1.5 with SHA-256. Deterministic.
	AlgorithmRS256 SignatureAlgorithm = "RS256"
	// AlgorithmES256 is ECDSA P-256 with SHA-256. Randomised: signing the same
	// fingerprint twice yields different signatures, both of which verify.
	AlgorithmES256 SignatureAlgorithm = "ES256"
	// AlgorithmEdDSA is Ed25519. Deterministic.
	AlgorithmEdDSA SignatureAlgorithm = "EdDSA"

	DefaultSignatureAlgorithm = AlgorithmRS256
)

// IsValid reports whether the algorithm is supported.
func (a SignatureAlgorithm) IsValid() bool {
	switch a {
	case AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA:
		return true
	default:
		return false
	}
}

// ParseSignatureAlgorithm validates an algorithm identifier.
func ParseSignatureAlgorithm(value string) (SignatureAlgorithm, error) {
	if strings.TrimSpace(value) == "" {
		return DefaultSignatureAlgorithm, nil
	}
	alg := SignatureAlgorithm(value)
	if !alg.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported signature algorithm %q", value))
	}
	return alg, nil
}

// IssuerID identifies an issuing authority (institution or registry).
type IssuerID string

// ParseIssuerID validates an issuer identifier at a trust boundary.
func ParseIssuerID(value string) (IssuerID, error) {
	if strings.TrimSpace(value) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "issuer is required")
	}
	if len(value) > maxIssuerIDLen || !utf8.ValidString(value) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid issuer format")
	}
	return IssuerID(value), nil
}

func (id IssuerID) String() string { return string(id) }
func (id IssuerID) IsNil() bool    { return id == "" }

// KeyID labels one key version of an issuer. Rotation introduces a new KeyID
// while older ones stay resolvable for signatures made under them.
type KeyID string

// ParseKeyID validates a key identifier. Empty means "the issuer's active key".
func ParseKeyID(value string) (KeyID, error) {
	if len(value) > maxKeyIDLen || !utf8.ValidString(value) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid key id format")
	}
	return KeyID(value), nil
}

func (id KeyID) String() string { return string(id) }

// Signature is an issuer's signature over a fingerprint's hex string.
type Signature struct {
	Algorithm SignatureAlgorithm
	KeyID     KeyID
	// Value is the standard base64 encoding of the raw signature bytes.
	Value string
}
