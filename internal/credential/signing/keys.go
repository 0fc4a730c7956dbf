package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
	"sumbandila/pkg/platform/sentinel"
)

// MinRSABits is the smallest RSA modulus accepted for signing or verification.
const MinRSABits = 2048

// PrivateKey is a validated signing key bound to its algorithm and key version.
// Holders pass it explicitly; nothing in this package retains it.
type PrivateKey struct {
	alg    models.SignatureAlgorithm
	keyID  models.KeyID
	signer crypto.Signer
}

func (k *PrivateKey) Algorithm() models.SignatureAlgorithm { return k.alg }
func (k *PrivateKey) KeyID() models.KeyID                  { return k.keyID }

// Public returns the matching verification key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{alg: k.alg, keyID: k.keyID, key: k.signer.Public()}
}

// MarshalPEM encodes the key as a PKCS#8 "PRIVATE KEY" block.
func (k *PrivateKey) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.signer)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKey is a validated verification key bound to its algorithm and key version.
type PublicKey struct {
	alg   models.SignatureAlgorithm
	keyID models.KeyID
	key   crypto.PublicKey
}

func (k *PublicKey) Algorithm() models.SignatureAlgorithm { return k.alg }
func (k *PublicKey) KeyID() models.KeyID                  { return k.keyID }

// WithKeyID returns a copy of the key labelled with a different key version.
func (k *PublicKey) WithKeyID(keyID models.KeyID) *PublicKey {
	return &PublicKey{alg: k.alg, keyID: keyID, key: k.key}
}

// MarshalPEM encodes the key as a PKIX "PUBLIC KEY" block.
func (k *PublicKey) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM loads a PEM private key (PKCS#1, SEC 1 or PKCS#8) and
// infers its algorithm from the key type.
func ParsePrivateKeyPEM(data []byte, keyID models.KeyID) (*PrivateKey, error) {
	if rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		if err := checkRSA(&rsaKey.PublicKey); err != nil {
			return nil, err
		}
		return &PrivateKey{alg: models.AlgorithmRS256, keyID: keyID, signer: rsaKey}, nil
	}
	if ecKey, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		if err := checkEC(&ecKey.PublicKey); err != nil {
			return nil, err
		}
		return &PrivateKey{alg: models.AlgorithmES256, keyID: keyID, signer: ecKey}, nil
	}
	if edKey, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		signer, ok := edKey.(ed25519.PrivateKey)
		if !ok {
			return nil, invalidKey("unsupported private key type")
		}
		return &PrivateKey{alg: models.AlgorithmEdDSA, keyID: keyID, signer: signer}, nil
	}
	return nil, invalidKey("unrecognised private key encoding")
}

// ParsePublicKeyPEM loads a PKIX public key or certificate in PEM form.
func ParsePublicKeyPEM(data []byte, keyID models.KeyID) (*PublicKey, error) {
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		if err := checkRSA(rsaKey); err != nil {
			return nil, err
		}
		return &PublicKey{alg: models.AlgorithmRS256, keyID: keyID, key: rsaKey}, nil
	}
	if ecKey, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		if err := checkEC(ecKey); err != nil {
			return nil, err
		}
		return &PublicKey{alg: models.AlgorithmES256, keyID: keyID, key: ecKey}, nil
	}
	if edKey, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		pub, ok := edKey.(ed25519.PublicKey)
		if !ok {
			return nil, invalidKey("unsupported public key type")
		}
		return &PublicKey{alg: models.AlgorithmEdDSA, keyID: keyID, key: pub}, nil
	}
	return nil, invalidKey("unrecognised public key encoding")
}

// GenerateKey creates a fresh key for alg. An empty keyID gets a random one.
func GenerateKey(alg models.SignatureAlgorithm, keyID models.KeyID) (*PrivateKey, error) {
	if keyID == "" {
		keyID = models.KeyID(uuid.NewString())
	}
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case models.AlgorithmRS256:
		signer, err = rsa.GenerateKey(rand.Reader, MinRSABits)
	case models.AlgorithmES256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case models.AlgorithmEdDSA:
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, invalidKey(fmt.Sprintf("unsupported signature algorithm %q", alg))
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", alg, err)
	}
	return &PrivateKey{alg: alg, keyID: keyID, signer: signer}, nil
}

func checkRSA(pub *rsa.PublicKey) error {
	if pub.N.BitLen() < MinRSABits {
		return invalidKey(fmt.Sprintf("RSA key must be at least %d bits", MinRSABits))
	}
	return nil
}

func checkEC(pub *ecdsa.PublicKey) error {
	if pub.Curve != elliptic.P256() {
		return invalidKey("ECDSA key must use curve P-256")
	}
	return nil
}

func invalidKey(msg string) error {
	return dErrors.New(dErrors.CodeInvalidKey, msg)
}

// KeyProvider hands out an issuer's current signing key. Issuance asks for
// the key on every call instead of holding it.
type KeyProvider interface {
	SigningKey(ctx context.Context, issuer models.IssuerID) (*PrivateKey, error)
}

// StaticKeyProvider serves keys held in memory, for tools and tests.
type StaticKeyProvider struct {
	mu   sync.RWMutex
	keys map[models.IssuerID]*PrivateKey
}

func NewStaticKeyProvider() *StaticKeyProvider {
	return &StaticKeyProvider{keys: make(map[models.IssuerID]*PrivateKey)}
}

// Set installs key as the issuer's active signing key.
func (p *StaticKeyProvider) Set(issuer models.IssuerID, key *PrivateKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[issuer] = key
}

func (p *StaticKeyProvider) SigningKey(_ context.Context, issuer models.IssuerID) (*PrivateKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.keys[issuer]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return key, nil
}
