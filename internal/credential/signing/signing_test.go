package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/models"
	dErrors "sumbandila/pkg/domain-errors"
	"sumbandila/pkg/platform/sentinel"
)

var allAlgorithms = []models.SignatureAlgorithm{
	models.AlgorithmRS256,
	models.AlgorithmES256,
	models.AlgorithmEdDSA,
}

type SigningSuite struct {
	suite.Suite
	fp   models.Fingerprint
	keys map[models.SignatureAlgorithm]*PrivateKey
}

func TestSigningSuite(t *testing.T) {
	suite.Run(t, new(SigningSuite))
}

func (s *SigningSuite) SetupSuite() {
	fp, _, err := fingerprint.Of(models.DefaultHashVersion, models.Record{
		"name":        "John Doe",
		"course":      "Diploma in IT",
		"institution": "Pretoria Technical College",
		"date":        "2023-11-15",
	})
	s.Require().NoError(err)
	s.fp = fp

	s.keys = make(map[models.SignatureAlgorithm]*PrivateKey)
	for _, alg := range allAlgorithms {
		key, err := GenerateKey(alg, models.KeyID("k-"+string(alg)))
		s.Require().NoError(err)
		s.keys[alg] = key
	}
}

func (s *SigningSuite) TestRoundTrip() {
	for _, alg := range allAlgorithms {
		s.Run(string(alg), func() {
			key := s.keys[alg]
			sig, err := Sign(s.fp, key)
			s.Require().NoError(err)
			s.Equal(alg, sig.Algorithm)
			s.Equal(key.KeyID(), sig.KeyID)

			s.NoError(Verify(s.fp, sig, key.Public()))
		})
	}
}

func (s *SigningSuite) TestDeterminism() {
	s.Run("RS256 and EdDSA repeat exactly", func() {
		for _, alg := range []models.SignatureAlgorithm{models.AlgorithmRS256, models.AlgorithmEdDSA} {
			a, err := Sign(s.fp, s.keys[alg])
			s.Require().NoError(err)
			b, err := Sign(s.fp, s.keys[alg])
			s.Require().NoError(err)
			s.Equal(a.Value, b.Value, string(alg))
		}
	})

	s.Run("ES256 is randomised but both signatures verify", func() {
		key := s.keys[models.AlgorithmES256]
		a, err := Sign(s.fp, key)
		s.Require().NoError(err)
		b, err := Sign(s.fp, key)
		s.Require().NoError(err)

		s.NotEqual(a.Value, b.Value)
		s.NoError(Verify(s.fp, a, key.Public()))
		s.NoError(Verify(s.fp, b, key.Public()))

		raw, err := base64.StdEncoding.DecodeString(a.Value)
		s.Require().NoError(err)
		s.Len(raw, 64)
	})
}

func (s *SigningSuite) TestVerifyRejects() {
	key := s.keys[models.AlgorithmRS256]
	sig, err := Sign(s.fp, key)
	s.Require().NoError(err)

	s.Run("tampered fingerprint", func() {
		other, _, err := fingerprint.Of(models.DefaultHashVersion, models.Record{"name": "Jane Doe"})
		s.Require().NoError(err)
		s.True(dErrors.HasCode(Verify(other, sig, key.Public()), dErrors.CodeSignatureMismatch))
	})

	s.Run("signature from a forged key", func() {
		forger, err := GenerateKey(models.AlgorithmRS256, key.KeyID())
		s.Require().NoError(err)
		forged, err := Sign(s.fp, forger)
		s.Require().NoError(err)
		s.True(dErrors.HasCode(Verify(s.fp, forged, key.Public()), dErrors.CodeSignatureMismatch))
	})

	s.Run("corrupted signature bytes", func() {
		raw, _ := base64.StdEncoding.DecodeString(sig.Value)
		raw[len(raw)-1] ^= 0x01
		corrupted := sig
		corrupted.Value = base64.StdEncoding.EncodeToString(raw)
		s.True(dErrors.HasCode(Verify(s.fp, corrupted, key.Public()), dErrors.CodeSignatureMismatch))
	})

	s.Run("invalid base64", func() {
		bad := sig
		bad.Value = "not base64!"
		s.True(dErrors.HasCode(Verify(s.fp, bad, key.Public()), dErrors.CodeSignatureMismatch))
	})

	s.Run("algorithm disagreement", func() {
		s.True(dErrors.HasCode(Verify(s.fp, sig, s.keys[models.AlgorithmEdDSA].Public()), dErrors.CodeSignatureMismatch))
	})

	s.Run("key version disagreement", func() {
		s.True(dErrors.HasCode(Verify(s.fp, sig, key.Public().WithKeyID("k-other")), dErrors.CodeSignatureMismatch))
	})

	s.Run("missing key", func() {
		s.True(dErrors.HasCode(Verify(s.fp, sig, nil), dErrors.CodeSignatureMismatch))
	})
}

func (s *SigningSuite) TestSignRejects() {
	_, err := Sign(s.fp, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))

	_, err = Sign(models.Fingerprint{}, s.keys[models.AlgorithmRS256])
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *SigningSuite) TestPEM() {
	for _, alg := range allAlgorithms {
		s.Run("round trips "+string(alg), func() {
			key := s.keys[alg]
			privPEM, err := key.MarshalPEM()
			s.Require().NoError(err)
			pubPEM, err := key.Public().MarshalPEM()
			s.Require().NoError(err)

			parsedPriv, err := ParsePrivateKeyPEM(privPEM, key.KeyID())
			s.Require().NoError(err)
			s.Equal(alg, parsedPriv.Algorithm())

			parsedPub, err := ParsePublicKeyPEM(pubPEM, key.KeyID())
			s.Require().NoError(err)
			s.Equal(alg, parsedPub.Algorithm())

			sig, err := Sign(s.fp, parsedPriv)
			s.Require().NoError(err)
			s.NoError(Verify(s.fp, sig, parsedPub))
		})
	}

	s.Run("RSA below 2048 bits is rejected", func() {
		weak, err := rsa.GenerateKey(rand.Reader, 1024)
		s.Require().NoError(err)
		der := x509.MarshalPKCS1PrivateKey(weak)
		_, err = ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), "weak")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))

		pubDER, err := x509.MarshalPKIXPublicKey(&weak.PublicKey)
		s.Require().NoError(err)
		_, err = ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), "weak")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})

	s.Run("ECDSA curves other than P-256 are rejected", func() {
		p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		s.Require().NoError(err)
		der, err := x509.MarshalPKCS8PrivateKey(p384)
		s.Require().NoError(err)
		_, err = ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), "p384")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})

	s.Run("garbage is rejected", func() {
		_, err := ParsePrivateKeyPEM([]byte("not a key"), "x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))
		_, err = ParsePublicKeyPEM([]byte("not a key"), "x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))
	})
}

func (s *SigningSuite) TestGenerateKey() {
	key, err := GenerateKey(models.AlgorithmEdDSA, "")
	s.Require().NoError(err)
	s.NotEmpty(key.KeyID())

	_, err = GenerateKey("HS256", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidKey))
}

func (s *SigningSuite) TestStaticKeyProvider() {
	provider := NewStaticKeyProvider()
	_, err := provider.SigningKey(context.Background(), "pretoria-technical-college")
	s.ErrorIs(err, sentinel.ErrNotFound)

	provider.Set("pretoria-technical-college", s.keys[models.AlgorithmRS256])
	key, err := provider.SigningKey(context.Background(), "pretoria-technical-college")
	s.Require().NoError(err)
	s.Same(s.keys[models.AlgorithmRS256], key)
}

func (s *SigningSuite) TestConcurrentSignAndVerify() {
	var wg sync.WaitGroup
	for range 8 {
		for _, alg := range allAlgorithms {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := s.keys[alg]
				sig, err := Sign(s.fp, key)
				if s.NoError(err) {
					s.NoError(Verify(s.fp, sig, key.Public()))
				}
			}()
		}
	}
	wg.Wait()
}
