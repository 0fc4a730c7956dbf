package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/registry/metrics"
)

const (
	redisKeyPrefix    = "registry:key:"
	redisActivePrefix = "registry:active:"
	redisRecordPrefix = "registry:record:"

	defaultCacheTTL = 10 * time.Minute
)

// Backend is the authoritative registry behind the cache.
type Backend interface {
	ResolvePublicKey(ctx context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error)
	IsRevoked(ctx context.Context, fp credential.Fingerprint) (bool, error)
	FindRecord(ctx context.Context, fp credential.Fingerprint) (credential.Record, error)
}

// RedisKeyCache is a read-through cache in front of a Backend. Key versions
// and records are immutable once registered, so they are cached with a TTL.
// The active-key pointer changes on rotation and is invalidated explicitly.
// Revocation status is never cached: IsRevoked always reaches the backend.
//
// Redis failures fall through to the backend; the cache never turns a
// healthy backend answer into an error.
type RedisKeyCache struct {
	client  *redis.Client
	next    Backend
	ttl     time.Duration
	metrics *metrics.Metrics
}

type cachedKey struct {
	Algorithm string `json:"alg"`
	PEM       string `json:"pem"`
}

// NewRedisKeyCache wraps next with a Redis cache. metrics may be nil.
func NewRedisKeyCache(client *redis.Client, next Backend, ttl time.Duration, m *metrics.Metrics) *RedisKeyCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisKeyCache{client: client, next: next, ttl: ttl, metrics: m}
}

func keyCacheKey(issuer credential.IssuerID, keyID credential.KeyID) string {
	return redisKeyPrefix + issuer.String() + ":" + keyID.String()
}

func activeCacheKey(issuer credential.IssuerID) string {
	return redisActivePrefix + issuer.String()
}

func recordCacheKey(fp credential.Fingerprint) string {
	return redisRecordPrefix + fp.Tagged()
}

func (c *RedisKeyCache) ResolvePublicKey(ctx context.Context, issuer credential.IssuerID, keyID credential.KeyID) (*signing.PublicKey, error) {
	if keyID == "" {
		active, err := c.activeKeyID(ctx, issuer)
		if err != nil {
			return nil, err
		}
		keyID = active
	}

	start := time.Now()
	data, err := c.client.Get(ctx, keyCacheKey(issuer, keyID)).Bytes()
	switch {
	case err == nil:
		var entry cachedKey
		if jsonErr := json.Unmarshal(data, &entry); jsonErr == nil {
			if pub, parseErr := signing.ParsePublicKeyPEM([]byte(entry.PEM), keyID); parseErr == nil {
				c.metrics.RecordCacheHit("key", time.Since(start).Seconds())
				return pub, nil
			}
		}
		c.metrics.RecordCacheError("key")
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheMiss("key", time.Since(start).Seconds())
	default:
		c.metrics.RecordCacheError("key")
	}

	pub, err := c.next.ResolvePublicKey(ctx, issuer, keyID)
	if err != nil {
		return nil, err
	}
	if pemBytes, err := pub.MarshalPEM(); err == nil {
		if data, err := json.Marshal(cachedKey{Algorithm: string(pub.Algorithm()), PEM: string(pemBytes)}); err == nil {
			c.client.Set(ctx, keyCacheKey(issuer, keyID), data, c.ttl) //nolint:errcheck // best-effort fill
		}
	}
	return pub, nil
}

// activeKeyID resolves which key version is currently active for issuer.
func (c *RedisKeyCache) activeKeyID(ctx context.Context, issuer credential.IssuerID) (credential.KeyID, error) {
	start := time.Now()
	cached, err := c.client.Get(ctx, activeCacheKey(issuer)).Result()
	switch {
	case err == nil && cached != "":
		c.metrics.RecordCacheHit("active", time.Since(start).Seconds())
		return credential.KeyID(cached), nil
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheMiss("active", time.Since(start).Seconds())
	default:
		c.metrics.RecordCacheError("active")
	}

	pub, err := c.next.ResolvePublicKey(ctx, issuer, "")
	if err != nil {
		return "", err
	}
	c.client.Set(ctx, activeCacheKey(issuer), pub.KeyID().String(), c.ttl) //nolint:errcheck // best-effort fill
	return pub.KeyID(), nil
}

// IsRevoked always consults the backend.
func (c *RedisKeyCache) IsRevoked(ctx context.Context, fp credential.Fingerprint) (bool, error) {
	return c.next.IsRevoked(ctx, fp)
}

func (c *RedisKeyCache) FindRecord(ctx context.Context, fp credential.Fingerprint) (credential.Record, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, recordCacheKey(fp)).Bytes()
	switch {
	case err == nil:
		if got, fpErr := fingerprint.Compute(fp.Version, data); fpErr == nil && fingerprint.Equal(got, fp) {
			if record, parseErr := canonical.Parse(data); parseErr == nil {
				c.metrics.RecordCacheHit("record", time.Since(start).Seconds())
				return record, nil
			}
		}
		c.metrics.RecordCacheError("record")
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheMiss("record", time.Since(start).Seconds())
	default:
		c.metrics.RecordCacheError("record")
	}

	record, err := c.next.FindRecord(ctx, fp)
	if err != nil {
		return nil, err
	}
	if form, err := canonical.Canonicalize(record); err == nil {
		c.client.Set(ctx, recordCacheKey(fp), []byte(form), c.ttl) //nolint:errcheck // best-effort fill
	}
	return record, nil
}

// InvalidateActive drops the cached active-key pointer for issuer. The sync
// worker calls it after registering a new key version.
func (c *RedisKeyCache) InvalidateActive(ctx context.Context, issuer credential.IssuerID) error {
	if err := c.client.Del(ctx, activeCacheKey(issuer)).Err(); err != nil {
		return err
	}
	c.metrics.IncrementInvalidations()
	return nil
}
