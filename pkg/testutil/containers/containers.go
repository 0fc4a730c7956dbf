//go:build integration

// Package containers starts the Postgres, Redis and Redpanda instances the
// integration suites run against. Each is started once per test binary and
// shared by every suite in it; Ryuk removes them when the process exits.
package containers

import (
	"context"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

type Manager struct {
	postgres lazy[*PostgresContainer]
	redis    lazy[*RedisContainer]
	kafka    lazy[*KafkaContainer]
}

var manager = sync.OnceValue(func() *Manager { return &Manager{} })

func GetManager() *Manager {
	return manager()
}

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return m.postgres.get(t, NewPostgresContainer)
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return m.redis.get(t, NewRedisContainer)
}

func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return m.kafka.get(t, NewKafkaContainer)
}

// lazy holds a container started by the first suite that asks for it.
type lazy[T any] struct {
	mu      sync.Mutex
	started bool
	value   T
}

func (l *lazy[T]) get(t *testing.T, start func(*testing.T) T) T {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		l.value = start(t)
		l.started = true
	}
	return l.value
}

// fail terminates a half-started container before failing the test.
func fail(t *testing.T, c testcontainers.Container, format string, args ...any) {
	t.Helper()
	_ = c.Terminate(context.Background())
	t.Fatalf(format, args...)
}
