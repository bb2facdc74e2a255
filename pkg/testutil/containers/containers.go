//go:build integration

// Package containers starts the backing services of the credentials service
// for integration tests. Each service runs once per test binary and is shared
// by every suite in the package; Ryuk reaps the containers on exit.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out the shared containers.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	kafka    *KafkaContainer
	redis    *RedisContainer
}

var manager = sync.OnceValue(func() *Manager { return &Manager{} })

// GetManager returns the process-wide Manager.
func GetManager() *Manager {
	return manager()
}

// GetPostgres returns the migrated Postgres container.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return shared(m, &m.postgres, t, NewPostgresContainer)
}

// GetKafka returns the Kafka-compatible broker.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return shared(m, &m.kafka, t, NewKafkaContainer)
}

// GetRedis returns the Redis container backing status-list locks.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return shared(m, &m.redis, t, NewRedisContainer)
}

func shared[C any](m *Manager, slot **C, t *testing.T, start func(*testing.T) *C) *C {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	if *slot == nil {
		*slot = start(t)
	}
	return *slot
}
