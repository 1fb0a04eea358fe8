package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Store holds the current bot configuration. Every accepted update bumps the
// version; readers compare versions to detect that their snapshot went stale.
type Store interface {
	Get(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, r AdminRules) (Snapshot, error)
}

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMemoryStore seeds a MemoryStore with the default rules at version 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshot: Snapshot{Rules: DefaultRules(), Version: 1},
	}
}

func (s *MemoryStore) Get(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, nil
}

func (s *MemoryStore) Update(ctx context.Context, r AdminRules) (Snapshot, error) {
	if err := r.Validate(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{Rules: r, Version: s.snapshot.Version + 1}
	return s.snapshot, nil
}

const (
	rulesKey        = "bot:rules"
	rulesVersionKey = "bot:rules:version"
)

// RedisStore shares the configuration across nodes. The version lives in a
// separate counter so updates stay a single INCR plus SET.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("rules: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("fitcoach.internal.rules")
	}
	return &RedisStore{redis: client, tracer: tracer}
}

func (s *RedisStore) Get(ctx context.Context) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "rules.get")
	defer span.End()

	data, err := s.redis.Get(ctx, rulesKey).Bytes()
	if err == redis.Nil {
		// Nothing stored yet: seed the defaults so every node reads the
		// same version from here on.
		return s.Update(ctx, DefaultRules())
	}
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to load rules: %w", err)
	}

	version, err := s.redis.Get(ctx, rulesVersionKey).Int64()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to load rules version: %w", err)
	}

	var r AdminRules
	if err := json.Unmarshal(data, &r); err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to decode rules: %w", err)
	}
	return Snapshot{Rules: r, Version: version}, nil
}

func (s *RedisStore) Update(ctx context.Context, r AdminRules) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "rules.update")
	defer span.End()

	if err := r.Validate(); err != nil {
		span.RecordError(err)
		return Snapshot{}, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to marshal rules: %w", err)
	}

	version, err := s.redis.Incr(ctx, rulesVersionKey).Result()
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to bump rules version: %w", err)
	}
	if err := s.redis.Set(ctx, rulesKey, data, 0).Err(); err != nil {
		span.RecordError(err)
		return Snapshot{}, fmt.Errorf("rules: failed to persist rules: %w", err)
	}
	return Snapshot{Rules: r, Version: version}, nil
}
