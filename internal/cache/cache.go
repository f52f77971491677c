// Package cache keeps the last enriched record for instant display.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the last record
const DefaultKey = "nexusdiet:last_page"

// LastSeen stores the most recent enriched record, overwritten on every enrichment
type LastSeen interface {
	SetLast(ctx context.Context, rec domain.EnrichedRecord) error
	Last(ctx context.Context) (domain.EnrichedRecord, bool, error)
}

// Memory is an in-process LastSeen
type Memory struct {
	mu  sync.RWMutex
	rec *domain.EnrichedRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SetLast(_ context.Context, rec domain.EnrichedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	return nil
}

func (m *Memory) Last(context.Context) (domain.EnrichedRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return domain.EnrichedRecord{}, false, nil
	}
	return *m.rec, true, nil
}

// Redis stores the last record as JSON under a single key
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis uses key, or DefaultKey when empty
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) SetLast(ctx context.Context, rec domain.EnrichedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode last record: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Last(ctx context.Context) (domain.EnrichedRecord, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.EnrichedRecord{}, false, nil
	}
	if err != nil {
		return domain.EnrichedRecord{}, false, fmt.Errorf("redis get: %w", err)
	}

	var rec domain.EnrichedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.EnrichedRecord{}, false, fmt.Errorf("decode last record: %w", err)
	}
	return rec, true, nil
}
