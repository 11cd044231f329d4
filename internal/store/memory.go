package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

const (
	defaultMemorySize = 256
	defaultMemoryTTL  = 24 * time.Hour
)

type memoryConfig struct {
	Size       int `json:"size"`
	MaxTTLHour int `json:"max_ttl_hours"`
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// memoryStore keeps entries in an expirable LRU; the LRU ttl is only an upper
// bound, each entry still carries its own expiry.
type memoryStore struct {
	cache *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

func init() {
	Register("memory", createMemoryStore)
}

func createMemoryStore(args interface{}) (ContentStore, error) {
	cfg := &memoryConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	maxTTL := time.Duration(cfg.MaxTTLHour) * time.Hour
	return NewMemoryStore(cfg.Size, maxTTL), nil
}

func NewMemoryStore(size int, maxTTL time.Duration) ContentStore {
	if size <= 0 {
		size = defaultMemorySize
	}
	if maxTTL <= 0 {
		maxTTL = defaultMemoryTTL
	}
	return &memoryStore{
		cache: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

func (s *memoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, entry)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, appErr.ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.cache.Remove(key)
	return nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}
