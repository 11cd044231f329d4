package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

type diskConfig struct {
	Dir string `json:"dir"`
}

// diskEnvelope is the on-disk form of one entry; ExpiresAt is unix milliseconds, 0 for no expiry.
type diskEnvelope struct {
	ExpiresAt int64  `json:"expires_at"`
	Value     []byte `json:"value"`
}

// diskStore keeps one file per key so cached content survives restarts.
type diskStore struct {
	dir string
	now func() time.Time
}

func init() {
	Register("disk", createDiskStore)
}

func createDiskStore(args interface{}) (ContentStore, error) {
	cfg := &diskConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk store dir is required")
	}
	return NewDiskStore(cfg.Dir)
}

func NewDiskStore(dir string) (ContentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &diskStore{dir: dir, now: time.Now}, nil
}

func (s *diskStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid store key %q: %w", key, appErr.ErrInvalid)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *diskStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	path, err := s.path(key)
	if err != nil {
		return err
	}
	env := diskEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *diskStore) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var env diskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode store entry %s: %w", key, err)
	}
	if env.ExpiresAt > 0 && s.now().UnixMilli() >= env.ExpiresAt {
		_ = os.Remove(path)
		return nil, appErr.ErrNotFound
	}
	return env.Value, nil
}

func (s *diskStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *diskStore) Ping(ctx context.Context) error {
	_ = ctx
	_, err := os.Stat(s.dir)
	return err
}
