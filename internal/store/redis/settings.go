package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"papertrader/internal/settings"
)

// SettingsKey holds the JSON-encoded runtime settings.
const SettingsKey = "papertrader:settings"

// SettingsStore implements settings.Persister.
type SettingsStore struct {
	rdb goredis.Cmdable
	key string
}

// NewSettingsStore creates a store under SettingsKey.
func NewSettingsStore(rdb goredis.Cmdable) *SettingsStore {
	return &SettingsStore{rdb: rdb, key: SettingsKey}
}

func (s *SettingsStore) LoadSettings(ctx context.Context) (settings.Settings, bool, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	var st settings.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return settings.Settings{}, false, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return st, true, nil
}

func (s *SettingsStore) SaveSettings(ctx context.Context, st settings.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}
