package breaker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/redisclient"
)

// settings rows hold the authoritative state; redis is only the hot cache.
// The two-level layout means a redis flush loses nothing, and a settings row
// older than the TTL is discarded on load rather than trusted.

const (
	keyGlobalState  = "sync_breaker_state"
	keyModuleStates = "sync_module_breaker_states"

	redisGlobalKey  = "wp4odoo:breaker:global"
	redisModulesKey = "wp4odoo:breaker:modules"
)

type SettingsStore struct {
	settings config.Store
	redis    *redisclient.Client
	ttl      time.Duration
}

var _ Store = (*SettingsStore)(nil)

func NewGlobalStore(settings config.Store, redis *redisclient.Client) *SettingsStore {
	return &SettingsStore{settings: settings, redis: redis, ttl: globalTTL}
}

func (s *SettingsStore) Load(ctx context.Context) (State, bool, error) {
	if s.redis != nil {
		if raw, err := s.redis.GetString(ctx, redisGlobalKey); err == nil && raw != "" {
			var st State
			if json.Unmarshal([]byte(raw), &st) == nil && !s.expired(st) {
				return st, true, nil
			}
		}
	}

	raw, ok, err := s.settings.Get(ctx, keyGlobalState)
	if err != nil || !ok {
		return State{}, false, err
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, nil
	}
	if s.expired(st) {
		return State{}, false, nil
	}
	return st, true, nil
}

func (s *SettingsStore) Save(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.settings.Set(ctx, keyGlobalState, string(raw)); err != nil {
		return err
	}
	if s.redis != nil {
		_ = s.redis.SetString(ctx, redisGlobalKey, string(raw), s.ttl)
	}
	return nil
}

func (s *SettingsStore) Clear(ctx context.Context) error {
	if s.redis != nil {
		_ = s.redis.Delete(ctx, redisGlobalKey)
	}
	return s.settings.Delete(ctx, keyGlobalState)
}

func (s *SettingsStore) expired(st State) bool {
	return !st.UpdatedAt.IsZero() && time.Since(st.UpdatedAt) >= s.ttl
}

// ModulesStore persists the per-module state map the same two-level way.
type ModulesStore struct {
	settings config.Store
	redis    *redisclient.Client
	ttl      time.Duration
}

var _ MapStore = (*ModulesStore)(nil)

func NewModulesStore(settings config.Store, redis *redisclient.Client) *ModulesStore {
	return &ModulesStore{settings: settings, redis: redis, ttl: moduleTTL}
}

func (s *ModulesStore) LoadAll(ctx context.Context) (map[string]State, error) {
	if s.redis != nil {
		if raw, err := s.redis.GetString(ctx, redisModulesKey); err == nil && raw != "" {
			out := map[string]State{}
			if json.Unmarshal([]byte(raw), &out) == nil {
				return s.dropExpired(out), nil
			}
		}
	}

	raw, ok, err := s.settings.Get(ctx, keyModuleStates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]State{}, nil
	}

	out := map[string]State{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]State{}, nil
	}
	return s.dropExpired(out), nil
}

func (s *ModulesStore) SaveAll(ctx context.Context, states map[string]State) error {
	raw, err := json.Marshal(states)
	if err != nil {
		return err
	}
	if err := s.settings.Set(ctx, keyModuleStates, string(raw)); err != nil {
		return err
	}
	if s.redis != nil {
		_ = s.redis.SetString(ctx, redisModulesKey, string(raw), s.ttl)
	}
	return nil
}

func (s *ModulesStore) dropExpired(states map[string]State) map[string]State {
	for id, st := range states {
		if !st.UpdatedAt.IsZero() && time.Since(st.UpdatedAt) >= s.ttl {
			delete(states, id)
		}
	}
	return states
}
