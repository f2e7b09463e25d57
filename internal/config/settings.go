package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wp4odoo/bridge/internal/cache"
)

// Store is the persistent key/value backend for operational settings
// (implemented over the settings table in repo/postgres).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Well-known settings keys. Breaker state rows share the table but are owned
// by the breaker package.
const (
	KeyBatchSize           = "sync_batch_size"
	KeyStaleTimeoutSec     = "sync_stale_timeout_sec"
	KeyFailureThreshold    = "sync_failure_threshold"
	KeyFailureCooldownSec  = "sync_failure_cooldown_sec"
	KeyRetentionDays       = "sync_retention_days"
	KeyLogLevel            = "log_level"
	KeyMemoryCapMB         = "sync_memory_cap_mb"
	KeySchemaVersion       = "db_schema_version"
	KeyLastCronRunAt       = "last_cron_run_at"
	KeyWebhookToken        = "webhook_token"
	KeyConsecutiveFailures = "sync_consecutive_failures"

	keyModuleEnabledPrefix = "module_enabled_"
)

// Values is the validated settings document used by bulk updates.
type Values struct {
	BatchSize          int    `json:"batchSize" validate:"min=1,max=500"`
	StaleTimeoutSec    int    `json:"staleTimeoutSec" validate:"min=60,max=3600"`
	FailureThreshold   int    `json:"failureThreshold" validate:"min=1,max=100"`
	FailureCooldownSec int    `json:"failureCooldownSec" validate:"min=60,max=86400"`
	RetentionDays      int    `json:"retentionDays" validate:"min=1,max=365"`
	LogLevel           string `json:"logLevel" validate:"oneof=debug info warn error"`
	MemoryCapMB        int    `json:"memoryCapMb" validate:"min=64,max=4096"`
}

func Defaults() Values {
	return Values{
		BatchSize:          50,
		StaleTimeoutSec:    300,
		FailureThreshold:   10,
		FailureCooldownSec: 3600,
		RetentionDays:      30,
		LogLevel:           "info",
		MemoryCapMB:        256,
	}
}

var validate = validator.New()

// Service reads and writes settings through the store with a short in-process
// cache. Every accessor clamps to the documented range so a hand-edited row
// cannot push the engine outside its envelope.
type Service struct {
	store Store
	cache *cache.Cache
	key   []byte // webhook token encryption key, nil disables encryption
}

func NewService(store Store, secret string) *Service {
	s := &Service{
		store: store,
		cache: cache.New(30 * time.Second),
	}
	if secret != "" {
		s.key = deriveKey(secret)
	}
	return s
}

func (s *Service) BatchSize(ctx context.Context) int {
	return s.intIn(ctx, KeyBatchSize, Defaults().BatchSize, 1, 500)
}

func (s *Service) StaleTimeout(ctx context.Context) time.Duration {
	return time.Duration(s.intIn(ctx, KeyStaleTimeoutSec, Defaults().StaleTimeoutSec, 60, 3600)) * time.Second
}

func (s *Service) FailureThreshold(ctx context.Context) int {
	return s.intIn(ctx, KeyFailureThreshold, Defaults().FailureThreshold, 1, 100)
}

func (s *Service) FailureCooldown(ctx context.Context) time.Duration {
	return time.Duration(s.intIn(ctx, KeyFailureCooldownSec, Defaults().FailureCooldownSec, 60, 86400)) * time.Second
}

func (s *Service) RetentionDays(ctx context.Context) int {
	return s.intIn(ctx, KeyRetentionDays, Defaults().RetentionDays, 1, 365)
}

func (s *Service) MemoryCapBytes(ctx context.Context) uint64 {
	mb := s.intIn(ctx, KeyMemoryCapMB, Defaults().MemoryCapMB, 64, 4096)
	return uint64(mb) << 20
}

func (s *Service) LogLevel(ctx context.Context) string {
	v := s.str(ctx, KeyLogLevel, Defaults().LogLevel)
	switch v {
	case "debug", "info", "warn", "error":
		return v
	default:
		return Defaults().LogLevel
	}
}

// Update validates and persists the whole document; clamping happens via
// validation here and again on every read.
func (s *Service) Update(ctx context.Context, v Values) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	pairs := map[string]string{
		KeyBatchSize:          strconv.Itoa(v.BatchSize),
		KeyStaleTimeoutSec:    strconv.Itoa(v.StaleTimeoutSec),
		KeyFailureThreshold:   strconv.Itoa(v.FailureThreshold),
		KeyFailureCooldownSec: strconv.Itoa(v.FailureCooldownSec),
		KeyRetentionDays:      strconv.Itoa(v.RetentionDays),
		KeyLogLevel:           v.LogLevel,
		KeyMemoryCapMB:        strconv.Itoa(v.MemoryCapMB),
	}
	for k, val := range pairs {
		if err := s.store.Set(ctx, k, val); err != nil {
			return err
		}
		s.cache.Delete(k)
	}
	return nil
}

func (s *Service) Current(ctx context.Context) Values {
	d := Defaults()
	return Values{
		BatchSize:          s.BatchSize(ctx),
		StaleTimeoutSec:    int(s.StaleTimeout(ctx) / time.Second),
		FailureThreshold:   s.FailureThreshold(ctx),
		FailureCooldownSec: int(s.FailureCooldown(ctx) / time.Second),
		RetentionDays:      s.RetentionDays(ctx),
		LogLevel:           s.LogLevel(ctx),
		MemoryCapMB:        s.intIn(ctx, KeyMemoryCapMB, d.MemoryCapMB, 64, 4096),
	}
}

// ModuleEnabled defaults to true: a module is live unless explicitly disabled.
func (s *Service) ModuleEnabled(ctx context.Context, moduleID string) bool {
	v := s.str(ctx, keyModuleEnabledPrefix+moduleID, "1")
	return v != "0"
}

func (s *Service) SetModuleEnabled(ctx context.Context, moduleID string, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	key := keyModuleEnabledPrefix + moduleID
	if err := s.store.Set(ctx, key, v); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

func (s *Service) WebhookToken(ctx context.Context) (string, error) {
	raw, ok, err := s.store.Get(ctx, KeyWebhookToken)
	if err != nil || !ok {
		return "", err
	}
	if s.key == nil {
		return raw, nil
	}
	return decryptString(s.key, raw)
}

func (s *Service) SetWebhookToken(ctx context.Context, token string) error {
	if s.key != nil {
		enc, err := encryptString(s.key, token)
		if err != nil {
			return err
		}
		token = enc
	}
	return s.store.Set(ctx, KeyWebhookToken, token)
}

func (s *Service) FlushCache() {
	s.cache.Flush()
}

func (s *Service) str(ctx context.Context, key, fallback string) string {
	if v, ok := s.cache.Get(key); ok {
		return v.(string)
	}
	v, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	s.cache.Set(key, v)
	return v
}

func (s *Service) intIn(ctx context.Context, key string, fallback, min, max int) int {
	raw := s.str(ctx, key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
