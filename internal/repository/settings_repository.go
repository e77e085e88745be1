package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
)

type settingsMetrics interface {
	RecordSettingsCache(hit bool)
}

// SettingsRepository reads and writes mutable global settings. Reads are
// served from Redis when possible; writes invalidate the cached entry. Cache
// failures degrade to direct database reads.
type SettingsRepository struct {
	db      *sqlx.DB
	cache   *redis.Client
	ttl     time.Duration
	metrics settingsMetrics
	logger  *zap.Logger
}

// NewSettingsRepository constructs the repository. cache may be nil.
func NewSettingsRepository(db *sqlx.DB, cache *redis.Client, ttl time.Duration, metrics settingsMetrics, logger *zap.Logger) *SettingsRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsRepository{db: db, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

func settingCacheKey(name string) string {
	return "settings:" + name
}

// Get returns one setting by name. sql.ErrNoRows when absent.
func (r *SettingsRepository) Get(ctx context.Context, name string) (*models.Setting, error) {
	if cached := r.fromCache(ctx, name); cached != nil {
		return cached, nil
	}

	const query = `SELECT name, value, updated_at FROM settings WHERE name = $1`
	var setting models.Setting
	if err := r.db.GetContext(ctx, &setting, query, name); err != nil {
		return nil, err
	}
	r.toCache(ctx, &setting)
	return &setting, nil
}

// Upsert writes a setting and drops the cached entry.
func (r *SettingsRepository) Upsert(ctx context.Context, setting *models.Setting) error {
	setting.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, setting.Name, setting.Value, setting.UpdatedAt); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.Del(ctx, settingCacheKey(setting.Name)).Err(); err != nil {
			r.logger.Warn("failed to invalidate setting cache",
				zap.String("name", setting.Name), zap.Error(err))
		}
	}
	return nil
}

func (r *SettingsRepository) fromCache(ctx context.Context, name string) *models.Setting {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, settingCacheKey(name)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("settings cache read failed", zap.String("name", name), zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.RecordSettingsCache(false)
		}
		return nil
	}
	var setting models.Setting
	if err := json.Unmarshal(raw, &setting); err != nil {
		r.logger.Warn("settings cache entry malformed", zap.String("name", name), zap.Error(err))
		return nil
	}
	if r.metrics != nil {
		r.metrics.RecordSettingsCache(true)
	}
	return &setting
}

func (r *SettingsRepository) toCache(ctx context.Context, setting *models.Setting) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(setting)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, settingCacheKey(setting.Name), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("settings cache write failed",
			zap.String("name", setting.Name), zap.Error(err))
	}
}
