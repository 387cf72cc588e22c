// Package store implements the L2 persistent key-value cache tier on
// top of gorm.
package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arborcore/assistant-core/core"
)

// Row is the gorm model for the single `cache` table:
// key/value/category/created_at/expires_at/access_count/
// last_accessed/embedding/metadata, with indices on expires_at and
// category.
type Row struct {
	Key          string `gorm:"column:key;primaryKey"`
	Value        string `gorm:"column:value;not null"`
	Category     string `gorm:"column:category;not null;index:idx_cache_category"`
	CreatedAt    float64 `gorm:"column:created_at;not null"`
	ExpiresAt    float64 `gorm:"column:expires_at;not null;index:idx_cache_expires_at"`
	AccessCount  int64  `gorm:"column:access_count;default:0"`
	LastAccessed float64 `gorm:"column:last_accessed"`
	Embedding    []byte `gorm:"column:embedding"`
	Metadata     string `gorm:"column:metadata"`

	// denormalized response fields, kept out of the Value blob so that
	// plain SQL tooling can filter by provider/model without parsing.
	Provider string `gorm:"column:provider"`
	Model    string `gorm:"column:model"`
	Tokens   int    `gorm:"column:tokens"`
	Terminal string `gorm:"column:terminal"`
	TaskType string `gorm:"column:task_type"`
}

func (Row) TableName() string { return "cache" }

// Store is the L2 tier's persistence surface.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open migrates the `cache` table (create-if-not-exists only, no
// versioned schema migrations) and returns a ready Store.
func Open(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, core.NewCacheBackendError("failed to migrate cache table", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "l2_store"))}, nil
}

func toRow(e *core.CacheEntry) Row {
	var expires float64
	if !e.ExpiresAt.IsZero() {
		expires = float64(e.ExpiresAt.UnixNano()) / 1e9
	}
	return Row{
		Key:          e.Key,
		Value:        e.Response.Text,
		Category:     string(e.Category),
		CreatedAt:    float64(e.CreatedAt.UnixNano()) / 1e9,
		ExpiresAt:    expires,
		AccessCount:  e.AccessCount,
		LastAccessed: float64(e.LastAccessed.UnixNano()) / 1e9,
		Provider:     e.Response.Provider,
		Model:        e.Response.Model,
		Tokens:       e.Response.Tokens,
		Terminal:     string(e.Response.Terminal),
		TaskType:     string(e.Response.TaskType),
	}
}

func fromRow(r Row) *core.CacheEntry {
	var expiresAt time.Time
	if r.ExpiresAt != 0 {
		expiresAt = time.Unix(0, int64(r.ExpiresAt*1e9))
	}
	return &core.CacheEntry{
		Key:       r.Key,
		Category:  core.CacheCategory(r.Category),
		CreatedAt: time.Unix(0, int64(r.CreatedAt*1e9)),
		ExpiresAt: expiresAt,
		Response: core.Response{
			Text:     r.Value,
			Provider: r.Provider,
			Model:    r.Model,
			Tokens:   r.Tokens,
			Terminal: core.TerminalReason(r.Terminal),
			TaskType: core.TaskType(r.TaskType),
			Cached:   true,
		},
		AccessCount:  r.AccessCount,
		LastAccessed: time.Unix(0, int64(r.LastAccessed*1e9)),
	}
}

// Get returns the entry for key, nil if absent or expired. An expired row
// is deleted on access.
func (s *Store) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, core.NewCacheBackendError("l2 get failed", err)
	}

	now := float64(time.Now().UnixNano()) / 1e9
	if row.ExpiresAt != 0 && now > row.ExpiresAt {
		_ = s.db.WithContext(ctx).Delete(&Row{}, "key = ?", key).Error
		return nil, nil
	}

	s.db.WithContext(ctx).Model(&Row{}).Where("key = ?", key).
		Updates(map[string]any{"access_count": gorm.Expr("access_count + 1"), "last_accessed": now})

	return fromRow(row), nil
}

// Set upserts the entry.
func (s *Store) Set(ctx context.Context, entry *core.CacheEntry) error {
	row := toRow(entry)
	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return core.NewCacheBackendError("l2 set failed", err)
	}
	return nil
}

// Delete removes the row for key, reporting whether one was deleted.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&Row{}, "key = ?", key)
	if res.Error != nil {
		return false, core.NewCacheBackendError("l2 delete failed", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteByCategory removes every row in category, returning the count
// deleted.
func (s *Store) DeleteByCategory(ctx context.Context, category core.CacheCategory) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&Row{}, "category = ?", string(category))
	if res.Error != nil {
		return 0, core.NewCacheBackendError("l2 delete-by-category failed", res.Error)
	}
	return res.RowsAffected, nil
}

// Sweep performs periodic cleanup: delete expired rows first, then if
// the row count still exceeds maxEntries delete the oldest-by-last-accessed
// rows until within bound.
func (s *Store) Sweep(ctx context.Context, maxEntries int) error {
	now := float64(time.Now().UnixNano()) / 1e9
	if err := s.db.WithContext(ctx).Delete(&Row{}, "expires_at != 0 AND expires_at < ?", now).Error; err != nil {
		return core.NewCacheBackendError("l2 sweep failed", err)
	}

	if maxEntries <= 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Row{}).Count(&count).Error; err != nil {
		return core.NewCacheBackendError("l2 sweep count failed", err)
	}
	if count <= int64(maxEntries) {
		return nil
	}

	excess := count - int64(maxEntries)
	var victims []string
	if err := s.db.WithContext(ctx).Model(&Row{}).
		Order("last_accessed asc").Limit(int(excess)).Pluck("key", &victims).Error; err != nil {
		return core.NewCacheBackendError("l2 sweep select failed", err)
	}
	if len(victims) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&Row{}, "key IN ?", victims).Error; err != nil {
		return core.NewCacheBackendError("l2 sweep delete failed", err)
	}
	return nil
}
