// Package settings implements the Configuration Cache (component I): a
// process-wide, read-mostly cache of (category, key) -> string settings
// with typed accessors, initialized from storage at startup and
// write-through on update. This is distinct from internal/config, which
// is the environment-derived startup configuration read once before the
// storage pool even opens.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// DataType is the declared type of a setting's value, used to choose
// the right typed accessor and to round-trip through JSON for the
// api.cors_allowed_origins list setting.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeFloat   DataType = "float"
	TypeBoolean DataType = "boolean"
	TypeJSON    DataType = "json"
)

// Setting is one row of the system_settings table.
type Setting struct {
	Category        string
	Key             string
	Value           string
	DataType        DataType
	Default         string
	Sensitive       bool
	RequiresRestart bool
	UpdatedAt       time.Time
}

// Known (category, key) pairs the core itself reads.
const (
	CategoryDatabase = "database"
	CategoryAuth     = "auth"
	CategoryAPI      = "api"
	CategoryBackup   = "backup"

	KeyJWTLifetimeHours        = "jwt_lifetime_hours"
	KeyLockoutDurationMinutes  = "lockout_duration_minutes"
	KeyMaxLoginAttempts        = "max_login_attempts"
	KeyRateLimitPerMinute      = "rate_limit_requests_per_minute"
	KeyCORSAllowedOrigins      = "cors_allowed_origins"
	KeyConnectionPoolSize      = "connection_pool_size"
	KeyBackupEnabled           = "enabled"
	KeyBackupCronSchedule      = "cron_schedule"
	KeyBackupRetentionDays     = "retention_days"
	KeyBackupObjectPrefix      = "object_prefix"
)

// Cache is the in-memory, write-through view over system_settings.
type Cache struct {
	db *sql.DB
	mu sync.RWMutex
	m  map[string]Setting
}

func cacheKey(category, key string) string { return category + "." + key }

// Load builds a Cache by reading every row out of system_settings. It
// must be called once at startup before any accessor is used.
func Load(ctx context.Context, db *sql.DB) (*Cache, error) {
	c := &Cache{db: db, m: make(map[string]Setting)}
	rows, err := db.QueryContext(ctx, `
		SELECT category, key, value, data_type, default_value, sensitive, requires_restart, updated_at
		FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s Setting
		var sensitive, requiresRestart int
		if err := rows.Scan(&s.Category, &s.Key, &s.Value, &s.DataType, &s.Default, &sensitive, &requiresRestart, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		s.Sensitive = sensitive != 0
		s.RequiresRestart = requiresRestart != 0
		c.m[cacheKey(s.Category, s.Key)] = s
	}
	return c, rows.Err()
}

// Get returns the raw setting for (category, key), or ok=false when not
// present (callers should fall back to a hardcoded default in that
// case, since an uninitialized database may predate a setting that a
// newer binary expects).
func (c *Cache) Get(category, key string) (Setting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.m[cacheKey(category, key)]
	return s, ok
}

// String returns the setting's raw value, or fallback when absent.
func (c *Cache) String(category, key, fallback string) string {
	if s, ok := c.Get(category, key); ok {
		return s.Value
	}
	return fallback
}

// Int returns the setting parsed as an integer, or fallback when absent
// or unparseable.
func (c *Cache) Int(category, key string, fallback int) int {
	if s, ok := c.Get(category, key); ok {
		if n, err := strconv.Atoi(s.Value); err == nil {
			return n
		}
	}
	return fallback
}

// Float returns the setting parsed as a float64, or fallback.
func (c *Cache) Float(category, key string, fallback float64) float64 {
	if s, ok := c.Get(category, key); ok {
		if f, err := strconv.ParseFloat(s.Value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Bool returns the setting parsed as a boolean, or fallback.
func (c *Cache) Bool(category, key string, fallback bool) bool {
	if s, ok := c.Get(category, key); ok {
		if b, err := strconv.ParseBool(s.Value); err == nil {
			return b
		}
	}
	return fallback
}

// StringSlice returns the setting decoded as a JSON array of strings,
// used for api.cors_allowed_origins.
func (c *Cache) StringSlice(category, key string, fallback []string) []string {
	if s, ok := c.Get(category, key); ok {
		var out []string
		if err := json.Unmarshal([]byte(s.Value), &out); err == nil {
			return out
		}
	}
	return fallback
}

// DurationHours returns a setting stored as a count of hours (e.g.
// auth.jwt_lifetime_hours) as a time.Duration.
func (c *Cache) DurationHours(category, key string, fallback time.Duration) time.Duration {
	if s, ok := c.Get(category, key); ok {
		if f, err := strconv.ParseFloat(s.Value, 64); err == nil {
			return time.Duration(f * float64(time.Hour))
		}
	}
	return fallback
}

// Set writes a setting through to storage and then updates the cache;
// the database is always the durable source of truth. The row is
// upserted: dataType, sensitive and requiresRestart always replace the
// stored values, and default_value is set to value only when the row is
// first created.
func (c *Cache) Set(ctx context.Context, category, key, value string, dataType DataType, sensitive, requiresRestart bool) error {
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO system_settings (category, key, value, data_type, default_value, sensitive, requires_restart, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			data_type = excluded.data_type,
			sensitive = excluded.sensitive,
			requires_restart = excluded.requires_restart,
			updated_at = excluded.updated_at`,
		category, key, value, string(dataType), value, boolToInt(sensitive), boolToInt(requiresRestart), now)
	if err != nil {
		return fmt.Errorf("write setting %s.%s: %w", category, key, err)
	}

	c.mu.Lock()
	c.m[cacheKey(category, key)] = Setting{
		Category: category, Key: key, Value: value, DataType: dataType,
		Sensitive: sensitive, RequiresRestart: requiresRestart, UpdatedAt: now,
	}
	c.mu.Unlock()
	return nil
}

// All returns a snapshot of every setting, with sensitive values
// redacted, for an admin-facing settings listing.
func (c *Cache) All() []Setting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Setting, 0, len(c.m))
	for _, s := range c.m {
		if s.Sensitive {
			s.Value = "********"
		}
		out = append(out, s)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
