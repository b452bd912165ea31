package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"cosmicwatch/config"

	"gorm.io/gorm"
)

// SQLiteOptions holds the connection tuning applied to the SQLite file.
type SQLiteOptions struct {
	PragmasEnabled bool
	BusyTimeoutMS  int
	JournalMode    string
	Synchronous    string
	ForeignKeys    bool
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdle    time.Duration
	ConnMaxLife    time.Duration
}

// SQLiteOptionsFromConfig extracts the SQLite settings from cfg.
func SQLiteOptionsFromConfig(cfg *config.Config) SQLiteOptions {
	return SQLiteOptions{
		PragmasEnabled: cfg.SQLitePragmasEnabled,
		BusyTimeoutMS:  cfg.SQLiteBusyTimeoutMS,
		JournalMode:    cfg.SQLiteJournalMode,
		Synchronous:    cfg.SQLiteSynchronous,
		ForeignKeys:    cfg.SQLiteForeignKeys,
		MaxOpenConns:   cfg.SQLiteMaxOpenConns,
		MaxIdleConns:   cfg.SQLiteMaxIdleConns,
		ConnMaxIdle:    time.Duration(cfg.SQLiteConnMaxIdleSec) * time.Second,
		ConnMaxLife:    time.Duration(cfg.SQLiteConnMaxLifeSec) * time.Second,
	}.sanitized()
}

// sanitized clamps the pool settings: at least one open connection, idle
// connections within [0, open], non-negative durations.
func (o SQLiteOptions) sanitized() SQLiteOptions {
	o.MaxOpenConns = max(o.MaxOpenConns, 1)
	o.MaxIdleConns = min(max(o.MaxIdleConns, 0), o.MaxOpenConns)
	o.ConnMaxIdle = max(o.ConnMaxIdle, 0)
	o.ConnMaxLife = max(o.ConnMaxLife, 0)
	o.JournalMode = normalizeJournalMode(o.JournalMode)
	o.Synchronous = normalizeSynchronous(o.Synchronous)
	return o
}

// pragmas returns the PRAGMA name/value pairs to apply, in order.
func (o SQLiteOptions) pragmas() [][2]string {
	if !o.PragmasEnabled {
		return nil
	}
	var out [][2]string
	if o.BusyTimeoutMS > 0 {
		out = append(out, [2]string{"busy_timeout", fmt.Sprint(o.BusyTimeoutMS)})
	}
	if o.JournalMode != "" {
		out = append(out, [2]string{"journal_mode", o.JournalMode})
	}
	if o.Synchronous != "" {
		out = append(out, [2]string{"synchronous", o.Synchronous})
	}
	fk := "0"
	if o.ForeignKeys {
		fk = "1"
	}
	return append(out, [2]string{"foreign_keys", fk})
}

// DSN appends the pragmas to path as _pragma query parameters so every new
// connection gets them. Existing query parameters are kept.
func (o SQLiteOptions) DSN(path string) string {
	base, rawQuery, _ := strings.Cut(path, "?")
	query, _ := url.ParseQuery(rawQuery)
	for _, p := range o.pragmas() {
		query.Add("_pragma", fmt.Sprintf("%s(%s)", p[0], p[1]))
	}
	if len(query) == 0 {
		return base
	}
	return base + "?" + query.Encode()
}

// apply configures the pool and re-runs the pragmas on an open handle, which
// matters for database files created by older builds.
func (o SQLiteOptions) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(o.ConnMaxIdle)
	sqlDB.SetConnMaxLifetime(o.ConnMaxLife)

	for _, p := range o.pragmas() {
		if err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p[0], p[1])).Error; err != nil {
			return fmt.Errorf("pragma %s: %w", p[0], err)
		}
	}
	return nil
}

func normalizeJournalMode(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch value {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
		return value
	default:
		return ""
	}
}

func normalizeSynchronous(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch value {
	case "OFF", "NORMAL", "FULL", "EXTRA", "0", "1", "2", "3":
		return value
	default:
		return ""
	}
}
