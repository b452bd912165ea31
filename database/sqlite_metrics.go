package database

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// ErrorCounters counts SQLite contention errors seen by the gorm logger.
type ErrorCounters struct {
	busy   atomic.Uint64
	locked atomic.Uint64
}

// Busy returns the number of SQLITE_BUSY errors.
func (c *ErrorCounters) Busy() uint64 {
	if c == nil {
		return 0
	}
	return c.busy.Load()
}

// Locked returns the number of SQLITE_LOCKED errors.
func (c *ErrorCounters) Locked() uint64 {
	if c == nil {
		return 0
	}
	return c.locked.Load()
}

func (c *ErrorCounters) record(err error) {
	if c == nil {
		return
	}
	busy, locked := classifySQLiteError(err)
	if busy {
		c.busy.Add(1)
	}
	if locked {
		c.locked.Add(1)
	}
}

func classifySQLiteError(err error) (busy bool, locked bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, false
	}

	msg := strings.ToLower(err.Error())
	busy = strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy timeout")
	locked = strings.Contains(msg, "sqlite_locked") || strings.Contains(msg, "database table is locked")
	return busy, locked
}

// IsContention reports whether err is a transient SQLITE_BUSY or SQLITE_LOCKED failure.
func IsContention(err error) bool {
	busy, locked := classifySQLiteError(err)
	return busy || locked
}

// Ping reports whether the database answers within ctx (200ms when ctx has
// no deadline).
func Ping(ctx context.Context, db *gorm.DB) bool {
	if db == nil {
		return false
	}
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
	}
	return sqlDB.PingContext(ctx) == nil
}
