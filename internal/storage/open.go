package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/pkg/logx"
)

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled; callers treat a nil Store as memory-only operation.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := NormalizeDriver(cfg.Driver)
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite":
		st, err = openSQLite(ctx, cfg, log)
	case "redis":
		st, err = openRedis(ctx, cfg, log)
	case "postgres":
		st, err = openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	log.Info("store opened")
	return st, nil
}

// NormalizeDriver lowercases d and maps "" and aliases to canonical names.
func NormalizeDriver(d string) string {
	switch d = strings.ToLower(strings.TrimSpace(d)); d {
	case "", "none":
		return "none"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pg":
		return "postgres"
	default:
		return d
	}
}

// ValidDriver reports whether d names a supported driver.
func ValidDriver(d string) bool {
	d = NormalizeDriver(d)
	for _, v := range Drivers {
		if v == d {
			return true
		}
	}
	return false
}
