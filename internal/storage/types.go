package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/clock"
)

var ErrClosed = errors.New("storage closed")

// Store is the durable date -> completed mapping.
// MarkCompleted must be durable when it returns nil.
type Store interface {
	Completed(ctx context.Context, date clock.Date) (bool, error)
	MarkCompleted(ctx context.Context, date clock.Date, at time.Time) error
	Close() error
}

type Config struct {
	Driver string
	// Path is the file path (file, sqlite), address (redis) or DSN (postgres).
	Path string

	BusyTimeout    time.Duration // sqlite
	KeyPrefix      string        // redis; default "remindbot:completed:"
	TTL            time.Duration // redis; 0 keeps keys forever
	ConnectTimeout time.Duration // redis, postgres
}

const DefaultKeyPrefix = "remindbot:completed:"

// Drivers lists the accepted Config.Driver values.
var Drivers = []string{"none", "file", "sqlite", "redis", "postgres"}
