package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"remindbot/internal/clock"
	"remindbot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reminder_completion (
  date         DATE PRIMARY KEY,
  completed_at TIMESTAMPTZ NOT NULL
);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.Connect(cctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(cctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Completed(ctx context.Context, date clock.Date) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM reminder_completion WHERE date = $1::date`, date.String()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *postgresStore) MarkCompleted(ctx context.Context, date clock.Date, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminder_completion (date, completed_at) VALUES ($1::date, $2) ON CONFLICT (date) DO NOTHING`,
		date.String(), at.UTC(),
	)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
