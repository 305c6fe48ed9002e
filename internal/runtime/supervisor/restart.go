package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/pkg/logx"
)

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	stopOnCleanExit bool
	publishFirstErr bool
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the first restart-worthy failure in Err.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// WithStopOnCleanExit stops instead of restarting when fn returns nil. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnCleanExit = enabled }
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

// healthyRun is how long a run must last for the backoff to start over.
const healthyRun = 30 * time.Second

// GoRestart keeps fn running until the context ends, restarting it after
// errors and panics with jittered exponential backoff. Restarts never
// cancel siblings.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&cfg)
	}
	bo := NewBackoff(cfg.minBackoff, cfg.maxBackoff)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for run := 0; s.ctx.Err() == nil; run++ {
			s.stats.begin(name, run > 0)
			startedAt := time.Now()
			err := s.protect(name, fn)
			s.stats.end(name)

			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if cfg.stopOnCleanExit {
					return
				}
				err = errors.New("exited")
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.stats.fail(name, err)
			if cfg.publishFirstErr {
				s.record(err)
			}

			if time.Since(startedAt) >= healthyRun {
				bo.Reset()
			}
			wait := bo.Next()
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !Sleep(s.ctx, wait) {
				return
			}
		}
	}()
}
