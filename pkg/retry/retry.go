// Package retry wraps github.com/cenkalti/backoff/v4 with the bounded,
// jittered exponential backoff §7 requires of TransientIO operations
// inside the ObjectStore and DocumentStore adapters.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/litp/platform/pkg/errs"
)

// Config controls the backoff schedule. Zero value yields Defaults().
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Defaults matches §7's "6 attempts, jittered" guidance.
func Defaults() Config {
	return Config{
		MaxAttempts:     6,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do retries fn while it returns a TransientIO-kinded error, up to
// cfg.MaxAttempts, with jittered exponential backoff. A non-transient
// error returns immediately. Exhausting all attempts re-wraps the last
// error as PermanentIO, per §7.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = Defaults()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts, not wall-clock

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), ctx)

	var lastErr error
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errs.Is(err, errs.Cancelled) {
			return backoff.Permanent(err)
		}
		if !errs.Retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if errs.Is(lastErr, errs.Cancelled) {
		return lastErr
	}
	if errs.Retriable(lastErr) {
		return errs.Wrap(errs.PermanentIO, lastErr, "transient failure exhausted retries")
	}
	return lastErr
}
