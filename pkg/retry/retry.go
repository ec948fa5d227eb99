package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError stops Do on the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err as final. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var target *NonRetryableError
	return errors.As(err, &target)
}

// ExhaustedError reports that every attempt failed. Err is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func IsExhausted(err error) bool {
	var target *ExhaustedError
	return errors.As(err, &target)
}

// Config describes an attempt budget and the delay between attempts. Zero
// delays and multiplier take the DefaultConfig values.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // 1 keeps the interval fixed
	AddJitter    bool    // adds up to a quarter of each delay
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Fixed retries every interval, up to attempts times in total.
func Fixed(attempts int, interval time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
	}
}

func (c Config) normalized() (Config, error) {
	switch {
	case c.InitialDelay < 0, c.MaxDelay < 0:
		return c, errors.New("retry: delays cannot be negative")
	case c.Multiplier < 0:
		return c, errors.New("retry: multiplier cannot be negative")
	}
	defaults := DefaultConfig()
	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialDelay == 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// delay is the wait after the given failed attempt, counting from 1.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.Multiplier
	}
	wait := c.MaxDelay
	if d < float64(c.MaxDelay) {
		wait = time.Duration(d)
	}
	if c.AddJitter && wait >= 4 {
		wait += rand.N(wait / 4)
	}
	return wait
}

// Do calls fn until it succeeds, returns a NonRetryable error, runs out of
// attempts or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	var last error
	for attempt := 1; ; attempt++ {
		if last = fn(); last == nil || IsNonRetryable(last) {
			return last
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: last}
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled waiting for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() (err error) {
		result, err = fn()
		return err
	})
	return result, err
}
