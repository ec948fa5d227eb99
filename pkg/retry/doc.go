// Package retry provides backoff retry logic for transient failures.
//
// Two shapes are used in this module:
//
//   - Fixed(n, interval): constant interval, used for the backend connection
//     check at startup and for polling transaction status before a version
//     stamp.
//   - DefaultConfig(): exponential backoff with jitter for ad hoc retries.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Fixed(60, 500*time.Millisecond), func() error {
//	    return store.Ping(ctx)
//	})
//
// Return retry.NonRetryable(err) from fn to stop immediately. When every
// attempt fails Do returns an *ExhaustedError wrapping the last error.
package retry
