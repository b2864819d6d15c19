// Package retry implements the Retry/Timeout Executor from spec.md §4.6: a
// per-call timeout race plus bounded exponential backoff with jitter,
// grounded on the teacher gateway's requestWithFailover
// (internal/proxy/failover.go) error-classification style, generalised from
// "switch provider on failure" to "retry the same provider under a budget".
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

// BaseBackoff and MaxBackoff are the fixed constants from spec.md §4.6.
const (
	BaseBackoff time.Duration = 250 * time.Millisecond
	MaxBackoff  time.Duration = 4 * time.Second
)

// ErrTimeout is returned (wrapped in a *routererr.Error with KindTimeout)
// when a single attempt exceeds the configured per-call timeout.
var ErrTimeout = errors.New("retry: call timed out")

// Attempt is the unit of work the Executor retries. It must respect ctx
// cancellation — the Executor races it against a timer, not a goroutine
// leak preventer.
type Attempt func(ctx context.Context) (any, error)

// Config controls one Run invocation, spec.md §4.6.
type Config struct {
	// RetryLimit is the number of *extra* attempts after the first; total
	// attempts made is RetryLimit+1.
	RetryLimit uint32
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// Rand supplies jitter; defaults to a package-level source if nil.
	Rand func() float64
	// Sleep overrides time.Sleep-equivalent wait for deterministic tests.
	Sleep func(ctx context.Context, d time.Duration)
}

func (c Config) rnd() float64 {
	if c.Rand != nil {
		return c.Rand()
	}
	return rand.Float64()
}

func (c Config) sleep(ctx context.Context, d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run executes attempt under cfg's timeout/retry budget, per spec.md §4.6:
//
//  1. Each attempt races against Timeout; on expiry the attempt's context is
//     cancelled and the attempt fails with a *routererr.Error{Kind: KindTimeout}.
//  2. An error carrying routererr.IsAuth(status) is never retried — it is
//     returned immediately, bypassing the remaining budget entirely, per
//     spec.md's preserved "auth errors terminate the whole request" quirk.
//  3. Any other failure is retried up to RetryLimit additional times, with
//     backoff starting at BaseBackoff and doubling each attempt (capped at
//     MaxBackoff for the next iteration's base). Each wait is
//     backoff + backoff*(0.5+rand()), itself capped at MaxBackoff.
//  4. On exhaustion, the last error observed is re-raised unchanged.
func Run(ctx context.Context, cfg Config, attempt Attempt) (any, error) {
	var lastErr error
	backoff := BaseBackoff

	totalAttempts := cfg.RetryLimit + 1
	for i := uint32(0); i < totalAttempts; i++ {
		result, err := runOnce(ctx, cfg.Timeout, attempt)
		if err == nil {
			return result, nil
		}

		if isAuthErr(err) {
			return nil, err
		}

		lastErr = err
		if i == totalAttempts-1 {
			break
		}

		wait := backoff + time.Duration(float64(backoff)*(0.5+cfg.rnd()))
		if wait > MaxBackoff {
			wait = MaxBackoff
		}
		cfg.sleep(ctx, wait)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}

	return nil, lastErr
}

func runOnce(ctx context.Context, timeout time.Duration, attempt Attempt) (any, error) {
	if timeout <= 0 {
		return attempt(ctx)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := attempt(callCtx)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.C:
		cancel()
		<-done // wait for the attempt to observe cancellation and return
		return nil, routererr.Wrap(routererr.KindTimeout, "", 0, ErrTimeout)
	}
}

func isAuthErr(err error) bool {
	var rerr *routererr.Error
	if errors.As(err, &rerr) {
		if rerr.Kind == routererr.KindAuthFailed {
			return true
		}
		return routererr.IsAuth(rerr.Status)
	}
	return false
}
