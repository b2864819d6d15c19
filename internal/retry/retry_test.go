package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

func noSleep(_ context.Context, _ time.Duration) {}
func zeroRand() float64                          { return 0 }

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), Config{RetryLimit: 3, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %v", result)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), Config{RetryLimit: 2, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, routererr.New(routererr.KindAdapterTransient, "openai", "temporary")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Errorf("expected done, got %v", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (1 initial + 2 retries), got %d", calls)
	}
}

func TestRun_ExhaustsAndReraisesLastError(t *testing.T) {
	calls := 0
	wantErr := routererr.New(routererr.KindAdapterTransient, "openai", "attempt 3 failed")
	_, err := Run(context.Background(), Config{RetryLimit: 2, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		return nil, routererr.New(routererr.KindAdapterTransient, "openai", "attempt "+itoa(calls)+" failed")
	})
	if calls != 3 {
		t.Fatalf("expected totalAttempts=RetryLimit+1=3, got %d", calls)
	}
	var rerr *routererr.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *routererr.Error, got %v", err)
	}
	if rerr.Message != wantErr.Message {
		t.Errorf("expected the last attempt's error to be re-raised, got %q", rerr.Message)
	}
}

func TestRun_AuthErrorShortCircuitsImmediately(t *testing.T) {
	calls := 0
	_, err := Run(context.Background(), Config{RetryLimit: 5, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		return nil, routererr.New(routererr.KindAuthFailed, "openai", "invalid api key")
	})
	if calls != 1 {
		t.Errorf("expected auth failures to bypass the entire retry budget, got %d attempts", calls)
	}
	var rerr *routererr.Error
	if !errors.As(err, &rerr) || rerr.Kind != routererr.KindAuthFailed {
		t.Errorf("expected the auth error to be returned unwrapped, got %v", err)
	}
}

func TestRun_HTTPStatusAuthAlsoShortCircuits(t *testing.T) {
	calls := 0
	_, err := Run(context.Background(), Config{RetryLimit: 5, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		return nil, routererr.Wrap(routererr.KindAdapterTransient, "anthropic", 401, errors.New("unauthorized"))
	})
	if calls != 1 {
		t.Errorf("expected a 401 status to short-circuit like KindAuthFailed, got %d attempts", calls)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRun_AttemptTimesOut(t *testing.T) {
	calls := 0
	_, err := Run(context.Background(), Config{RetryLimit: 0, Timeout: 10 * time.Millisecond, Rand: zeroRand, Sleep: noSleep}, func(ctx context.Context) (any, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var rerr *routererr.Error
	if !errors.As(err, &rerr) || rerr.Kind != routererr.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}

func TestRun_BackoffCapsAtMaxBackoff(t *testing.T) {
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) { waits = append(waits, d) }

	calls := 0
	_, _ = Run(context.Background(), Config{RetryLimit: 5, Rand: zeroRand, Sleep: sleep}, func(ctx context.Context) (any, error) {
		calls++
		return nil, routererr.New(routererr.KindAdapterTransient, "openai", "fail")
	})

	if len(waits) != 5 {
		t.Fatalf("expected 5 inter-attempt waits for RetryLimit=5, got %d", len(waits))
	}
	for i, w := range waits {
		if w > MaxBackoff {
			t.Errorf("wait[%d]=%v exceeds MaxBackoff=%v", i, w, MaxBackoff)
		}
	}
	// With zeroRand, wait = backoff + backoff*0.5 = backoff*1.5, and backoff
	// doubles each iteration until it hits the cap.
	if waits[0] != BaseBackoff*3/2 {
		t.Errorf("expected first wait to be BaseBackoff*1.5=%v, got %v", BaseBackoff*3/2, waits[0])
	}
}

func oneRand() float64 { return 1 }

func TestRun_WaitNeverExceedsMaxBackoffEvenAtMaxJitter(t *testing.T) {
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) { waits = append(waits, d) }

	// rand() -> 1 maximises the jitter multiplier (0.5+rand()=1.5), so once
	// backoff has climbed near MaxBackoff, the naive backoff*(0.5+rand())
	// formula would overshoot it; wait must still be capped.
	_, _ = Run(context.Background(), Config{RetryLimit: 5, Rand: oneRand, Sleep: sleep}, func(ctx context.Context) (any, error) {
		return nil, routererr.New(routererr.KindAdapterTransient, "openai", "fail")
	})

	if len(waits) != 5 {
		t.Fatalf("expected 5 inter-attempt waits for RetryLimit=5, got %d", len(waits))
	}
	for i, w := range waits {
		if w > MaxBackoff {
			t.Errorf("wait[%d]=%v exceeds MaxBackoff=%v", i, w, MaxBackoff)
		}
	}
	// backoff=BaseBackoff=250ms, wait=250ms+250ms*1.5=625ms, still under cap.
	want := BaseBackoff + time.Duration(float64(BaseBackoff)*1.5)
	if waits[0] != want {
		t.Errorf("expected first wait to be %v, got %v", want, waits[0])
	}
	// By the last iterations backoff itself has saturated at MaxBackoff, so
	// wait = MaxBackoff + MaxBackoff*1.5 would be 10s without the cap — it
	// must be clamped down to MaxBackoff.
	if waits[len(waits)-1] != MaxBackoff {
		t.Errorf("expected the last wait to be clamped to MaxBackoff=%v, got %v", MaxBackoff, waits[len(waits)-1])
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}
