package router

import (
	"context"
	"errors"
	"testing"
	"time"

	fakeadapters "github.com/nulpointcorp/summary-router/mock/adapters"

	"github.com/nulpointcorp/summary-router/internal/adapters"
	"github.com/nulpointcorp/summary-router/internal/credential"
	"github.com/nulpointcorp/summary-router/internal/domain"
	"github.com/nulpointcorp/summary-router/internal/health"
	"github.com/nulpointcorp/summary-router/internal/registry"
	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

// S1 — Free preference wins: order ["gemini_paid","openai_paid"], preference
// "ollama" (local/non-paid). Expected effective order
// ["ollama","gemini_paid"->"gemini","openai_paid"->"openai"]; ollama attempted first.
func TestScenario_S1_FreePreferenceWins(t *testing.T) {
	fake := fakeadapters.New("ollama", fakeadapters.Outcome{Result: adapters.Result{Summary: "ok"}})
	ad := adapters.Default()
	ad.Register("ollama", fake)

	cfg := domain.RoutingConfig{ProviderOrder: []domain.ProviderId{"gemini_paid", "openai_paid"}}
	r := newTestRouter(cfg, ad)

	got := r.buildCandidates(cfg, pref("ollama"))
	want := []domain.ProviderId{"ollama", "gemini", "openai"}
	if len(got) != len(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}

	resp, err := r.Generate(context.Background(), domain.Request{Text: "some text", Preference: pref("ollama")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "ollama" {
		t.Errorf("expected ollama to be attempted first, got %v", resp.Provider)
	}
}

// S2 — Circuit-break skip: order ["openai_paid","anthropic_paid"]. Pre-state
// openai_paid.failures=3, blockedUntilMs=now+60000. Anthropic succeeds with
// summary "ok". Expected: anthropic invoked, openai skipped (circuit_open),
// response provider="anthropic".
func TestScenario_S2_CircuitBreakSkip(t *testing.T) {
	fakeOpenAI := fakeadapters.New("openai", fakeadapters.Outcome{Result: adapters.Result{Summary: "should not be reached"}})
	fakeAnthropic := fakeadapters.New("anthropic", fakeadapters.Outcome{Result: adapters.Result{Summary: "ok"}})
	ad := adapters.Default()
	ad.Register("openai", fakeOpenAI)
	ad.Register("anthropic", fakeAnthropic)

	cfg := domain.RoutingConfig{ProviderOrder: []domain.ProviderId{"openai_paid", "anthropic_paid"}}
	r := newTestRouter(cfg, ad)

	for i := uint32(0); i < health.Threshold; i++ {
		r.health.RecordFailure("openai", false)
	}

	resp, err := r.Generate(context.Background(), domain.Request{Text: "some text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "anthropic" || resp.Text != "ok" {
		t.Fatalf("expected anthropic to serve with summary 'ok', got %+v", resp)
	}
	if len(fakeOpenAI.Calls) != 0 {
		t.Errorf("expected openai to be skipped while its circuit is open, got %d calls", len(fakeOpenAI.Calls))
	}
}

// S3 — Token cap skip + paid-disabled failure: disablePaid=true, order
// ["huggingface_free"], adapter for huggingface absent. Expected: fails with
// the aggregate NoCandidatesError carrying the paid-disabled message —
// huggingface is free/local tier so disablePaid does not skip it, but with
// no adapter wired it fails as adapter_transient, leaving no candidate.
func TestScenario_S3_NoAdapterWiredExhaustsCandidates(t *testing.T) {
	ad := &adapters.Registry{} // no huggingface adapter registered
	cfg := domain.RoutingConfig{ProviderOrder: []domain.ProviderId{"huggingface_free"}, DisablePaid: true}
	r := newTestRouter(cfg, ad)

	_, err := r.Generate(context.Background(), domain.Request{Text: "some text"})
	var nc *routererr.NoCandidatesError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NoCandidatesError when no adapter serves the only candidate, got %v", err)
	}
	var rerr *routererr.Error
	if !errors.As(nc.Causes[0], &rerr) || rerr.Kind != routererr.KindAdapterTransient {
		t.Errorf("expected the cause to be an unwired-adapter transient failure, got %v", nc.Causes[0])
	}
}

// S4 — Timeout then retry succeeds: timeoutMs=50, retryLimit=1. First
// attempt exceeds 50ms, second returns in 10ms. Expected: a single
// successful response; failures=0 after; exactly one retry backoff slept.
func TestScenario_S4_TimeoutThenRetrySucceeds(t *testing.T) {
	attempts := 0
	fake := &fakeadapters.Fake{KindName: "ollama"}
	slowThenFast := &timeoutThenSucceedAdapter{Fake: fake, attempts: &attempts}

	ad := adapters.Default()
	ad.Register("ollama", slowThenFast)

	cfg := domain.RoutingConfig{
		ProviderOrder: []domain.ProviderId{"ollama"},
		RetryLimit:    1,
		TimeoutMs:     50,
	}
	r := newTestRouter(cfg, ad)

	resp, err := r.Generate(context.Background(), domain.Request{Text: "some text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "ollama" {
		t.Fatalf("expected a successful ollama response, got %+v", resp)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts (1 timeout + 1 success), got %d", attempts)
	}

	snap := r.health.Snapshot("ollama")
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("expected failures=0 after the eventual success, got %d", snap.ConsecutiveFailures)
	}
}

// timeoutThenSucceedAdapter blocks past the executor's timeout on its first
// call, then returns immediately on subsequent calls.
type timeoutThenSucceedAdapter struct {
	*fakeadapters.Fake
	attempts *int
}

func (a *timeoutThenSucceedAdapter) Kind() string { return "ollama" }

func (a *timeoutThenSucceedAdapter) Summarise(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	*a.attempts++
	if *a.attempts == 1 {
		select {
		case <-ctx.Done():
			return adapters.Result{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return adapters.Result{}, nil
		}
	}
	return adapters.Result{Summary: "fast summary"}, nil
}

// S5 — Auth failure is terminal: adapter returns {status:401}. Expected: one
// attempt only; breaker increments; authInvalid=true; request fails with
// AuthFailed; subsequent attempt with the same key hash leaves authInvalid
// set; changing the key hash clears it.
func TestScenario_S5_AuthFailureIsTerminal(t *testing.T) {
	fake := fakeadapters.New("openai", fakeadapters.Outcome{
		Err: routererr.Wrap(routererr.KindAuthFailed, "openai", 401, errAuthScenario),
	})
	ad := adapters.Default()
	ad.Register("openai", fake)

	reg := registry.New()
	cred := credential.New(credential.MapStore{"openai": "sk-bad"}, reg)
	cfg := domain.RoutingConfig{ProviderOrder: []domain.ProviderId{"openai"}}
	r := New(reg, cred, health.New(), ad, nil, cfg, domain.GeminiConfig{})

	_, err := r.Generate(context.Background(), domain.Request{Text: "some text"})
	var nc *routererr.NoCandidatesError
	if !errors.As(err, &nc) {
		t.Fatalf("expected a terminal NoCandidatesError, got %v", err)
	}
	if len(fake.Calls) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(fake.Calls))
	}

	snap := r.health.Snapshot("openai")
	if snap.ConsecutiveFailures != 1 || !snap.AuthInvalid {
		t.Fatalf("expected the breaker to increment and authInvalid to be set, got %+v", snap)
	}

	// Same key, same credential -> same key hash -> authInvalid stays set.
	_, _ = r.Generate(context.Background(), domain.Request{Text: "some text"})
	if !r.health.Snapshot("openai").AuthInvalid {
		t.Error("expected authInvalid to remain set while the key hash is unchanged")
	}

	// A different credential for the same provider clears it on next observe.
	cred2 := credential.New(credential.MapStore{"openai": "sk-new-and-different"}, reg)
	r2 := New(reg, cred2, r.health, ad, nil, cfg, domain.GeminiConfig{})
	ad.Register("openai", fakeadapters.New("openai", fakeadapters.Outcome{Result: adapters.Result{Summary: "ok"}}))
	_, _ = r2.Generate(context.Background(), domain.Request{Text: "some text"})
	if r2.health.Snapshot("openai").AuthInvalid {
		t.Error("expected a changed key hash to clear authInvalid")
	}
}

var errAuthScenario = errors.New("invalid api key")
