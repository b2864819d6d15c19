// Package router implements the Router Orchestrator, the central
// collaborator spec.md §4.7/§4.8 describes: it owns the health table,
// resolves credentials per candidate, enforces admission control via the
// Cost Tracker, invokes the Retry/Timeout Executor around each adapter call,
// and is the only component allowed to mutate the engine's shared state
// (spec.md §3 "Ownership"). It is grounded on the teacher gateway's Gateway
// (internal/proxy/gateway.go) and its requestWithFailover loop
// (internal/proxy/failover.go), generalised from "switch provider on HTTP
// error" to the engine's richer candidate-skip and auth-short-circuit rules.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/summary-router/internal/adapters"
	"github.com/nulpointcorp/summary-router/internal/costtracker"
	"github.com/nulpointcorp/summary-router/internal/credential"
	"github.com/nulpointcorp/summary-router/internal/domain"
	"github.com/nulpointcorp/summary-router/internal/health"
	"github.com/nulpointcorp/summary-router/internal/logger"
	"github.com/nulpointcorp/summary-router/internal/metrics"
	"github.com/nulpointcorp/summary-router/internal/registry"
	"github.com/nulpointcorp/summary-router/internal/retry"
	"github.com/nulpointcorp/summary-router/internal/vertextoken"
	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

// Router is the engine's orchestrator. One Router owns exactly one health
// table, one adapter cache, one provider-config cache, and one Vertex token
// slot, per spec.md §3.
type Router struct {
	mu sync.RWMutex

	registry    *registry.Registry
	credentials *credential.Resolver
	health      *health.Table
	adapters    *adapters.Registry
	vertexToken *vertextoken.Service
	log         *slog.Logger
	attemptLog  *logger.Logger
	metrics     *metrics.Registry
	getenv      func(string) string

	costTracker     costtracker.Tracker
	config          domain.RoutingConfig
	gemini          domain.GeminiConfig
	providerConfigs map[domain.ProviderId]domain.ProviderConfig
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithLogger overrides the structured logger used for warning-level events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithAttemptLogger installs the batched attempt logger (internal/logger)
// that records one AttemptLog entry per candidate attempt Generate makes.
// Optional — a nil attempt logger (the default) disables attempt tracing
// entirely.
func WithAttemptLogger(l *logger.Logger) Option {
	return func(r *Router) { r.attemptLog = l }
}

// WithMetrics installs a Prometheus metrics registry. Optional — a nil
// registry (the default) disables metrics recording entirely.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Router) { r.metrics = m }
}

// withGetenv overrides environment lookup — test-only seam.
func withGetenv(f func(string) string) Option {
	return func(r *Router) { r.getenv = f }
}

// New builds a Router. costTracker defaults to an unlimited in-memory
// tracker when nil; call SetCostTracker to replace it with a persistent one.
func New(
	reg *registry.Registry,
	cred *credential.Resolver,
	h *health.Table,
	ad *adapters.Registry,
	vt *vertextoken.Service,
	cfg domain.RoutingConfig,
	gemini domain.GeminiConfig,
	opts ...Option,
) *Router {
	r := &Router{
		registry:        reg,
		credentials:     cred,
		health:          h,
		adapters:        ad,
		vertexToken:     vt,
		log:             slog.Default(),
		getenv:          os.Getenv,
		costTracker:     costtracker.NewMemoryTracker(0),
		config:          cfg,
		gemini:          gemini,
		providerConfigs: make(map[domain.ProviderId]domain.ProviderConfig),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetCostTracker installs the Cost Tracker collaborator. Safe to call
// concurrently with Generate.
func (r *Router) SetCostTracker(t costtracker.Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costTracker = t
}

// SetAgentConfig installs the per-provider configuration block (model,
// API URL, API key env var, temperature, headers), keyed by canonical
// provider id.
func (r *Router) SetAgentConfig(cfg map[domain.ProviderId]domain.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerConfigs = cfg
}

// SetRoutingConfig replaces the routing configuration (provider order,
// retry limit, timeout, admission caps) — used by hosts that reload config
// at runtime.
func (r *Router) SetRoutingConfig(cfg domain.RoutingConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// ClearCaches discards the cached Vertex access token, forcing a fresh
// token exchange on the next Vertex-bound request.
func (r *Router) ClearCaches() {
	if r.vertexToken != nil {
		r.vertexToken.Clear()
	}
}

// Providers returns every canonical provider id the registry knows about.
func (r *Router) Providers() []domain.ProviderId {
	return r.registry.KnownProviders()
}

// snapshot copies the mutable configuration fields under lock, for use by
// Generate/DryRunAll without holding the lock across adapter calls.
func (r *Router) snapshot() (domain.RoutingConfig, domain.GeminiConfig, map[domain.ProviderId]domain.ProviderConfig, costtracker.Tracker) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config, r.gemini, r.providerConfigs, r.costTracker
}

// Generate implements spec.md §4.7/§4.8: build the candidate list, walk it
// in order, skip ineligible candidates, and invoke the first eligible one
// that the Retry/Timeout Executor reports success for.
func (r *Router) Generate(ctx context.Context, req domain.Request) (domain.Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return domain.Response{}, routererr.New(routererr.KindEmptyText, "", "request text must not be empty")
	}

	cfg, gemini, providerConfigs, tracker := r.snapshot()

	candidates := r.buildCandidates(cfg, req.Preference)
	if len(candidates) == 0 {
		return domain.Response{}, routererr.New(routererr.KindNoCandidates, "", "no candidate providers configured")
	}

	var causes []error
	requestID := uuid.New()

	for _, id := range candidates {
		meta := r.registry.Metadata(id)
		started := time.Now()

		if skipReason := r.admissionSkip(cfg, id, meta); skipReason != nil {
			causes = append(causes, skipReason)
			r.logAttempt(requestID, id, "", "skipped", skipReason.Error(), 0, 0, started)
			r.recordSkip(id, skipReason)
			continue
		}

		pc := providerConfigs[id]
		model := r.defaultModel(id, meta, pc, gemini)

		estimate := tracker.EstimateTokenUsage(model, req.Text)
		if cfg.MaxTokensPerCall > 0 && estimate.TotalTokens > int64(cfg.MaxTokensPerCall) {
			err := routererr.New(routererr.KindBudgetExceeded, string(id), "estimated tokens exceed per-call cap")
			causes = append(causes, err)
			r.logAttempt(requestID, id, model, "skipped", err.Error(), 0, 0, started)
			r.recordSkip(id, err)
			continue
		}
		if !tracker.CanSpend(estimate.TotalTokens) {
			err := routererr.New(routererr.KindBudgetExceeded, string(id), "cost tracker denied admission")
			causes = append(causes, err)
			r.logAttempt(requestID, id, model, "skipped", err.Error(), 0, 0, started)
			r.recordSkip(id, err)
			continue
		}

		invocation, keyHash, err := r.buildInvocation(ctx, id, meta, pc, gemini, model, req)
		if err != nil {
			causes = append(causes, err)
			r.logAttempt(requestID, id, model, "skipped", err.Error(), 0, 0, started)
			r.recordSkip(id, err)
			continue
		}
		if keyHash != nil {
			r.health.ObserveKeyHash(id, *keyHash)
		}

		if cfg.DryRun {
			return r.dryRunResponse(ctx, id, model, estimate, tracker), nil
		}

		adapter, ok := r.adapters.Get(meta.AdapterKind)
		if !ok {
			err := routererr.New(routererr.KindAdapterTransient, string(id), "no adapter wired for this kind")
			causes = append(causes, err)
			r.logAttempt(requestID, id, model, "skipped", err.Error(), 0, 0, started)
			r.recordSkip(id, err)
			continue
		}

		result, err := retry.Run(ctx, retry.Config{
			RetryLimit: cfg.RetryLimit,
			Timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		}, func(attemptCtx context.Context) (any, error) {
			return adapter.Summarise(attemptCtx, invocation)
		})

		if err != nil {
			authFail := isAuthFailure(err)
			r.health.RecordFailure(id, authFail)
			r.log.WarnContext(ctx, "candidate_failed",
				slog.String("provider", string(id)),
				slog.Bool("auth_failure", authFail),
				slog.String("error", err.Error()),
			)
			causes = append(causes, err)

			outcome := "transient"
			if authFail {
				outcome = "auth_failed"
			}
			r.logAttempt(requestID, id, model, outcome, "", 0, 0, started)
			if r.metrics != nil {
				r.metrics.ObserveGenerate(string(id), outcome, time.Since(started))
				r.metrics.SetCircuitBreaker(string(id), circuitState(r.health.IsBlocked(id)))
			}

			if authFail {
				return domain.Response{}, &routererr.NoCandidatesError{
					Message: fmt.Sprintf("provider %s returned an authentication error; request aborted", id),
					Causes:  causes,
				}
			}
			continue
		}

		res := result.(adapters.Result)
		r.logAttempt(requestID, id, model, "success", "", res.PromptTokens, res.CompletionTokens, started)
		if r.metrics != nil {
			r.metrics.ObserveGenerate(string(id), "success", time.Since(started))
			r.metrics.AddTokens(string(id), res.PromptTokens, res.CompletionTokens)
			r.metrics.SetProviderHealth(string(id), true)
		}
		return r.finalizeSuccess(ctx, id, model, req, res, tracker), nil
	}

	msg := "no candidate provider succeeded"
	if cfg.DisablePaid {
		msg = "No free providers available and paid disabled."
	}
	return domain.Response{}, &routererr.NoCandidatesError{
		Message: msg,
		Causes:  causes,
	}
}

// logAttempt records one candidate attempt via the batched attempt logger,
// when one is installed. requestID groups every attempt belonging to the
// same Generate call.
func (r *Router) logAttempt(requestID uuid.UUID, id domain.ProviderId, model, outcome, skipReason string, promptTokens, outputTokens int64, started time.Time) {
	if r.attemptLog == nil {
		return
	}
	latency := time.Since(started)
	r.attemptLog.Log(logger.AttemptLog{
		RequestID:    requestID,
		Provider:     string(id),
		Model:        model,
		Outcome:      outcome,
		SkipReason:   skipReason,
		PromptTokens: uint32(promptTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    uint32(latency.Milliseconds()),
		CreatedAt:    started,
	})
}

// recordSkip reports a candidate skip to the metrics registry, when one is
// installed, tagging it with the routererr.Kind that caused it.
func (r *Router) recordSkip(id domain.ProviderId, err error) {
	if r.metrics == nil {
		return
	}
	reason := "unknown"
	var rerr *routererr.Error
	if errors.As(err, &rerr) {
		reason = string(rerr.Kind)
	}
	r.metrics.RecordCandidateSkip(string(id), reason)
	if reason == string(routererr.KindBudgetExceeded) {
		r.metrics.RecordBudgetDenied(string(id))
	}
}

// circuitState maps a breaker's blocked/unblocked status onto the 0/1 gauge
// value router_circuit_breaker_state exports.
func circuitState(blocked bool) int64 {
	if blocked {
		return 1
	}
	return 0
}

// admissionSkip reports the reason a candidate is ineligible before any
// credential resolution or cost estimate is attempted, or nil if eligible.
func (r *Router) admissionSkip(cfg domain.RoutingConfig, id domain.ProviderId, meta domain.ProviderMetadata) error {
	if cfg.DisablePaid && meta.Tier == domain.TierPaid {
		return routererr.New(routererr.KindPaidDisabled, string(id), "paid providers disabled")
	}
	if r.health.IsBlocked(id) {
		return routererr.New(routererr.KindCircuitOpen, string(id), "circuit open")
	}
	return nil
}

func (r *Router) finalizeSuccess(ctx context.Context, id domain.ProviderId, model string, req domain.Request, res adapters.Result, tracker costtracker.Tracker) domain.Response {
	promptTokens := res.PromptTokens
	completionTokens := res.CompletionTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = tracker.EstimateTokensFromText(req.Text)
		completionTokens = tracker.EstimateTokensFromText(res.Summary)
	}

	r.health.RecordSuccess(id, promptTokens, completionTokens)

	total, err := tracker.Record(ctx, model, promptTokens, completionTokens, costtracker.RecordMetadata{
		Provider: string(id),
		Model:    model,
	})
	if err != nil {
		r.log.WarnContext(ctx, "cost_tracker_record_failed", slog.String("provider", string(id)), slog.String("error", err.Error()))
		total = promptTokens + completionTokens
	}

	usage, _ := tracker.GetUsageTotals(ctx)
	cumulative, _ := tracker.GetCumulativeTotals(ctx)

	respModel := sanitizeModelName(res.Model)
	if respModel == "" {
		respModel = model
	}

	return domain.Response{
		Text:        res.Summary,
		TokensIn:    promptTokens,
		TokensOut:   completionTokens,
		TotalTokens: total,
		Model:       respModel,
		Provider:    id,
		UsageTotals: domain.UsageTotals{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		CumulativeTotals: domain.UsageTotals{
			PromptTokens:     cumulative.PromptTokens,
			CompletionTokens: cumulative.CompletionTokens,
			TotalTokens:      cumulative.TotalTokens,
		},
	}
}

func (r *Router) dryRunResponse(ctx context.Context, id domain.ProviderId, model string, estimate costtracker.Estimate, tracker costtracker.Tracker) domain.Response {
	usage, _ := tracker.GetUsageTotals(ctx)
	cumulative, _ := tracker.GetCumulativeTotals(ctx)
	return domain.Response{
		TokensIn:    estimate.PromptTokens,
		TotalTokens: estimate.TotalTokens,
		Model:       model,
		Provider:    id,
		UsageTotals: domain.UsageTotals{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		CumulativeTotals: domain.UsageTotals{
			PromptTokens:     cumulative.PromptTokens,
			CompletionTokens: cumulative.CompletionTokens,
			TotalTokens:      cumulative.TotalTokens,
		},
		DryRun: true,
	}
}

// buildCandidates implements spec.md §4.7's candidate-ordering rule: the
// configured provider order, deduplicated and with "auto" omitted, then the
// caller's preference spliced in — prepended when its tier is not paid,
// appended when it is. An empty configured order yields zero non-preference
// candidates, per spec.md §6 ("routing.providerOrder: default: empty -> no
// candidates apart from preference"). An unknown preference falls back to
// the registry's default-paid metadata (registry.Metadata), so it is always
// appended — the "possibly buggy" behaviour spec.md documents and this
// engine preserves rather than silently correcting.
func (r *Router) buildCandidates(cfg domain.RoutingConfig, preference *domain.ProviderId) []domain.ProviderId {
	order := cfg.ProviderOrder

	seen := make(map[domain.ProviderId]bool, len(order))
	out := make([]domain.ProviderId, 0, len(order))
	for _, raw := range order {
		id := r.registry.Resolve(raw)
		if id == domain.AutoProvider || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}

	if preference == nil {
		return out
	}
	pref := r.registry.Resolve(*preference)
	if pref == domain.AutoProvider {
		return out
	}

	filtered := make([]domain.ProviderId, 0, len(out))
	for _, id := range out {
		if id != pref {
			filtered = append(filtered, id)
		}
	}

	meta := r.registry.Metadata(pref)
	if meta.Tier == domain.TierPaid {
		return append(filtered, pref)
	}
	return append([]domain.ProviderId{pref}, filtered...)
}

// defaultModel resolves the model name to send upstream: the provider's
// configured model, else — for the shared gemini/vertexai adapter kind —
// the tier-appropriate Gemini default, else empty (letting the adapter's
// own built-in default apply).
func (r *Router) defaultModel(id domain.ProviderId, meta domain.ProviderMetadata, pc domain.ProviderConfig, gemini domain.GeminiConfig) string {
	if pc.Model != "" {
		return pc.Model
	}
	if meta.AdapterKind == "gemini" {
		if meta.Tier == domain.TierPaid && gemini.DefaultModelPaid != "" {
			return gemini.DefaultModelPaid
		}
		if gemini.DefaultModelFree != "" {
			return gemini.DefaultModelFree
		}
	}
	return ""
}

// buildInvocation constructs the adapter Request for candidate id, per
// spec.md §4.8. It returns the key hash used for health.ObserveKeyHash when
// a credential was resolved (nil for key-less adapters like ollama).
func (r *Router) buildInvocation(
	ctx context.Context,
	id domain.ProviderId,
	meta domain.ProviderMetadata,
	pc domain.ProviderConfig,
	gemini domain.GeminiConfig,
	model string,
	req domain.Request,
) (adapters.Request, *int64, error) {
	inv := adapters.Request{
		Text:        req.Text,
		Language:    req.Language,
		Model:       model,
		Temperature: pc.Temperature,
		Endpoint:    pc.APIUrl,
	}

	if !meta.RequiresKey {
		return inv, nil, nil
	}

	if id == "vertexai" {
		return r.buildVertexInvocation(ctx, inv, gemini)
	}

	secret, found := r.credentials.ResolveApiKey(id, pc.APIKeyEnvVar)
	if found {
		inv.APIKey = secret
		h := credential.KeyHash(secret)
		return inv, &h, nil
	}

	// spec.md §4.8: Gemini tries its API-key path first, falling back to
	// Vertex (OAuth) when no API key is configured.
	if meta.AdapterKind == "gemini" {
		if vi, h, err := r.buildVertexInvocation(ctx, inv, gemini); err == nil {
			return vi, h, nil
		}
	}

	return adapters.Request{}, nil, routererr.New(routererr.KindMissingKey, string(id), "no credential resolved")
}

func (r *Router) buildVertexInvocation(ctx context.Context, inv adapters.Request, gemini domain.GeminiConfig) (adapters.Request, *int64, error) {
	if r.vertexToken == nil {
		return adapters.Request{}, nil, routererr.New(routererr.KindMissingKey, "vertexai", "no Vertex token service configured")
	}

	cred, err := r.vertexToken.Token(ctx, vertextoken.Params{
		Project:         r.getenv(gemini.ProjectEnv),
		Location:        r.getenv(gemini.LocationEnv),
		CredentialsPath: r.getenv(gemini.CredentialsEnv),
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordVertexTokenExchange("error")
		}
		return adapters.Request{}, nil, routererr.Wrap(routererr.KindMissingKey, "vertexai", 0, err)
	}
	if r.metrics != nil {
		r.metrics.RecordVertexTokenExchange("ok")
	}

	inv.AccessToken = cred.AccessToken
	inv.Project = cred.Project
	inv.Location = cred.Location
	h := credential.KeyHash(cred.AccessToken)
	return inv, &h, nil
}

// sanitizeModelName strips any "namespace/" prefix an adapter may echo back
// (e.g. Gemini's "models/gemini-2.0-flash"), per spec.md §4.8.
func sanitizeModelName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func isAuthFailure(err error) bool {
	var rerr *routererr.Error
	if errors.As(err, &rerr) {
		if rerr.Kind == routererr.KindAuthFailed {
			return true
		}
		return routererr.IsAuth(rerr.Status)
	}
	return false
}
