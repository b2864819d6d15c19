// Package metrics provides a Prometheus metrics registry for the routing
// engine host.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when the engine is embedded
// in other applications — the same isolation rule the teacher gateway's
// metrics.Registry follows. The /metrics HTTP handler is exposed via
// Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// router_inflight_requests
	inFlight prometheus.Gauge

	// router_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// router_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// router_http_request_size_bytes{route}
	httpReqSize *prometheus.HistogramVec

	// router_http_response_size_bytes{route,status}
	httpRespSize *prometheus.HistogramVec

	// router_generate_total{provider,outcome} — one per candidate attempt
	// Generate invokes: success, auth_failed, transient (skipped candidates
	// are counted in router_candidate_skips_total).
	generateTotal *prometheus.CounterVec

	// router_generate_duration_seconds{provider,outcome}
	generateDuration *prometheus.HistogramVec

	// router_candidate_skips_total{provider,reason}
	candidateSkips *prometheus.CounterVec

	// router_retry_attempts_total{provider}
	retryAttempts *prometheus.CounterVec

	// router_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// router_budget_denied_total{provider}
	budgetDenied *prometheus.CounterVec

	// router_circuit_breaker_state{provider} — 0=closed, 1=open
	circuitBreakerState *prometheus.GaugeVec

	// router_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// router_vertex_token_exchanges_total{result}
	vertexTokenExchanges *prometheus.CounterVec

	// router_provider_health{provider} — 1=ok, 0=degraded
	providerHealth *prometheus.GaugeVec

	// router_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the router host",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_http_requests_total",
				Help: "Total number of HTTP requests handled by the router host",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, end-to-end including every candidate attempt",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		httpReqSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_request_size_bytes",
				Help:    "HTTP request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B .. ~512KB
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 14), // 256B .. ~2MB
			},
			[]string{"route", "status"},
		),

		generateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_generate_total",
				Help: "Total Generate candidate attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		generateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_generate_duration_seconds",
				Help:    "Duration of a single candidate attempt, by provider and outcome",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "outcome"},
		),

		candidateSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_candidate_skips_total",
				Help: "Candidates skipped before invocation, by provider and skip reason",
			},
			[]string{"provider", "reason"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_retry_attempts_total",
				Help: "Retry attempts made by the retry/timeout executor, by provider",
			},
			[]string{"provider"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_tokens_total",
				Help: "Token usage totals recorded by the cost tracker, by provider and direction",
			},
			[]string{"provider", "direction"},
		),

		budgetDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_budget_denied_total",
				Help: "Candidates denied admission by the cost tracker, by provider",
			},
			[]string{"provider"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_circuit_breaker_state",
				Help: "Circuit breaker state per provider (0=closed,1=open)",
			},
			[]string{"provider"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state, by provider",
			},
			[]string{"provider", "to_state"},
		),

		vertexTokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_vertex_token_exchanges_total",
				Help: "Vertex OAuth2 JWT-bearer token exchanges, by result (ok, error)",
			},
			[]string{"result"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_provider_health",
				Help: "Provider health status (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpReqSize,
		r.httpRespSize,
		r.generateTotal,
		r.generateDuration,
		r.candidateSkips,
		r.retryAttempts,
		r.tokensTotal,
		r.budgetDenied,
		r.circuitBreakerState,
		r.cbTransitions,
		r.vertexTokenExchanges,
		r.providerHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for the front door.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, reqBytes, respBytes int) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if reqBytes >= 0 {
		r.httpReqSize.WithLabelValues(route).Observe(float64(reqBytes))
	}
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route, status).Observe(float64(respBytes))
	}
}

// ObserveGenerate records one candidate attempt's outcome and duration.
func (r *Registry) ObserveGenerate(provider, outcome string, dur time.Duration) {
	r.generateTotal.WithLabelValues(provider, outcome).Inc()
	r.generateDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

// RecordCandidateSkip records a candidate skipped before invocation.
func (r *Registry) RecordCandidateSkip(provider, reason string) {
	r.candidateSkips.WithLabelValues(provider, reason).Inc()
}

// RecordRetryAttempt records one retry (not counting the first attempt).
func (r *Registry) RecordRetryAttempt(provider string) {
	r.retryAttempts.WithLabelValues(provider).Inc()
}

// RecordBudgetDenied records a candidate denied admission by the cost tracker.
func (r *Registry) RecordBudgetDenied(provider string) {
	r.budgetDenied.WithLabelValues(provider).Inc()
}

// AddTokens records token usage for a successful candidate attempt.
func (r *Registry) AddTokens(provider string, promptTokens, completionTokens int64) {
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordVertexTokenExchange records one outcome of the Vertex Token Service.
func (r *Registry) RecordVertexTokenExchange(result string) {
	r.vertexTokenExchanges.WithLabelValues(result).Inc()
}

// SetProviderHealth sets the provider health gauge.
func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != float64(state) {
		r.lastCBState[provider] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(provider, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
