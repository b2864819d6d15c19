// Package httpapi is the routing engine's HTTP front door: it exposes
// POST /v1/summarize, GET /health, and GET /metrics over fasthttp, grounded
// on the teacher gateway's internal/proxy router/middleware pair
// (internal/proxy/router.go, internal/proxy/middleware.go) but fronting the
// Router Orchestrator's Generate call instead of the OpenAI-compatible chat
// proxy.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	fastrouter "github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/summary-router/internal/domain"
	"github.com/nulpointcorp/summary-router/internal/metrics"
	"github.com/nulpointcorp/summary-router/internal/router"
	"github.com/nulpointcorp/summary-router/pkg/apierr"
)

// Server wires the Router Orchestrator to an HTTP surface.
type Server struct {
	router      *router.Router
	metrics     *metrics.Registry
	log         *slog.Logger
	corsOrigins []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCORSOrigins sets the allowed CORS origins. Defaults to "*".
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// New builds a Server fronting r.
func New(r *router.Router, m *metrics.Registry, log *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{router: r, metrics: m, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// summarizeRequest is the POST /v1/summarize request body.
type summarizeRequest struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Preference *string `json:"preference"`
	Metadata   struct {
		Type      string `json:"type"`
		URL       string `json:"url"`
		SegmentID string `json:"segment_id"`
	} `json:"metadata"`
}

// summarizeResponse is the POST /v1/summarize response body. spec.md §6
// mandates both snake_case and camelCase key sets for external payloads
// (the browser-extension JS client reads camelCase; other consumers read
// snake_case), so this type marshals itself by hand rather than relying on
// a single struct tag per field.
type summarizeResponse struct {
	Text             string
	Model            string
	Provider         string
	TokensIn         int64
	TokensOut        int64
	TotalTokens      int64
	UsageTotals      domain.UsageTotals
	CumulativeTotals domain.UsageTotals
	DryRun           bool
}

// MarshalJSON emits every numeric/usage field under both its snake_case and
// camelCase key, per spec.md §6. Core text fields (text/model/provider) are
// single-word and need no dual-casing.
func (r summarizeResponse) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"text":     r.Text,
		"model":    r.Model,
		"provider": r.Provider,

		"tokens_in": r.TokensIn,
		"tokensIn":  r.TokensIn,

		"tokens_out": r.TokensOut,
		"tokensOut":  r.TokensOut,

		"total_tokens": r.TotalTokens,
		"totalTokens":  r.TotalTokens,

		"usage_totals": usageTotalsJSON(r.UsageTotals),
		"usageTotals":  usageTotalsJSON(r.UsageTotals),

		"cumulative_totals": usageTotalsJSON(r.CumulativeTotals),
		"cumulativeTotals":  usageTotalsJSON(r.CumulativeTotals),
	}
	if r.DryRun {
		out["dry_run"] = true
		out["dryRun"] = true
	}
	return json.Marshal(out)
}

// usageTotalsJSON dual-cases a UsageTotals' own fields the same way.
func usageTotalsJSON(u domain.UsageTotals) map[string]any {
	return map[string]any{
		"prompt_tokens": u.PromptTokens,
		"promptTokens":  u.PromptTokens,

		"completion_tokens": u.CompletionTokens,
		"completionTokens":  u.CompletionTokens,

		"total_tokens": u.TotalTokens,
		"totalTokens":  u.TotalTokens,
	}
}

func (s *Server) handleSummarize(ctx *fasthttp.RequestCtx) {
	var body summarizeRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed JSON body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	req := domain.Request{
		Text:     body.Text,
		Language: body.Language,
		Metadata: domain.RequestMetadata{
			Type:      body.Metadata.Type,
			URL:       body.Metadata.URL,
			SegmentID: body.Metadata.SegmentID,
		},
	}
	if body.Preference != nil {
		pref := domain.ProviderId(*body.Preference)
		req.Preference = &pref
	}

	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := s.router.Generate(reqCtx, req)
	if err != nil {
		apierr.WriteRouterError(ctx, err)
		return
	}

	writeJSON(ctx, summarizeResponse{
		Text:             resp.Text,
		Model:            resp.Model,
		Provider:         string(resp.Provider),
		TokensIn:         resp.TokensIn,
		TokensOut:        resp.TokensOut,
		TotalTokens:      resp.TotalTokens,
		UsageTotals:      resp.UsageTotals,
		CumulativeTotals: resp.CumulativeTotals,
		DryRun:           resp.DryRun,
	})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"status":    "ok",
		"providers": s.router.Providers(),
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}

// ManagementRoutes holds optional management API handlers registered
// alongside the summarize route.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// Start starts the HTTP server on addr (e.g. ":8080"). Pass nil for mgmt to
// start without a /metrics route.
func (s *Server) Start(addr string, mgmt *ManagementRoutes) error {
	r := fastrouter.New()

	r.POST("/v1/summarize", s.handleSummarize)
	r.GET("/health", s.handleHealth)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		s.instrument,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}
