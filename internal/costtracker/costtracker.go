// Package costtracker defines the Cost Tracker collaborator contract from
// spec.md §4.4 and ships two reference implementations: an in-memory one
// (the router's own tests use it as the default) and a Redis-backed one that
// persists cumulative usage across restarts — the concrete form of "usage
// totals persist via the Cost Tracker collaborator" in spec.md §1/§3.
//
// The router never mutates a CostTracker's internals; it only calls the
// documented methods (spec.md §3 "Ownership").
package costtracker

import "context"

// Estimate mirrors the Cost Tracker's {promptTokens, completionTokens, totalTokens}.
type Estimate struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Totals mirrors getUsageTotals()/getCumulativeTotals() result shape.
type Totals struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// RecordMetadata carries the call context into Record, e.g. provider/model,
// for hosts that want per-dimension accounting.
type RecordMetadata struct {
	Provider string
	Model    string
}

// Tracker is the Cost Tracker collaborator contract, spec.md §4.4. It is
// implemented outside the core router package; the router only consumes it.
type Tracker interface {
	// EstimateTokenUsage heuristically estimates token usage for a candidate
	// request. Must never return an error — heuristics degrade gracefully.
	EstimateTokenUsage(model, text string) Estimate

	// CanSpend reports whether the tracker currently admits a call costing
	// tokens total tokens.
	CanSpend(tokens int64) bool

	// Record books promptTokens/completionTokens against model/metadata and
	// returns the recorded total.
	Record(ctx context.Context, model string, promptTokens, completionTokens int64, meta RecordMetadata) (int64, error)

	// GetUsageTotals returns within-cycle (enforced) totals.
	GetUsageTotals(ctx context.Context) (Totals, error)

	// GetCumulativeTotals returns lifetime totals, including excluded entries.
	GetCumulativeTotals(ctx context.Context) (Totals, error)

	// EstimateTokensFromText is the fallback heuristic used when an adapter
	// omits token counts in its response (spec.md §4.8).
	EstimateTokensFromText(text string) int64
}
