package router

import (
	"context"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

// CandidatePlan describes one candidate's fate without invoking its
// adapter — the element type DryRunAll returns.
type CandidatePlan struct {
	Provider domain.ProviderId
	Eligible bool
	Reason   string
	Model    string
}

// DryRunAll reports, for every candidate Generate would consider for req,
// whether it would be attempted and why not if not — without resolving
// credentials or calling any adapter. It never mutates health state.
func (r *Router) DryRunAll(ctx context.Context, req domain.Request) []CandidatePlan {
	cfg, gemini, providerConfigs, tracker := r.snapshot()

	candidates := r.buildCandidates(cfg, req.Preference)
	plans := make([]CandidatePlan, 0, len(candidates))

	for _, id := range candidates {
		meta := r.registry.Metadata(id)
		pc := providerConfigs[id]
		model := r.defaultModel(id, meta, pc, gemini)

		if err := r.admissionSkip(cfg, id, meta); err != nil {
			plans = append(plans, CandidatePlan{Provider: id, Eligible: false, Reason: err.Error(), Model: model})
			continue
		}

		estimate := tracker.EstimateTokenUsage(model, req.Text)
		if cfg.MaxTokensPerCall > 0 && estimate.TotalTokens > int64(cfg.MaxTokensPerCall) {
			plans = append(plans, CandidatePlan{Provider: id, Eligible: false, Reason: "estimated tokens exceed per-call cap", Model: model})
			continue
		}
		if !tracker.CanSpend(estimate.TotalTokens) {
			plans = append(plans, CandidatePlan{Provider: id, Eligible: false, Reason: "cost tracker denied admission", Model: model})
			continue
		}

		plans = append(plans, CandidatePlan{Provider: id, Eligible: true, Model: model})
	}

	return plans
}
