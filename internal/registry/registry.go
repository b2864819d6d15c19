// Package registry implements the static provider registry and alias
// resolution described in spec.md §4.1 — a direct generalisation of the
// teacher gateway's providers.ModelAliases / providers.DefaultFallbackOrder
// tables (internal/providers/provider.go) from "model name -> provider" to
// "provider alias -> canonical provider id, plus tier metadata".
package registry

import (
	"strings"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

// aliasTable maps every known alias (including canonical ids themselves) to
// the canonical provider id.
var aliasTable = map[string]domain.ProviderId{
	"ollama": "ollama",

	"huggingface":      "huggingface",
	"huggingface_free": "huggingface",

	"gemini":       "gemini",
	"gemini_paid":  "gemini",
	"gemini_trial": "gemini",

	"openai":      "openai",
	"openai_paid": "openai",

	"anthropic":      "anthropic",
	"anthropic_paid": "anthropic",

	"mistral":       "mistral",
	"mistral_paid":  "mistral",
	"mistral_trial": "mistral",

	"vertexai":      "vertexai",
	"vertexai_paid": "vertexai",
}

// metadataTable is the fixed per-provider metadata table from spec.md §3.
var metadataTable = map[domain.ProviderId]domain.ProviderMetadata{
	"ollama": {Tier: domain.TierLocal, RequiresKey: false, AdapterKind: "ollama", DisplayName: "Ollama"},

	"huggingface": {Tier: domain.TierFree, RequiresKey: false, AdapterKind: "huggingface", DisplayName: "Hugging Face"},

	"gemini": {Tier: domain.TierPaid, RequiresKey: true, AdapterKind: "gemini", DisplayName: "Gemini"},

	"openai": {Tier: domain.TierPaid, RequiresKey: true, AdapterKind: "openai", DisplayName: "OpenAI"},

	"anthropic": {Tier: domain.TierPaid, RequiresKey: true, AdapterKind: "anthropic", DisplayName: "Anthropic"},

	"mistral": {Tier: domain.TierPaid, RequiresKey: true, AdapterKind: "mistral", DisplayName: "Mistral"},

	// vertexai shares the gemini adapter kind per spec.md §4.8.
	"vertexai": {Tier: domain.TierPaid, RequiresKey: true, AdapterKind: "gemini", DisplayName: "Vertex AI"},
}

// DefaultOrder is a suggested provider sequence a host MAY use to populate
// RoutingConfig.ProviderOrder explicitly — the equivalent of the teacher's
// providers.DefaultFallbackOrder, reordered free/local-first because the
// routing engine (unlike the teacher's pure chat proxy) favours cost
// control. The Router itself never substitutes this for an empty
// ProviderOrder: per spec.md §6, an unconfigured providerOrder yields no
// candidates apart from the caller's preference.
var DefaultOrder = []domain.ProviderId{
	"ollama",
	"huggingface",
	"gemini",
	"openai",
	"anthropic",
	"mistral",
}

// Registry resolves aliases and looks up per-provider metadata.
type Registry struct{}

// New creates a Registry. The registry holds no mutable state; it is safe
// for concurrent use and cheap to construct.
func New() *Registry { return &Registry{} }

// Resolve trims, lower-cases, and maps known aliases to a canonical id.
// Unknown ids are returned unchanged (lower-cased/trimmed) per spec.md §4.1.
func (r *Registry) Resolve(id domain.ProviderId) domain.ProviderId {
	norm := strings.ToLower(strings.TrimSpace(string(id)))
	if canon, ok := aliasTable[norm]; ok {
		return canon
	}
	return domain.ProviderId(norm)
}

// Metadata returns the metadata for a canonical provider id, defaulting to
// {paid, requiresKey:true, adapterKind=canonical} when absent, per spec.md §4.1.
func (r *Registry) Metadata(canonical domain.ProviderId) domain.ProviderMetadata {
	if m, ok := metadataTable[canonical]; ok {
		return m
	}
	return domain.ProviderMetadata{
		Tier:        domain.TierPaid,
		RequiresKey: true,
		AdapterKind: string(canonical),
		DisplayName: string(canonical),
	}
}

// LegacyIdOf strips the _paid/_trial/_free suffix to get the bare name used
// to locate older stored credentials, per spec.md §4.1. It applies no other
// alias mapping: an id without one of those suffixes reports false.
func (r *Registry) LegacyIdOf(canonical domain.ProviderId) (domain.ProviderId, bool) {
	s := string(canonical)
	for _, suffix := range []string{"_paid", "_trial", "_free"} {
		if strings.HasSuffix(s, suffix) {
			return domain.ProviderId(strings.TrimSuffix(s, suffix)), true
		}
	}
	return "", false
}

// KnownProviders returns every canonical provider id the registry knows
// about, for diagnostics (e.g. a host's /health endpoint).
func (r *Registry) KnownProviders() []domain.ProviderId {
	out := make([]domain.ProviderId, 0, len(metadataTable))
	for id := range metadataTable {
		out = append(out, id)
	}
	return out
}
