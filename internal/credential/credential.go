// Package credential implements the Credential Resolver from spec.md §4.2:
// it locates API keys across a primary store, a legacy-alias store, and an
// environment variable fallback, and it owns the rolling-polynomial key hash
// used everywhere in the engine to detect credential-identity changes
// (never as a credential itself — see spec.md §9).
package credential

import (
	"os"

	"github.com/nulpointcorp/summary-router/internal/domain"
	"github.com/nulpointcorp/summary-router/internal/registry"
)

// modulus is the largest Mersenne prime below 2^32 used by rolling
// polynomial digests — 2^31 - 1 — matching spec.md §4.2's "31-bit digest".
const modulus int64 = 2147483647 // 2^31 - 1
const base int64 = 131

// Store is a read-only key-value lookup over a provider's stored secret.
// Hosts back this with whatever persistence layer they use; the resolver
// never mutates it. persistent storage backends are an out-of-scope
// collaborator per spec.md §1 — Store is the interface seam for it.
type Store interface {
	// Get returns the secret for provider and whether it was found.
	Get(provider domain.ProviderId) (string, bool)
}

// MapStore is a minimal in-memory Store, useful for tests and for hosts that
// keep credentials in a loaded config file rather than a database.
type MapStore map[domain.ProviderId]string

func (m MapStore) Get(provider domain.ProviderId) (string, bool) {
	v, ok := m[provider]
	return v, ok
}

// Resolver resolves API keys for a provider, in the order documented by
// spec.md §4.2: primary store -> legacy-alias store -> environment variable.
type Resolver struct {
	primary  Store
	registry *registry.Registry
}

// New creates a Resolver backed by primary (the "current" credential store).
// reg is used to compute the legacy alias for the second lookup tier.
func New(primary Store, reg *registry.Registry) *Resolver {
	if primary == nil {
		primary = MapStore{}
	}
	return &Resolver{primary: primary, registry: reg}
}

// ResolveApiKey implements spec.md §4.2's resolveApiKey(provider, config).
// apiKeyEnvVar is the env var name from the provider's config block (may be
// empty, in which case tier 3 is skipped). Returns ("", false) when no tier
// produces a hit.
func (r *Resolver) ResolveApiKey(provider domain.ProviderId, apiKeyEnvVar string) (string, bool) {
	if v, ok := r.primary.Get(provider); ok && v != "" {
		return v, true
	}

	if r.registry != nil {
		if legacy, ok := r.registry.LegacyIdOf(provider); ok {
			if v, ok := r.primary.Get(legacy); ok && v != "" {
				return v, true
			}
		}
	}

	if apiKeyEnvVar != "" {
		if v := os.Getenv(apiKeyEnvVar); v != "" {
			return v, true
		}
	}

	return "", false
}

// KeyHash computes the deterministic positive-integer digest used to detect
// credential-identity changes (spec.md §4.2, §9). It is a rolling polynomial
// digest modulo 2^31-1 — adequate for change detection, never suitable as a
// cryptographic identifier, and must never be logged alongside the plaintext
// secret.
func KeyHash(secret string) int64 {
	var h int64
	for i := 0; i < len(secret); i++ {
		h = (h*base + int64(secret[i])) % modulus
	}
	if h < 0 {
		h += modulus
	}
	return h
}
