// Package adapters implements the per-provider summarisation adapters the
// Router Orchestrator invokes once a candidate has cleared admission and
// health checks. Each adapter wraps a distinct upstream SDK/transport,
// grounded on the corresponding teacher provider package
// (internal/providers/<name>) but narrowed to the single "summarise text"
// operation the routing engine exposes, instead of the teacher's general
// chat-completion proxy surface.
package adapters

import (
	"context"
)

// Request is the normalized invocation context an adapter receives. The
// Router builds it per candidate (spec.md §4.8): resolving credentials,
// selecting a model name, and — for gemini/vertexai — choosing between an
// API-key and an OAuth access-token path.
type Request struct {
	Text        string
	Language    string
	Model       string
	Temperature float64

	APIKey      string // set for API-key-authenticated adapters
	AccessToken string // set for OAuth-authenticated adapters (vertexai)
	Project     string // Vertex project id
	Location    string // Vertex region
	Endpoint    string // override base URL (self-hosted ollama, custom gateway)
}

// Result is what the adapter observed from the upstream call. Token counts
// are adapter-reported when available; the Router falls back to the Cost
// Tracker's heuristic estimate when an adapter can't report them (spec.md §4.8).
type Result struct {
	Summary          string
	PromptTokens     int64
	CompletionTokens int64
	Model            string
}

// Adapter is implemented once per adapterKind named in the provider
// registry's metadata table (internal/registry).
type Adapter interface {
	Kind() string
	Summarise(ctx context.Context, req Request) (Result, error)
}

const defaultSystemPrompt = "You are a concise summarisation assistant. Summarise the user's text faithfully and briefly."

func languageInstruction(language string) string {
	if language == "" {
		return ""
	}
	return "Respond in " + language + ". "
}
