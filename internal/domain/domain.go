// Package domain holds the shared data model consumed by every collaborator
// of the LLM routing engine (registry, credential resolver, health/circuit
// breaker, retry executor, and the router orchestrator itself). Keeping
// these types in one leaf package avoids import cycles between the
// collaborators described in spec.md §3.
package domain

// ProviderId is a canonical, lower-case provider identifier. The "auto"
// sentinel means "no preference".
type ProviderId string

// AutoProvider is the sentinel meaning "no preference".
const AutoProvider ProviderId = "auto"

// ProviderTier governs ordering, skip rules, and whether a user preference
// is prepended or appended to the default candidate order.
type ProviderTier string

const (
	TierLocal ProviderTier = "local"
	TierFree  ProviderTier = "free"
	TierTrial ProviderTier = "trial"
	TierPaid  ProviderTier = "paid"
)

// ProviderMetadata is the fixed per-provider table entry from spec.md §3/§4.1.
type ProviderMetadata struct {
	Tier         ProviderTier
	RequiresKey  bool
	AdapterKind  string
	DisplayName  string
}

// CredentialKind distinguishes the three credential shapes from spec.md §3.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialAPIKey
	CredentialOAuth
)

// Credential is a tagged union: None | ApiKey{secret,keyHash} | OAuth{...}.
type Credential struct {
	Kind    CredentialKind
	Secret  string // ApiKey only
	KeyHash int64  // ApiKey only — stable 31-bit digest used for identity comparisons

	AccessToken string // OAuth only
	Project     string
	Location    string
	Endpoint    string
	ExpiresAtMs int64
}

// ProviderHealth is the mutable per-provider health/circuit-breaker record.
type ProviderHealth struct {
	ConsecutiveFailures uint32
	BlockedUntilMs      int64
	AuthInvalid         bool
	LastKeyHash         *int64

	CumulativeCalls        uint64
	CumulativeTokensIn     uint64
	CumulativeTokensOut    uint64
	CumulativeTotalTokens  uint64
}

// RoutingConfig is the host-supplied routing configuration, spec.md §3/§6.
type RoutingConfig struct {
	ProviderOrder    []ProviderId
	RetryLimit       uint32
	TimeoutMs        uint32
	DisablePaid      bool
	DryRun           bool
	MaxTokensPerCall uint32
}

// RequestMetadata mirrors spec.md §3's { type, url, segmentId }.
type RequestMetadata struct {
	Type      string
	URL       string
	SegmentID string
}

// Request is the normalized inbound request to Router.Generate.
type Request struct {
	Text        string
	Language    string // default "en"
	Preference  *ProviderId
	Metadata    RequestMetadata
}

// UsageTotals mirrors the Cost Tracker's {promptTokens, completionTokens, totalTokens}.
type UsageTotals struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Response is the normalized outbound response from Router.Generate.
type Response struct {
	Text              string
	TokensIn          int64
	TokensOut         int64
	TotalTokens       int64
	Model             string
	Provider          ProviderId
	UsageTotals       UsageTotals
	CumulativeTotals  UsageTotals
	DryRun            bool
}

// FailureRecord accumulates one candidate's outcome for the aggregate error.
type FailureRecord struct {
	Provider ProviderId
	Reason   string // e.g. "token_cap", "circuit_open", "paid_disabled"
	Err      error  // underlying error, if any
}

// GeminiConfig mirrors spec.md §6's gemini config block.
type GeminiConfig struct {
	ProjectEnv        string
	LocationEnv       string
	CredentialsEnv    string
	VertexEndpointEnv string
	DefaultModelFree  string
	DefaultModelPaid  string
}

// ProviderConfig mirrors spec.md §6's per-provider config block.
type ProviderConfig struct {
	Model           string
	APIUrl          string
	APIKeyEnvVar    string
	Temperature     float64
	Headers         map[string]string
	TranscriptionURL string
	TTSUrl          string
}
