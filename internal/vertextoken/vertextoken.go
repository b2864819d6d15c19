// Package vertextoken implements the Vertex Token Service from spec.md §4.3:
// it exchanges a service-account JWT assertion for a short-lived Google
// OAuth2 access token and caches it until near-expiry.
//
// The JWT is built and signed with github.com/golang-jwt/jwt/v5 (the same
// library the rest of the retrieval pack uses for JWT handling, see
// BaSui01-agentflow's JWT middleware) rather than Google's ADC machinery —
// spec.md §4.3 requires the manual assertion-exchange wire format bit-exactly
// for interoperability, which rules out golang.org/x/oauth2/google's
// credential-file auto-refresh path.
package vertextoken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

const (
	tokenEndpoint   = "https://oauth2.googleapis.com/token"
	assertionScope  = "https://www.googleapis.com/auth/cloud-platform"
	grantType       = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	refreshSkewMs   = 60_000
	assertionTTL    = time.Hour
	envTokenTTLSecs = 3600
)

// EnvTokenVars is the fixed precedence order of pre-supplied access-token
// environment variables from spec.md §4.3.
var EnvTokenVars = []string{"VERTEX_ACCESS_TOKEN", "GOOGLE_VERTEX_TOKEN", "GCP_ACCESS_TOKEN"}

// serviceAccountFile is the subset of a GCP service-account JSON key file
// the engine needs.
type serviceAccountFile struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// cachedToken holds the single cached Vertex access token slot.
type cachedToken struct {
	token     string
	expiresAt int64 // unix ms
}

// Service implements the Vertex Token Service. A single Service instance
// owns exactly one cache slot, matching spec.md §3's "cached in a single
// slot" ownership rule — the Router holds exactly one Service.
type Service struct {
	mu     sync.Mutex
	cached cachedToken

	httpClient *http.Client
	clock      func() time.Time

	// getenv / readFile / tokenURL are swappable for tests.
	getenv   func(string) string
	readFile func(string) ([]byte, error)
	tokenURL string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for cache-expiry comparisons — useful
// for deterministic tests of the "refresh within 60s of expiry" rule.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithHTTPClient overrides the HTTP client used for the token exchange POST.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// New creates a Vertex Token Service.
func New(opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      time.Now,
		getenv:     os.Getenv,
		readFile:   os.ReadFile,
		tokenURL:   tokenEndpoint,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Params are the inputs to Token, spec.md §4.3.
type Params struct {
	Project         string
	Location        string
	CredentialsPath string
}

// Token returns a cached or freshly exchanged Vertex access token as an
// OAuth Credential, per the algorithm in spec.md §4.3.
func (s *Service) Token(ctx context.Context, p Params) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UnixMilli()
	if s.cached.token != "" && s.cached.expiresAt > now+refreshSkewMs {
		return s.credential(p, s.cached.token, s.cached.expiresAt), nil
	}

	// Step 1: pre-supplied environment tokens short-circuit the JWT exchange.
	for _, name := range EnvTokenVars {
		if v := strings.TrimSpace(s.getenv(name)); v != "" {
			expiresAt := now + envTokenTTLSecs*1000
			s.cached = cachedToken{token: v, expiresAt: expiresAt}
			return s.credential(p, v, expiresAt), nil
		}
	}

	// Step 2-6: exchange a signed service-account JWT for an access token.
	if p.CredentialsPath == "" {
		return domain.Credential{}, fmt.Errorf("vertextoken: no env token present and no credentials file configured")
	}

	raw, err := s.readFile(p.CredentialsPath)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("vertextoken: read credentials file: %w", err)
	}

	var sa serviceAccountFile
	if err := json.Unmarshal(raw, &sa); err != nil {
		return domain.Credential{}, fmt.Errorf("vertextoken: parse credentials file: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return domain.Credential{}, fmt.Errorf("vertextoken: credentials file missing client_email or private_key")
	}

	assertion, err := s.buildAssertion(sa)
	if err != nil {
		return domain.Credential{}, err
	}

	token, expiresIn, err := s.exchange(ctx, assertion)
	if err != nil {
		return domain.Credential{}, err
	}

	expiresAt := now + expiresIn*1000
	s.cached = cachedToken{token: token, expiresAt: expiresAt}
	return s.credential(p, token, expiresAt), nil
}

// Clear discards the cached token, forcing the next Token call to refresh.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = cachedToken{}
}

func (s *Service) credential(p Params, token string, expiresAtMs int64) domain.Credential {
	return domain.Credential{
		Kind:        domain.CredentialOAuth,
		AccessToken: token,
		Project:     p.Project,
		Location:    p.Location,
		ExpiresAtMs: expiresAtMs,
	}
}

// buildAssertion builds and signs the RS256 JWT-bearer assertion, spec.md §4.3
// step 3. The header/claims shape matches the spec bit-exactly.
func (s *Service) buildAssertion(sa serviceAccountFile) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("vertextoken: parse private key: %w", err)
	}

	now := s.clock()
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": assertionScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("vertextoken: sign assertion: %w", err)
	}
	return signed, nil
}

// exchange POSTs the assertion to Google's OAuth2 token endpoint, spec.md §4.3
// steps 4-6.
func (s *Service) exchange(ctx context.Context, assertion string) (token string, expiresIn int64, err error) {
	form := url.Values{
		"grant_type": {grantType},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("vertextoken: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("vertextoken: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("vertextoken: token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("vertextoken: parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("vertextoken: token response missing access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = envTokenTTLSecs
	}

	return tr.AccessToken, tr.ExpiresIn, nil
}
