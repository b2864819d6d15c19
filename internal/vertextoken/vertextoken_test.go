package vertextoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServiceAccountPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test RSA key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func newTestService(t *testing.T, exchanges *int, server *httptest.Server, clock func() time.Time) *Service {
	t.Helper()
	pem := testServiceAccountPEM(t)
	sa := serviceAccountFile{ClientEmail: "svc@example.iam.gserviceaccount.com", PrivateKey: pem}
	raw, err := json.Marshal(sa)
	if err != nil {
		t.Fatalf("marshal service account: %v", err)
	}

	s := New(WithHTTPClient(server.Client()), WithClock(clock))
	s.getenv = func(string) string { return "" }
	s.readFile = func(string) ([]byte, error) { return raw, nil }
	s.tokenURL = server.URL
	return s
}

// S6 — Vertex token caching: the first call with no pre-supplied env token
// triggers a JWT exchange; a second call within expires_in-60s reuses the
// cached token (exactly one exchange observed over two invocations).
func TestScenario_S6_VertexTokenCaching(t *testing.T) {
	exchanges := 0
	now := time.Now()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cached-token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	s := newTestService(t, &exchanges, server, func() time.Time { return now })

	params := Params{Project: "proj", Location: "us-central1", CredentialsPath: "/fake/path.json"}

	cred1, err := s.Token(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error on first Token call: %v", err)
	}
	if cred1.AccessToken != "cached-token" {
		t.Fatalf("expected the exchanged token, got %q", cred1.AccessToken)
	}

	// Well within expires_in(3600s) - refreshSkew(60s).
	now = now.Add(30 * time.Minute)
	cred2, err := s.Token(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error on second Token call: %v", err)
	}
	if cred2.AccessToken != cred1.AccessToken {
		t.Fatalf("expected the cached token to be reused, got a different token")
	}

	if exchanges != 1 {
		t.Fatalf("expected exactly one JWT exchange across two invocations, got %d", exchanges)
	}
}

func TestToken_RefreshesPastExpirySkew(t *testing.T) {
	exchanges := 0
	now := time.Now()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	s := newTestService(t, &exchanges, server, func() time.Time { return now })

	params := Params{Project: "proj", Location: "us-central1", CredentialsPath: "/fake/path.json"}
	if _, err := s.Token(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Past expires_in - refreshSkew: a fresh exchange is required.
	now = now.Add(59 * time.Minute)
	if _, err := s.Token(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exchanges != 2 {
		t.Fatalf("expected a refresh once within the skew window, got %d exchanges", exchanges)
	}
}

func TestToken_PreSuppliedEnvTokenShortCircuitsExchange(t *testing.T) {
	exchanges := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(WithHTTPClient(server.Client()))
	s.getenv = func(name string) string {
		if name == "VERTEX_ACCESS_TOKEN" {
			return "preset-token"
		}
		return ""
	}
	s.tokenURL = server.URL

	cred, err := s.Token(context.Background(), Params{Project: "proj", Location: "us-central1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.AccessToken != "preset-token" {
		t.Fatalf("expected the pre-supplied env token, got %q", cred.AccessToken)
	}
	if exchanges != 0 {
		t.Fatalf("expected the JWT exchange to be skipped entirely, got %d calls", exchanges)
	}
}

func TestClear_ForcesRefreshOnNextCall(t *testing.T) {
	exchanges := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "token", "expires_in": 3600})
	}))
	defer server.Close()

	now := time.Now()
	s := newTestService(t, &exchanges, server, func() time.Time { return now })

	params := Params{Project: "proj", Location: "us-central1", CredentialsPath: "/fake/path.json"}
	if _, err := s.Token(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Clear()

	if _, err := s.Token(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exchanges != 2 {
		t.Fatalf("expected Clear to force a fresh exchange, got %d", exchanges)
	}
}
