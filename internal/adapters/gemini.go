package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiAdapter summarises via the Gemini GenAI SDK, grounded on the
// teacher's internal/providers/gemini package. It serves both the "gemini"
// adapter kind (Google AI Studio, API-key auth) and the "vertexai" kind
// (Vertex AI, OAuth access-token auth, per spec.md §4.8) — the Router
// chooses which credential shape to populate in Request before calling in.
type GeminiAdapter struct{}

func NewGemini() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) Kind() string { return "gemini" }

func (a *GeminiAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	client, err := a.client(ctx, req)
	if err != nil {
		return Result{}, err
	}

	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: languageInstruction(req.Language) + defaultSystemPrompt}},
		},
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return Result{}, toGeminiRouterErr(a.Kind(), err)
	}

	out := ""
	var inTok, outTok int64
	if resp != nil {
		out = resp.Text()
		if resp.UsageMetadata != nil {
			inTok = int64(resp.UsageMetadata.PromptTokenCount)
			outTok = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	return Result{
		Summary:          out,
		PromptTokens:     inTok,
		CompletionTokens: outTok,
		Model:            model,
	}, nil
}

// client picks the Vertex AI backend when an OAuth access token is present
// (spec.md §4.8's "Gemini tries its API key path first, falling back to
// Vertex when an access token is supplied instead"), otherwise the
// Google AI Studio backend with an API key.
func (a *GeminiAdapter) client(ctx context.Context, req Request) (*genai.Client, error) {
	if req.AccessToken != "" {
		if req.Project == "" || req.Location == "" {
			return nil, routererr.New(routererr.KindMissingKey, "vertexai", "vertex credential missing project/location")
		}
		cfg := &genai.ClientConfig{
			Project:  req.Project,
			Location: req.Location,
			Backend:  genai.BackendVertexAI,
			HTTPClient: &http.Client{
				Transport: bearerTokenTransport{
					token: req.AccessToken,
					base:  http.DefaultTransport,
				},
			},
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, routererr.Wrap(routererr.KindAdapterTransient, "vertexai", 0, err)
		}
		return client, nil
	}

	if req.APIKey == "" {
		return nil, routererr.New(routererr.KindMissingKey, a.Kind(), "no API key resolved")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}
	return client, nil
}

// bearerTokenTransport injects the Vertex Token Service's resolved access
// token as an Authorization header on every outgoing request, so the genai
// client's Vertex backend uses spec.md §4.3's exchanged token instead of
// silently falling back to Application Default Credentials discovery.
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

func toGeminiRouterErr(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := routererr.KindAdapterTransient
		if routererr.IsAuth(apiErr.Code) {
			kind = routererr.KindAuthFailed
		}
		return routererr.Wrap(kind, provider, apiErr.Code, fmt.Errorf("%s", apiErr.Message))
	}
	return routererr.Wrap(routererr.KindAdapterTransient, provider, 0, err)
}
