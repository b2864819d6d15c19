package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-small-latest"
)

type mistralChatRequest struct {
	Model       string          `json:"model"`
	Messages    []mistralChatMsg `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type mistralChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message mistralChatMsg `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MistralAdapter summarises via Mistral's Chat Completions REST API with
// plain net/http + encoding/json, grounded on the teacher's
// internal/providers/mistral package (Mistral has no official Go SDK in the
// retrieval pack, so the teacher hand-rolls the HTTP client too).
type MistralAdapter struct {
	httpClient *http.Client
}

func NewMistral() *MistralAdapter {
	return &MistralAdapter{httpClient: &http.Client{}}
}

func (a *MistralAdapter) Kind() string { return "mistral" }

func (a *MistralAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	if req.APIKey == "" {
		return Result{}, routererr.New(routererr.KindMissingKey, a.Kind(), "no API key resolved")
	}

	baseURL := req.Endpoint
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	model := req.Model
	if model == "" {
		model = defaultMistralModel
	}

	body := mistralChatRequest{
		Model: model,
		Messages: []mistralChatMsg{
			{Role: "system", Content: languageInstruction(req.Language) + defaultSystemPrompt},
			{Role: "user", Content: req.Text},
		},
		Temperature: req.Temperature,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		kind := routererr.KindAdapterTransient
		if routererr.IsAuth(resp.StatusCode) {
			kind = routererr.KindAuthFailed
		}
		var parsed mistralChatResponse
		_ = json.Unmarshal(respBody, &parsed)
		msg := fmt.Sprintf("mistral: HTTP %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return Result{}, routererr.Wrap(kind, a.Kind(), resp.StatusCode, fmt.Errorf("%s", msg))
	}

	var parsed mistralChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	return Result{
		Summary:          content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Model:            parsed.Model,
	}, nil
}
