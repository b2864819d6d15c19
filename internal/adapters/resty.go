package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

const (
	defaultOllamaBaseURL     = "http://localhost:11434"
	defaultOllamaModel       = "llama3.2"
	defaultHuggingFaceBase   = "https://api-inference.huggingface.co/models"
	defaultHuggingFaceModel  = "facebook/bart-large-cnn"
)

// OllamaAdapter summarises via a local (or self-hosted) Ollama server's
// /api/generate endpoint using go-resty/v2, grounded on the go-resty
// transport style of Sanix-Darker-prev's internal/provider/openai package —
// Ollama has no official Go SDK in the retrieval pack, unlike openai/anthropic.
type OllamaAdapter struct {
	client *resty.Client
}

func NewOllama() *OllamaAdapter {
	return &OllamaAdapter{client: resty.New().SetHeader("Content-Type", "application/json")}
}

func (a *OllamaAdapter) Kind() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

func (a *OllamaAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	baseURL := req.Endpoint
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := req.Model
	if model == "" {
		model = defaultOllamaModel
	}

	prompt := languageInstruction(req.Language) + defaultSystemPrompt + "\n\n" + req.Text

	var out ollamaGenerateResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{Model: model, Prompt: prompt, Stream: false}).
		SetResult(&out).
		Post(baseURL + "/api/generate")
	if err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), resp.StatusCode(),
			fmt.Errorf("ollama: HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	return Result{
		Summary:          out.Response,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Model:            model,
	}, nil
}

// HuggingFaceAdapter summarises via the HuggingFace Inference API's
// summarization task using go-resty/v2, sourced from the same provider's
// retrieval-pack precedent as OllamaAdapter.
type HuggingFaceAdapter struct {
	client *resty.Client
}

func NewHuggingFace() *HuggingFaceAdapter {
	return &HuggingFaceAdapter{client: resty.New().SetHeader("Content-Type", "application/json")}
}

func (a *HuggingFaceAdapter) Kind() string { return "huggingface" }

type hfSummarizationResult struct {
	SummaryText string `json:"summary_text"`
}

func (a *HuggingFaceAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	baseURL := req.Endpoint
	if baseURL == "" {
		baseURL = defaultHuggingFaceBase
	}
	model := req.Model
	if model == "" {
		model = defaultHuggingFaceModel
	}

	r := a.client.R().SetContext(ctx).SetBody(map[string]string{"inputs": req.Text})
	if req.APIKey != "" {
		r = r.SetAuthToken(req.APIKey)
	}

	var out []hfSummarizationResult
	resp, err := r.SetResult(&out).Post(baseURL + "/" + model)
	if err != nil {
		return Result{}, routererr.Wrap(routererr.KindAdapterTransient, a.Kind(), 0, err)
	}
	if resp.StatusCode() != http.StatusOK {
		kind := routererr.KindAdapterTransient
		if routererr.IsAuth(resp.StatusCode()) {
			kind = routererr.KindAuthFailed
		}
		return Result{}, routererr.Wrap(kind, a.Kind(), resp.StatusCode(),
			fmt.Errorf("huggingface: HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	summary := ""
	if len(out) > 0 {
		summary = out[0].SummaryText
	}

	return Result{Summary: summary, Model: model}, nil
}
