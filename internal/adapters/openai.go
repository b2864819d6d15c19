package adapters

import (
	"context"
	"errors"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIAdapter summarises via OpenAI's Chat Completions API, grounded on
// the teacher's internal/providers/openai package.
type OpenAIAdapter struct{}

func NewOpenAI() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Kind() string { return "openai" }

func (a *OpenAIAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	if req.APIKey == "" {
		return Result{}, routererr.New(routererr.KindMissingKey, a.Kind(), "no API key resolved")
	}

	opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if req.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(req.Endpoint))
	}
	client := openaiSDK.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	params := openaiSDK.ChatCompletionNewParams{
		Model: model,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.SystemMessage(languageInstruction(req.Language) + defaultSystemPrompt),
			openaiSDK.UserMessage(req.Text),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, toRouterErr(a.Kind(), err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return Result{
		Summary:          content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Model:            resp.Model,
	}, nil
}

func toRouterErr(provider string, err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		kind := routererr.KindAdapterTransient
		if routererr.IsAuth(apierr.StatusCode) {
			kind = routererr.KindAuthFailed
		}
		return routererr.Wrap(kind, provider, apierr.StatusCode, err)
	}
	return routererr.Wrap(routererr.KindAdapterTransient, provider, 0, err)
}
