package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-20241022"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicAdapter summarises via Anthropic's Messages API, grounded on the
// teacher's internal/providers/anthropic package.
type AnthropicAdapter struct{}

func NewAnthropic() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) Kind() string { return "anthropic" }

func (a *AnthropicAdapter) Summarise(ctx context.Context, req Request) (Result, error) {
	if req.APIKey == "" {
		return Result{}, routererr.New(routererr.KindMissingKey, a.Kind(), "no API key resolved")
	}

	opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if req.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(req.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultAnthropicMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: languageInstruction(req.Language) + defaultSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					{OfText: &anthropic.TextBlockParam{Text: req.Text}},
				},
			},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, toAnthropicRouterErr(a.Kind(), err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		if tb, ok := b.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}

	return Result{
		Summary:          sb.String(),
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
		Model:            string(msg.Model),
	}, nil
}

func toAnthropicRouterErr(provider string, err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		kind := routererr.KindAdapterTransient
		if routererr.IsAuth(apierr.StatusCode) {
			kind = routererr.KindAuthFailed
		}
		return routererr.Wrap(kind, provider, apierr.StatusCode, err)
	}
	return routererr.Wrap(routererr.KindAdapterTransient, provider, 0, err)
}
