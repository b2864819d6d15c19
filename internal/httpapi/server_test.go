package httpapi

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

func TestSummarizeResponse_MarshalsBothSnakeAndCamelCase(t *testing.T) {
	resp := summarizeResponse{
		Text:        "a summary",
		Model:       "gemini-2.0-flash",
		Provider:    "gemini",
		TokensIn:    10,
		TokensOut:   20,
		TotalTokens: 30,
		UsageTotals: domain.UsageTotals{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CumulativeTotals: domain.UsageTotals{
			PromptTokens:     110,
			CompletionTokens: 220,
			TotalTokens:      330,
		},
		DryRun: true,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	wantTop := map[string]float64{
		"tokens_in":    10,
		"tokensIn":     10,
		"tokens_out":   20,
		"tokensOut":    20,
		"total_tokens": 30,
		"totalTokens":  30,
	}
	for key, want := range wantTop {
		v, ok := got[key].(float64)
		if !ok || v != want {
			t.Errorf("key %q: expected %v, got %v (present=%v)", key, want, v, ok)
		}
	}

	for _, key := range []string{"dry_run", "dryRun"} {
		v, ok := got[key].(bool)
		if !ok || !v {
			t.Errorf("expected %q to be true, got %v (present=%v)", key, v, ok)
		}
	}

	for _, key := range []string{"usage_totals", "usageTotals"} {
		nested, ok := got[key].(map[string]any)
		if !ok {
			t.Fatalf("expected %q to be an object, got %T", key, got[key])
		}
		for _, innerKey := range []string{"prompt_tokens", "promptTokens"} {
			v, ok := nested[innerKey].(float64)
			if !ok || v != 10 {
				t.Errorf("%s.%s: expected 10, got %v (present=%v)", key, innerKey, v, ok)
			}
		}
	}

	for _, key := range []string{"cumulative_totals", "cumulativeTotals"} {
		nested, ok := got[key].(map[string]any)
		if !ok {
			t.Fatalf("expected %q to be an object, got %T", key, got[key])
		}
		if v, ok := nested["totalTokens"].(float64); !ok || v != 330 {
			t.Errorf("%s.totalTokens: expected 330, got %v (present=%v)", key, v, ok)
		}
	}

	if got["text"] != "a summary" || got["model"] != "gemini-2.0-flash" || got["provider"] != "gemini" {
		t.Errorf("expected core text fields to pass through unchanged, got text=%v model=%v provider=%v", got["text"], got["model"], got["provider"])
	}
}

func TestSummarizeResponse_OmitsDryRunFlagsWhenFalse(t *testing.T) {
	resp := summarizeResponse{Text: "x", DryRun: false}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if _, ok := got["dry_run"]; ok {
		t.Error("expected dry_run to be omitted when DryRun is false")
	}
	if _, ok := got["dryRun"]; ok {
		t.Error("expected dryRun to be omitted when DryRun is false")
	}
}
