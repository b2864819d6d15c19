package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/summary-router/pkg/routererr"
)

func TestOpenAIAdapter_MissingKey(t *testing.T) {
	a := NewOpenAI()
	_, err := a.Summarise(context.Background(), Request{Text: "hello"})
	assertKind(t, err, routererr.KindMissingKey)
}

func TestOpenAIAdapter_Summarise(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("expected default model gpt-4o-mini, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": "a brief summary"}, "finish_reason": "stop"}},
			"usage":   map[string]int64{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer server.Close()

	a := NewOpenAI()
	res, err := a.Summarise(context.Background(), Request{
		Text:     "long article text",
		APIKey:   "sk-test",
		Endpoint: server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "a brief summary" {
		t.Errorf("expected summary to be propagated, got %q", res.Summary)
	}
	if res.PromptTokens != 12 || res.CompletionTokens != 4 {
		t.Errorf("expected usage tokens to be propagated, got %+v", res)
	}
}

func TestOpenAIAdapter_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid api key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	a := NewOpenAI()
	_, err := a.Summarise(context.Background(), Request{Text: "hi", APIKey: "bad", Endpoint: server.URL})
	assertKind(t, err, routererr.KindAuthFailed)
}

func assertKind(t *testing.T, err error, want routererr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error of kind %s, got nil", want)
	}
	rerr, ok := err.(*routererr.Error)
	if !ok {
		t.Fatalf("expected *routererr.Error, got %T: %v", err, err)
	}
	if rerr.Kind != want {
		t.Errorf("expected kind %s, got %s", want, rerr.Kind)
	}
}
