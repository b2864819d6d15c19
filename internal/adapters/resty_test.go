package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaAdapter_Summarise(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected /api/generate, got %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "llama3.2" {
			t.Errorf("expected default model llama3.2, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":          "ollama summary",
			"prompt_eval_count": 5,
			"eval_count":        2,
		})
	}))
	defer server.Close()

	a := NewOllama()
	res, err := a.Summarise(context.Background(), Request{Text: "some text", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "ollama summary" {
		t.Errorf("expected summary to be propagated, got %q", res.Summary)
	}
	if res.PromptTokens != 5 || res.CompletionTokens != 2 {
		t.Errorf("expected eval counts to be mapped to token fields, got %+v", res)
	}
}

func TestOllamaAdapter_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	a := NewOllama()
	_, err := a.Summarise(context.Background(), Request{Text: "hi", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestHuggingFaceAdapter_Summarise(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer hf-test" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{{"summary_text": "hf summary"}})
	}))
	defer server.Close()

	a := NewHuggingFace()
	res, err := a.Summarise(context.Background(), Request{
		Text:     "some text",
		APIKey:   "hf-test",
		Endpoint: server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "hf summary" {
		t.Errorf("expected summary to be propagated, got %q", res.Summary)
	}
}

func TestHuggingFaceAdapter_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	a := NewHuggingFace()
	_, err := a.Summarise(context.Background(), Request{Text: "hi", APIKey: "bad", Endpoint: server.URL})
	if err == nil {
		t.Fatal("expected an error")
	}
}
