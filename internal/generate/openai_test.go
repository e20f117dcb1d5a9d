package generate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/generate"
	"github.com/mjnet/mjnet/pkg/contracts"
)

func TestComplete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("request path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  Sounds great!  "}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	}))
	defer srv.Close()

	client := generate.NewOpenAIClient(config.GeneratorConfig{
		BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini", Temperature: 0.8, MaxTokens: 300,
	})

	result, err := client.Complete(context.Background(), &contracts.CompletionRequest{
		System: "You are an assistant",
		Turns:  []contracts.Turn{{Role: contracts.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Content != "Sounds great!" {
		t.Errorf("Content = %q, want trimmed %q", result.Content, "Sounds great!")
	}
	if result.Tokens.Total != 16 {
		t.Errorf("Tokens.Total = %d, want 16", result.Tokens.Total)
	}

	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request messages = %v, want system + user", msgs)
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestComplete_APIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := generate.NewOpenAIClient(config.GeneratorConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"})
	_, err := client.Complete(context.Background(), &contracts.CompletionRequest{
		Turns: []contracts.Turn{{Role: contracts.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete() on 429 = nil error, want failure")
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client := generate.NewOpenAIClient(config.GeneratorConfig{BaseURL: srv.URL, Model: "gpt-4o-mini"})
	_, err := client.Complete(context.Background(), &contracts.CompletionRequest{
		Turns: []contracts.Turn{{Role: contracts.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Complete() with no choices = nil error, want failure")
	}
}
