package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: "https://api.groq.com/openai/v1/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.baseURL != "https://api.groq.com/openai/v1" {
		t.Fatalf("base url not normalized: %s", client.baseURL)
	}
	if client.model != defaultModelName {
		t.Fatalf("model = %s, want default", client.model)
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", got)
		}

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(payload.Messages) != 2 || payload.Messages[1].Content != "snacks for 50 people" {
			t.Errorf("unexpected messages: %+v", payload.Messages)
		}
		if payload.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %s", payload.ResponseFormat.Type)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "{\"categories\": [\"snacks\", \"badges\"]}"}}],
			"usage": {"total_tokens": 57}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	client.httpClient = srv.Client()

	result, err := client.Classify(context.Background(), "snacks for 50 people")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Categories) != 2 || result.Categories[0] != "snacks" || result.Categories[1] != "badges" {
		t.Fatalf("categories = %v", result.Categories)
	}
	if result.Telemetry.Model != "test-model" {
		t.Fatalf("telemetry model = %s", result.Telemetry.Model)
	}
	if result.Telemetry.TokensUsed != 57 {
		t.Fatalf("tokens used = %d, want 57", result.Telemetry.TokensUsed)
	}
}

func TestClassifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Classify(context.Background(), "anything"); err == nil {
		t.Fatalf("expected error for 429 response")
	}
}

func TestClassifyEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Classify(context.Background(), "anything"); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestParseCategories(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"wrapped object", `{"categories": ["snacks", "prizes"]}`, []string{"snacks", "prizes"}, false},
		{"bare array", `["adapters"]`, []string{"adapters"}, false},
		{"fenced markdown", "```json\n{\"categories\": [\"badges\"]}\n```", []string{"badges"}, false},
		{"empty content", "   ", nil, true},
		{"prose", "I cannot help with that.", nil, true},
		{"empty list", `{"categories": []}`, nil, true},
	}
	for _, tc := range cases {
		got, err := parseCategories(tc.content)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %v", tc.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: categories = %v, want %v", tc.name, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: categories = %v, want %v", tc.name, got, tc.want)
			}
		}
	}
}
