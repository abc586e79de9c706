package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func init() {
	backoffBase = time.Millisecond
}

func newTestOpenAI(name, url string) *OpenAI {
	return &OpenAI{
		name:    name,
		apiKey:  "test-key",
		model:   "llama-3.1-70b-versatile",
		baseURL: url,
		client:  http.DefaultClient,
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var got openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Missing or wrong Authorization header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		resp := openaiResponse{
			Choices: []openaiChoice{
				{Message: openaiMessage{Role: "assistant", Content: `{"findings":[]}`}},
			},
			Usage: openaiUsage{TotalTokens: 50},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	o := newTestOpenAI("groq", server.URL)
	resp, err := o.Complete(context.Background(), Request{
		SystemPrompt: "system",
		UserPrompt:   "user",
		MaxTokens:    2048,
		Temperature:  0.2,
		JSON:         true,
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if resp.Content != `{"findings":[]}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 50 {
		t.Errorf("TokensUsed = %d, want 50", resp.TokensUsed)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want json_object", got.ResponseFormat)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", got.Temperature)
	}
	if got.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "user" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}

func TestOpenAI_DefaultsWithoutJSON(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	o := newTestOpenAI("openai", server.URL)
	if _, err := o.Complete(context.Background(), Request{UserPrompt: "x"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if _, ok := got["response_format"]; ok {
		t.Error("response_format should be omitted")
	}
	if _, ok := got["temperature"]; ok {
		t.Error("temperature should be omitted when zero")
	}
	if got["max_tokens"].(float64) != 4096 {
		t.Errorf("max_tokens = %v, want 4096", got["max_tokens"])
	}
}

func TestOpenAI_RateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(429)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "[]"}}},
		})
	}))
	defer server.Close()

	resp, err := newTestOpenAI("groq", server.URL).Complete(context.Background(), Request{UserPrompt: "test"})
	if err != nil {
		t.Fatalf("Complete error after retries: %v", err)
	}
	if resp.Content != "[]" {
		t.Errorf("Content = %q, want %q", resp.Content, "[]")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", attempts)
	}
}

func TestOpenAI_ServerErrorExhaustsRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(503)
		w.Write([]byte("unavailable"))
	}))
	defer server.Close()

	_, err := newTestOpenAI("groq", server.URL).Complete(context.Background(), Request{UserPrompt: "test"})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if err.Error() != "server error: unavailable" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestOpenAI_AuthError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(401)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	_, err := newTestOpenAI("openai", server.URL).Complete(context.Background(), Request{UserPrompt: "test"})
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("auth errors must not be retried, got %d attempts", attempts)
	}
}

func TestOpenAI_EmptyResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices":[]}`},
		{"empty content", `{"choices":[{"message":{"role":"assistant","content":""}}]}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()
			if _, err := newTestOpenAI("openai", server.URL).Complete(context.Background(), Request{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewOllama_URLNormalization(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantURL string
	}{
		{"default", "", "http://localhost:11434/v1/chat/completions"},
		{"trailing slash", "http://localhost:11434/", "http://localhost:11434/v1/chat/completions"},
		{"with v1", "http://localhost:11434/v1", "http://localhost:11434/v1/chat/completions"},
		{"with full path", "http://localhost:11434/v1/chat/completions", "http://localhost:11434/v1/chat/completions"},
		{"custom host", "http://192.168.1.100:11434", "http://192.168.1.100:11434/v1/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OLLAMA_HOST", tt.host)
			t.Setenv("COMPLIANCEBOT_OLLAMA_API_KEY", "")

			o, err := NewOllama(Options{Model: "llama3"})
			if err != nil {
				t.Fatalf("NewOllama error: %v", err)
			}
			if o.baseURL != tt.wantURL {
				t.Errorf("baseURL = %q, want %q", o.baseURL, tt.wantURL)
			}
			if o.Name() != "ollama" {
				t.Errorf("Name() = %q", o.Name())
			}
		})
	}
}

func TestOllama_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("unexpected Authorization header")
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	t.Setenv("COMPLIANCEBOT_OLLAMA_API_KEY", "")
	o, err := NewOllama(Options{Model: "llama3", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Complete(context.Background(), Request{UserPrompt: "x"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(Options{Provider: "unknown"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
	if _, err := New(Options{Provider: "groq"}); err == nil {
		t.Error("Expected error for missing GROQ_API_KEY")
	}

	c, err := New(Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("New default error: %v", err)
	}
	if c.Name() != "groq" {
		t.Errorf("default provider = %q, want groq", c.Name())
	}
	if c.(*OpenAI).model != "llama-3.1-70b-versatile" {
		t.Errorf("default model = %q", c.(*OpenAI).model)
	}

	for _, name := range []string{"ollama", "lmstudio"} {
		c, err := New(Options{Provider: name})
		if err != nil {
			t.Fatalf("New(%q) error: %v", name, err)
		}
		if c.Name() != "ollama" {
			t.Errorf("New(%q).Name() = %q, want %q", name, c.Name(), "ollama")
		}
	}

	c, err = New(Options{Provider: "claude", APIKey: "k"})
	if err != nil {
		t.Fatalf("New(claude) error: %v", err)
	}
	if c.Name() != "anthropic" {
		t.Errorf("New(claude).Name() = %q", c.Name())
	}
	if DefaultModel("openai") != "gpt-4o" {
		t.Errorf("DefaultModel(openai) = %q", DefaultModel("openai"))
	}
}
