package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Request contains the data sent to an LLM.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	// JSON asks the backend for a single JSON object reply.
	JSON bool
}

// Response contains the raw response from an LLM.
type Response struct {
	Content    string
	TokensUsed int
}

// Client is the provider abstraction interface.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Options selects and configures a provider. Empty fields fall back to the
// provider's environment variables and defaults.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

var defaultModels = map[string]string{
	"groq":      "llama-3.1-70b-versatile",
	"openai":    "gpt-4o",
	"anthropic": "claude-sonnet-4-20250514",
	"ollama":    "llama3.1",
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[canonical(provider)]
}

// New creates a provider by name.
func New(opts Options) (Client, error) {
	name := canonical(opts.Provider)
	if opts.Model == "" {
		opts.Model = defaultModels[name]
	}
	switch name {
	case "groq":
		return NewGroq(opts)
	case "openai":
		return NewOpenAI(opts)
	case "anthropic":
		return NewAnthropic(opts)
	case "ollama":
		return NewOllama(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s", opts.Provider)
	}
}

func canonical(provider string) string {
	switch p := strings.ToLower(strings.TrimSpace(provider)); p {
	case "", "groq":
		return "groq"
	case "lmstudio":
		return "ollama"
	case "claude":
		return "anthropic"
	default:
		return p
	}
}

func keyOrEnv(key, env string) string {
	if key != "" {
		return key
	}
	return os.Getenv(env)
}

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
