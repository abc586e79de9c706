// Package providers implements the Client interface for each supported LLM
// backend used by the AI analyzer.
//
// Supported providers: Groq (the default), OpenAI, and Ollama / LM Studio
// through the OpenAI-compatible chat completions API, plus Anthropic (Claude)
// through its messages API.
//
// All providers share a common retry helper with exponential back-off that
// retries rate limits and server errors. HTTP clients are held in a field so
// that tests can redirect calls to local httptest servers without making live
// API requests.
//
// Use [New] to obtain a Client by provider name.
package providers
