// Package cache provides a file-based cache for AI analyzer responses.
//
// Cache entries are keyed by a SHA-256 hash of the provider name, model and
// prompt. Each entry stores the raw LLM response along with a creation
// timestamp and a TTL. Expired entries are skipped on read and counted by
// [Cache.GetStats].
//
// Storage goes through an [afero.Fs] so the server and CLI use the OS
// filesystem while tests run on memory. The default directory is
// $XDG_CACHE_HOME/compliancebot (or the OS-appropriate equivalent). Prompts
// are redacted before they are hashed or stored.
package cache
