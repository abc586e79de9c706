package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/compliancebot/internal/analyzer"
	"github.com/dshills/compliancebot/internal/compliance"
	"github.com/dshills/compliancebot/internal/output"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COMPLIANCEBOT"

// Config represents the compliancebot configuration.
type Config struct {
	Provider    string         `mapstructure:"provider"`
	Model       string         `mapstructure:"model"`
	Format      string         `mapstructure:"format"`
	FailOn      string         `mapstructure:"failOn"`
	MaxFindings int            `mapstructure:"maxFindings"`
	Rules       RulesConfig    `mapstructure:"rules"`
	Sandbox     SandboxConfig  `mapstructure:"sandbox"`
	AI          AIConfig       `mapstructure:"ai"`
	Timeouts    TimeoutsConfig `mapstructure:"timeouts"`
	GitHub      GitHubConfig   `mapstructure:"github"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Privacy     PrivacyConfig  `mapstructure:"privacy"`
	Log         LogConfig      `mapstructure:"log"`
}

// RulesConfig points at rule and advisory files.
type RulesConfig struct {
	CustomFile     string   `mapstructure:"customFile"`
	AdvisoriesFile string   `mapstructure:"advisoriesFile"`
	Disabled       []string `mapstructure:"disabled"`
}

// SandboxConfig selects the sandbox backend. Backend "none" disables the
// sandbox stage.
type SandboxConfig struct {
	Backend  string             `mapstructure:"backend"`
	Image    string             `mapstructure:"image"`
	Scanners []analyzer.Scanner `mapstructure:"scanners"`
}

// AIConfig tunes the AI stage.
type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BatchSize       int           `mapstructure:"batchSize"`
	MaxContentChars int           `mapstructure:"maxContentChars"`
	EnhanceLimit    int           `mapstructure:"enhanceLimit"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
	Focus           []string      `mapstructure:"focus"`
}

// TimeoutsConfig bounds each pipeline stage.
type TimeoutsConfig struct {
	Rules   time.Duration `mapstructure:"rules"`
	Sandbox time.Duration `mapstructure:"sandbox"`
	AI      time.Duration `mapstructure:"ai"`
}

// GitHubConfig configures API access.
type GitHubConfig struct {
	Token            string `mapstructure:"token"`
	APIURL           string `mapstructure:"apiURL"`
	CheckName        string `mapstructure:"checkName"`
	FetchConcurrency int    `mapstructure:"fetchConcurrency"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	MaxConcurrentRuns int           `mapstructure:"maxConcurrentRuns"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
}

// DatabaseConfig selects the run store. An empty URL keeps runs in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig controls caching of AI responses.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PrivacyConfig controls privacy/redaction behavior.
type PrivacyConfig struct {
	RedactSecrets bool     `mapstructure:"redactSecrets"`
	RedactPaths   []string `mapstructure:"redactPaths"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider:    "groq",
		Format:      "text",
		FailOn:      "none",
		MaxFindings: 0,
		Sandbox: SandboxConfig{
			Backend: "none",
			Image:   "returntocorp/semgrep:latest",
		},
		AI: AIConfig{
			Enabled:         true,
			BatchSize:       5,
			MaxContentChars: 2000,
			EnhanceLimit:    10,
			RequestTimeout:  60 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Rules:   30 * time.Second,
			Sandbox: 5 * time.Minute,
			AI:      2 * time.Minute,
		},
		GitHub: GitHubConfig{
			CheckName:        "Compliance Analysis",
			FetchConcurrency: 8,
		},
		Server: ServerConfig{
			Addr:              ":3000",
			MaxConcurrentRuns: 4,
			ShutdownTimeout:   10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Privacy: PrivacyConfig{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// settings flattens cfg into dotted keys. Durations are rendered as strings
// so saved files stay readable.
func (c Config) settings() map[string]any {
	return map[string]any{
		"provider":                 c.Provider,
		"model":                    c.Model,
		"format":                   c.Format,
		"failOn":                   c.FailOn,
		"maxFindings":              c.MaxFindings,
		"rules.customFile":         c.Rules.CustomFile,
		"rules.advisoriesFile":     c.Rules.AdvisoriesFile,
		"rules.disabled":           c.Rules.Disabled,
		"sandbox.backend":          c.Sandbox.Backend,
		"sandbox.image":            c.Sandbox.Image,
		"sandbox.scanners":         c.Sandbox.Scanners,
		"ai.enabled":               c.AI.Enabled,
		"ai.batchSize":             c.AI.BatchSize,
		"ai.maxContentChars":       c.AI.MaxContentChars,
		"ai.enhanceLimit":          c.AI.EnhanceLimit,
		"ai.requestTimeout":        c.AI.RequestTimeout.String(),
		"ai.focus":                 c.AI.Focus,
		"timeouts.rules":           c.Timeouts.Rules.String(),
		"timeouts.sandbox":         c.Timeouts.Sandbox.String(),
		"timeouts.ai":              c.Timeouts.AI.String(),
		"github.token":             c.GitHub.Token,
		"github.apiURL":            c.GitHub.APIURL,
		"github.checkName":         c.GitHub.CheckName,
		"github.fetchConcurrency":  c.GitHub.FetchConcurrency,
		"server.addr":              c.Server.Addr,
		"server.maxConcurrentRuns": c.Server.MaxConcurrentRuns,
		"server.shutdownTimeout":   c.Server.ShutdownTimeout.String(),
		"database.url":             c.Database.URL,
		"cache.enabled":            c.Cache.Enabled,
		"cache.dir":                c.Cache.Dir,
		"cache.ttl":                c.Cache.TTL.String(),
		"privacy.redactSecrets":    c.Privacy.RedactSecrets,
		"privacy.redactPaths":      c.Privacy.RedactPaths,
		"log.level":                c.Log.Level,
		"log.encoding":             c.Log.Encoding,
		"log.development":          c.Log.Development,
	}
}

// Keys lists every settable key in sorted order.
func Keys() []string {
	settings := Default().settings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isKey(key string) bool {
	_, ok := Default().settings()[key]
	return ok
}

// secretKeys are never written to a config file.
var secretKeys = []string{"github.token", "database.url"}

// ConfigDir returns the platform-appropriate config directory for compliancebot.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "compliancebot"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "compliancebot"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "compliancebot"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "compliancebot"), nil
	default:
		return filepath.Join(home, ".config", "compliancebot"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	for k, val := range Default().settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.apiURL", EnvPrefix+"_GITHUB_APIURL", "GITHUB_API_URL")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	return v
}

// Load builds the effective config by merging defaults, the config file at
// path, the environment and overrides. An empty path reads the default
// config file if it exists. Overrides come from CLI flags; empty values are
// ignored.
func Load(path string, overrides map[string]string) (Config, error) {
	return load(afero.NewOsFs(), path, overrides)
}

func load(fs afero.Fs, path string, overrides map[string]string) (Config, error) {
	v := newViper(fs)

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))
	if ok, _ := afero.Exists(fs, path); ok {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else if explicit {
		return Config{}, fmt.Errorf("config file %s not found", path)
	}

	for k, val := range overrides {
		if val == "" {
			continue
		}
		if !isKey(k) {
			return Config{}, fmt.Errorf("unknown config key: %s", k)
		}
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Save writes the config to path, or to the default config file when path
// is empty. Secrets are left out.
func Save(cfg Config, path string) error {
	return save(afero.NewOsFs(), cfg, path)
}

func save(fs afero.Fs, cfg Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetFs(fs)
	for k, val := range cfg.settings() {
		if slices.Contains(secretKeys, k) {
			continue
		}
		v.Set(k, val)
	}
	v.SetConfigType(configType(path))
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SetField sets a single config field by dotted key. The value is decoded
// into the field's type and the result validated.
func SetField(cfg *Config, key, value string) error {
	if !isKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	v := viper.New()
	for k, val := range cfg.settings() {
		v.Set(k, val)
	}
	v.Set(key, value)

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*cfg = out
	return nil
}

// Get returns the value of a dotted key as it would be saved.
func Get(cfg Config, key string) (any, error) {
	val, ok := cfg.settings()[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

var (
	providerNames   = []string{"groq", "openai", "anthropic", "claude", "ollama", "lmstudio"}
	sandboxBackends = []string{"none", "local", "docker"}
	scannerFormats  = []string{"semgrep", "findings"}
)

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(providerNames, c.Provider) {
		errs = append(errs, fmt.Errorf("provider: unknown provider %q", c.Provider))
	}
	if c.Format != "md" && !slices.Contains(output.Formats, c.Format) {
		errs = append(errs, fmt.Errorf("format: unsupported output format %q", c.Format))
	}
	if c.FailOn != "none" {
		if _, err := compliance.ParseSeverity(c.FailOn); err != nil {
			errs = append(errs, fmt.Errorf("failOn: %w", err))
		}
	}
	if c.MaxFindings < 0 {
		errs = append(errs, errors.New("maxFindings: must not be negative"))
	}
	if !slices.Contains(sandboxBackends, c.Sandbox.Backend) {
		errs = append(errs, fmt.Errorf("sandbox.backend: unknown backend %q", c.Sandbox.Backend))
	}
	for i, s := range c.Sandbox.Scanners {
		if len(s.Command) == 0 {
			errs = append(errs, fmt.Errorf("sandbox.scanners[%d]: command is required", i))
		}
		if !slices.Contains(scannerFormats, s.Format) {
			errs = append(errs, fmt.Errorf("sandbox.scanners[%d]: unknown format %q", i, s.Format))
		}
	}
	if c.AI.BatchSize <= 0 {
		errs = append(errs, errors.New("ai.batchSize: must be positive"))
	}
	if c.AI.MaxContentChars <= 0 {
		errs = append(errs, errors.New("ai.maxContentChars: must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"timeouts.rules":   c.Timeouts.Rules,
		"timeouts.sandbox": c.Timeouts.Sandbox,
		"timeouts.ai":      c.Timeouts.AI,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", name))
		}
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("server.maxConcurrentRuns: must be positive"))
	}
	if strings.TrimSpace(c.GitHub.CheckName) == "" {
		errs = append(errs, errors.New("github.checkName: must not be empty"))
	}
	if c.GitHub.FetchConcurrency <= 0 {
		errs = append(errs, errors.New("github.fetchConcurrency: must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		errs = append(errs, fmt.Errorf("log.encoding: unknown encoding %q", c.Log.Encoding))
	}
	return errors.Join(errs...)
}

// FailThreshold returns the severity that fails a scan, or false when
// failOn is "none".
func (c Config) FailThreshold() (compliance.Severity, bool) {
	if c.FailOn == "none" {
		return 0, false
	}
	sev, err := compliance.ParseSeverity(c.FailOn)
	return sev, err == nil
}
