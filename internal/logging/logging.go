// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "console" or "json". Empty picks console in development
	// and json otherwise.
	Format string
	// Development enables stack traces on warnings and human-readable output.
	Development bool
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	switch opts.Format {
	case "":
	case "console", "json":
		cfg.Encoding = opts.Format
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	if cfg.Encoding == "console" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// NewCLI returns a console logger that only reports warnings unless verbose
// is set. CLI output goes to stderr so it never mixes with report output.
func NewCLI(verbose bool) *zap.Logger {
	opts := Options{Level: "warn", Format: "console"}
	if verbose {
		opts = Options{Level: "debug", Format: "console", Development: true}
	}
	logger, err := New(opts)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
