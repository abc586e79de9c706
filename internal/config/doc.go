// Package config loads and merges compliancebot configuration from multiple
// sources with viper.
//
// Precedence (highest to lowest):
//  1. CLI flags (the overrides map passed to [Load])
//  2. Environment variables: COMPLIANCEBOT_<SECTION>_<KEY> (for example
//     COMPLIANCEBOT_FAILON or COMPLIANCEBOT_AI_BATCHSIZE), plus GITHUB_TOKEN,
//     GITHUB_API_URL and DATABASE_URL
//  3. Config file ($XDG_CONFIG_HOME/compliancebot/config.yaml)
//  4. Built-in defaults
//
// Provider API keys are read by the providers package and never stored in
// the config file.
package config
