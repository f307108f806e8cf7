package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix   = "AGENTRANK_"
	fileEnvName = "AGENTRANK_CONFIG"
)

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if AGENTRANK_CONFIG is set
//  3. env (prefix AGENTRANK_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(fileEnvName); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrLoadConfig, path, err)
		}
	}

	// Env keys like AGENTRANK_CYCLE_INTERVAL map to the flat koanf tag
	// cycle_interval; underscores are preserved.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: reading environment: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.CycleInterval <= 0:
		return fmt.Errorf("%w: cycle_interval must be positive", ErrInvalidConfig)
	case c.ChunkSize == 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case c.MaxWindows <= 0:
		return fmt.Errorf("%w: max_windows must be positive", ErrInvalidConfig)
	case c.OutreachJitterMax < c.OutreachJitterMin:
		return fmt.Errorf("%w: outreach_jitter_max must be >= outreach_jitter_min", ErrInvalidConfig)
	case c.CommentPace < 0 || c.PostPace < 0:
		return fmt.Errorf("%w: comment_pace and post_pace must not be negative", ErrInvalidConfig)
	case c.IntakeQueueSize <= 0:
		return fmt.Errorf("%w: intake_queue_size must be positive", ErrInvalidConfig)
	case c.MaxAgentsLimit <= 0:
		return fmt.Errorf("%w: max_agents_limit must be positive", ErrInvalidConfig)
	}
	return nil
}
