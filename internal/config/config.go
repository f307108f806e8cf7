// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Layer an optional YAML file and AGENTRANK_-prefixed env vars on top.
// - External errors must be wrapped via this package's error sentinels.
package config

import "time"

// Config contains process configuration for both the pipeline and the
// attestation service.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the pipeline HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// AttestAddr configures the attestation service listen address.
	AttestAddr string `koanf:"attest_addr"`

	// DatabaseURL selects the relational store. Empty runs in-memory.
	DatabaseURL string `koanf:"database_url"`

	// CycleInterval spaces pipeline cycles.
	CycleInterval time.Duration `koanf:"cycle_interval"`

	// RPCURL is the EVM JSON-RPC endpoint for log scanning.
	RPCURL string `koanf:"rpc_url"`

	// Contract addresses for the three scanned registries.
	IdentityContract   string `koanf:"identity_contract"`
	EscrowContract     string `koanf:"escrow_contract"`
	ReputationContract string `koanf:"reputation_contract"`

	// GenesisHeight is where scanning starts without a checkpoint.
	GenesisHeight uint64 `koanf:"genesis_height"`

	// ChunkSize is the scan window in blocks; MaxWindows caps windows per
	// cycle so a large backlog yields between cycles.
	ChunkSize  uint64 `koanf:"chunk_size"`
	MaxWindows int    `koanf:"max_windows"`

	// RetryAttempts, RetryBackoff and ScanPace tune window fetching.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	ScanPace      time.Duration `koanf:"scan_pace"`

	// Social feed access.
	SocialAPIURL string `koanf:"social_api_url"`
	SocialToken  string `koanf:"social_token"`
	SelfHandle   string `koanf:"self_handle"`
	FeedLimit    int    `koanf:"feed_limit"`

	// DebateAPIURL is the public debate leaderboard endpoint.
	DebateAPIURL string `koanf:"debate_api_url"`

	// Finance job API; an empty key disables the component.
	FinanceAPIURL string `koanf:"finance_api_url"`
	FinanceAPIKey string `koanf:"finance_api_key"`

	// SignerKey is the attestation signing key as hex. Required by attestd.
	SignerKey string `koanf:"signer_key"`

	// Outreach thresholds.
	OutreachMinScore  int           `koanf:"outreach_min_score"`
	OutreachDailyCap  int           `koanf:"outreach_daily_cap"`
	OutreachCooldown  time.Duration `koanf:"outreach_cooldown"`
	ActivityWindow    time.Duration `koanf:"activity_window"`
	OutreachJitterMin time.Duration `koanf:"outreach_jitter_min"`
	OutreachJitterMax time.Duration `koanf:"outreach_jitter_max"`

	// Feed provider send pacing: minimum spacing between outbound
	// comments and between top-level posts.
	CommentPace time.Duration `koanf:"comment_pace"`
	PostPace    time.Duration `koanf:"post_pace"`

	// IntakeQueueSize bounds the registration queue.
	IntakeQueueSize int `koanf:"intake_queue_size"`

	// MaxAgentsLimit caps GET /agents?limit.
	MaxAgentsLimit int `koanf:"max_agents_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		AttestAddr:        ":9081",
		CycleInterval:     15 * time.Minute,
		GenesisHeight:     1,
		ChunkSize:         2000,
		MaxWindows:        25,
		RetryAttempts:     3,
		RetryBackoff:      2 * time.Second,
		ScanPace:          500 * time.Millisecond,
		SelfHandle:        "agentrank",
		FeedLimit:         100,
		OutreachMinScore:  600,
		OutreachDailyCap:  20,
		OutreachCooldown:  24 * time.Hour,
		ActivityWindow:    6 * time.Hour,
		OutreachJitterMin: 2 * time.Second,
		OutreachJitterMax: 9 * time.Second,
		CommentPace:       20 * time.Second,
		PostPace:          30 * time.Minute,
		IntakeQueueSize:   1024,
		MaxAgentsLimit:    100,
	}
}
