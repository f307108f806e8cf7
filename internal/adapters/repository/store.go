// Package repository defines durable pipeline state access and its
// implementations. The store is the sole shared mutable resource across
// cycles; checkpoint advances are monotonic and wallet-metric writes are
// additive merges so a crashed cycle can be replayed without double-counting.
package repository

import (
	"context"
	"time"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// Store provides read/write access to pipeline state. The schema behind the
// postgres implementation is provisioned externally; only upserts and reads
// are issued here.
type Store interface {
	// Discovered agents: upserted, never deleted.
	UpsertAgent(ctx context.Context, a model.DiscoveredAgent) error
	Agent(ctx context.Context, handle string) (model.DiscoveredAgent, error)
	Agents(ctx context.Context) ([]model.DiscoveredAgent, error)
	SetAgentWallet(ctx context.Context, handle, wallet string) error
	MarkWalletRequested(ctx context.Context, handle string) error

	// Scan checkpoints: monotonically non-decreasing per source key.
	Checkpoint(ctx context.Context, sourceKey string) (uint64, bool, error)
	AdvanceCheckpoint(ctx context.Context, sourceKey string, height uint64) error

	// Wallet metrics: additive merge only; firstSeen earliest wins.
	MergeWalletMetrics(ctx context.Context, d model.EventDelta) error
	WalletMetrics(ctx context.Context, wallet string) (model.WalletMetrics, bool, error)

	// Scored agents: overwritten every cycle, previous score kept for deltas.
	SaveScore(ctx context.Context, s model.ScoredAgent) error
	Score(ctx context.Context, handle string) (model.ScoredAgent, error)
	TopScores(ctx context.Context, n int) ([]model.ScoredAgent, error)

	// Reply records: one row per handle plus a rolling daily count.
	LastReply(ctx context.Context, handle string) (time.Time, bool, error)
	RecordReply(ctx context.Context, handle string, at time.Time) error
	RepliesSince(ctx context.Context, since time.Time) (int, error)

	// API keys: read-only lookup for the registration intake.
	ValidAPIKey(ctx context.Context, key string) (bool, error)

	Close()
}
