package model

import "time"

// WalletMetrics holds cumulative on-chain counters per wallet. It is mutated
// only via additive merge; FirstSeenAt only ever decreases (earliest wins).
type WalletMetrics struct {
	Wallet         string
	TasksCompleted uint64
	TasksFailed    uint64
	Disputes       uint64
	Slashes        uint64
	FirstSeenAt    time.Time
}

// CompletionRate returns completed/(completed+failed), 0 when no tasks exist.
func (m WalletMetrics) CompletionRate() float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(m.TasksCompleted) / float64(total)
}

// Merge folds an event delta into the counters. Counters are additive;
// the earliest first-seen timestamp wins.
func (m *WalletMetrics) Merge(d EventDelta) {
	m.TasksCompleted += d.Completed
	m.TasksFailed += d.Failed
	m.Disputes += d.Disputes
	m.Slashes += d.Slashes
	if !d.EarliestAt.IsZero() && (m.FirstSeenAt.IsZero() || d.EarliestAt.Before(m.FirstSeenAt)) {
		m.FirstSeenAt = d.EarliestAt
	}
}

// EventDelta is the per-wallet counter change folded out of one scan window.
type EventDelta struct {
	Wallet     string
	Completed  uint64
	Failed     uint64
	Disputes   uint64
	Slashes    uint64
	EarliestAt time.Time // block timestamp of the wallet's earliest event in the window
}

// Empty reports whether the delta carries no information at all.
func (d EventDelta) Empty() bool {
	return d.Completed == 0 && d.Failed == 0 && d.Disputes == 0 && d.Slashes == 0 && d.EarliestAt.IsZero()
}

// ScanCheckpoint records the highest block height whose events have been
// durably folded into wallet metrics for one scanned contract/topic set.
type ScanCheckpoint struct {
	SourceKey           string
	LastProcessedHeight uint64
}

// DebateRecord is the optional per-handle signal from the debate-ranking
// service. All fields default to zero when the payload omits them.
type DebateRecord struct {
	Handle    string
	Wins      uint64
	Losses    uint64
	WinRate   float64 // 0..1
	JuryScore float64 // 0..100
	Rank      int     // 1-based leaderboard position, 0 when unranked
	Debates   uint64
}

// FinancialActivity is the optional per-wallet signal from the
// financial-activity service.
type FinancialActivity struct {
	Wallet      string
	VolumeUSD   float64
	TxCount     uint64
	Reliability float64 // 0..1
}

// AgentMetrics is the merged per-agent snapshot handed to the scoring engine.
// Optional blocks are nil when the source was down, misconfigured, or had no
// data; every score computation must be defined on an all-absent snapshot.
type AgentMetrics struct {
	Handle         string
	Wallet         string
	OnChain        WalletMetrics
	HasOnChain     bool
	Debate         *DebateRecord
	Finance        *FinancialActivity
	LastActivityAt time.Time
}

// AgeDays returns the agent's on-chain age in days at the given instant,
// 0 when the agent has never been seen on chain.
func (m AgentMetrics) AgeDays(now time.Time) float64 {
	if !m.HasOnChain || m.OnChain.FirstSeenAt.IsZero() || now.Before(m.OnChain.FirstSeenAt) {
		return 0
	}
	return now.Sub(m.OnChain.FirstSeenAt).Hours() / 24
}
