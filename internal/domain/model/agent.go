// Package model contains domain models passed between layers.
package model

import "time"

// DiscoveredAgent is an agent known to the pipeline, found via the social
// feed, the chain scanner, or the registration intake. Rows are upserted and
// never deleted; the wallet is filled in lazily and may stay empty.
type DiscoveredAgent struct {
	Handle          string
	Wallet          string // lowercase 0x-hex address; empty when unknown
	LastActivityAt  time.Time
	LastPostID      string // the agent's most recent feed post; outreach replies target it
	WalletRequested bool   // set on the first wallet-request attempt, success or not
	FirstSeenAt     time.Time
}

// HasWallet reports whether a wallet address has been resolved for the agent.
func (a DiscoveredAgent) HasWallet() bool { return a.Wallet != "" }

// ScoredAgent is the fully derived per-cycle output. The previous cycle's
// score is carried only as a transient delta; no longer history is kept.
type ScoredAgent struct {
	Handle         string
	Wallet         string
	Score          int // clamped to [300, 950]
	Tier           string
	Components     ScoreComponents
	CompletionRate float64
	Completeness   float64
	ComputedAt     time.Time
	PrevScore      int // previous cycle's score, 0 when first scored
}

// ScoreComponents is the per-component breakdown of an enhanced score.
type ScoreComponents struct {
	TaskPerformance        float64 `json:"task_performance"`
	FinancialReliability   float64 `json:"financial_reliability"`
	DisputeRecord          float64 `json:"dispute_record"`
	EcosystemParticipation float64 `json:"ecosystem_participation"`
	IntellectualReputation float64 `json:"intellectual_reputation"`
}

// ReplyRecord tracks the single most recent outreach reply per handle.
// Its timestamp drives the 24h per-handle cooldown; a rolling count across
// all rows drives the global daily cap.
type ReplyRecord struct {
	Handle    string
	RepliedAt time.Time
}
