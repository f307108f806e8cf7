package scoring

import (
	"math"
)

// Attested component bounds. The attested variant scores on-chain data only,
// on a 0-100 scale, so third parties can reproduce it from public state.
const (
	attestedPeerMax     = 40
	attestedTaskMax     = 30
	attestedEconomicMax = 20
	attestedIdentityMax = 10

	peerDisputePenalty = 8
	peerSlashPenalty   = 16

	economicLogWeight = 5

	identityHandleCredit  = 4
	identityWalletCredit  = 4
	identityMetricsCredit = 2
)

// AttestInput is the on-chain-only snapshot consumed by the attested scorer.
// Callers of POST /score supply it pre-fetched; GET /score/:id builds it from
// pipeline state.
type AttestInput struct {
	ID             string  `json:"id"`
	TasksCompleted uint64  `json:"tasks_completed"`
	TasksFailed    uint64  `json:"tasks_failed"`
	Disputes       uint64  `json:"disputes"`
	Slashes        uint64  `json:"slashes"`
	EscrowVolume   float64 `json:"escrow_volume"`
	HasHandle      bool    `json:"has_handle"`
	HasWallet      bool    `json:"has_wallet"`
	HasMetrics     bool    `json:"has_metrics"`
}

// AttestedComponents is the four-component breakdown of an attested score.
type AttestedComponents struct {
	PeerReputation       float64 `json:"peer_reputation"`
	TaskCompletion       float64 `json:"task_completion"`
	EconomicActivity     float64 `json:"economic_activity"`
	IdentityCompleteness float64 `json:"identity_completeness"`
}

// AttestedScore is the deterministic output that gets canonically serialized
// and signed. Field order is fixed; do not reorder.
type AttestedScore struct {
	ID         string             `json:"id"`
	Score      int                `json:"score"`
	Components AttestedComponents `json:"components"`
	Timestamp  int64              `json:"timestamp"`
	Version    string             `json:"version"`
}

// Attested computes the on-chain-only score: peer reputation 0-40, task
// completion 0-30, economic activity 0-20, identity completeness 0-10.
// Pure and total; the timestamp and version are stamped by the caller.
func Attested(in AttestInput) (int, AttestedComponents) {
	c := AttestedComponents{
		PeerReputation:       peerReputation(in.Disputes, in.Slashes),
		TaskCompletion:       taskCompletion(in.TasksCompleted, in.TasksFailed),
		EconomicActivity:     economicActivity(in.EscrowVolume),
		IdentityCompleteness: identityCompleteness(in),
	}
	raw := c.PeerReputation + c.TaskCompletion + c.EconomicActivity + c.IdentityCompleteness
	return int(math.Round(raw)), c
}

// peerReputation starts at the ceiling and deducts per dispute and slash.
func peerReputation(disputes, slashes uint64) float64 {
	v := float64(attestedPeerMax) -
		float64(disputes)*peerDisputePenalty -
		float64(slashes)*peerSlashPenalty
	return math.Max(0, v)
}

func taskCompletion(completed, failed uint64) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * attestedTaskMax
}

func economicActivity(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return math.Min(attestedEconomicMax, economicLogWeight*math.Log10(1+volume))
}

func identityCompleteness(in AttestInput) float64 {
	v := 0.0
	if in.HasHandle {
		v += identityHandleCredit
	}
	if in.HasWallet {
		v += identityWalletCredit
	}
	if in.HasMetrics {
		v += identityMetricsCredit
	}
	return v
}
