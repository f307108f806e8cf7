// Package scoring computes reputation scores from per-agent metric
// snapshots. All functions here are pure and total: identical input always
// produces identical output, and every input (including an all-absent
// snapshot) yields a defined score. This is required for attested-score
// reproducibility.
package scoring

import (
	"math"
	"time"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// Score bounds shared by every scoring variant.
const (
	MinScore = 300
	MaxScore = 950

	baseScore = 700

	disputePenalty = 25
	slashPenalty   = 50
	ageBonusCap    = 50
	ageBonusDays   = 30
)

// Result is the output of the basic scoring function.
type Result struct {
	Score          int
	Tier           string
	CompletionRate float64
}

// Basic maps a metrics snapshot to a score in [300, 950]:
//
//	700 + completionRate*200 - disputes*25 - slashes*50 + min(ageDays/30, 1)*50
//
// now is passed explicitly so the function stays deterministic.
func Basic(m model.AgentMetrics, now time.Time) Result {
	cr := m.OnChain.CompletionRate()
	ageBonus := math.Min(m.AgeDays(now)/ageBonusDays, 1) * ageBonusCap

	raw := baseScore +
		cr*200 -
		float64(m.OnChain.Disputes)*disputePenalty -
		float64(m.OnChain.Slashes)*slashPenalty +
		ageBonus

	score := clamp(raw)
	return Result{
		Score:          score,
		Tier:           basicTier(score),
		CompletionRate: cr,
	}
}

// basicTier maps a clamped score to one of the six basic tiers.
func basicTier(score int) string {
	switch {
	case score >= 850:
		return "AAA"
	case score >= 800:
		return "AA"
	case score >= 750:
		return "A"
	case score >= 700:
		return "BBB"
	case score >= 650:
		return "BB"
	default:
		return "RiskWatch"
	}
}

// clamp rounds and bounds a raw score to [MinScore, MaxScore].
func clamp(raw float64) int {
	s := int(math.Round(raw))
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// clamp01 bounds a fraction to [0, 1].
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
