package scoring

import (
	"math"
	"time"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// Enhanced component bounds.
const (
	taskPerformanceMax  = 200
	taskRateWeight      = 140
	taskVolumeBonusMax  = 60
	taskVolumeLogWeight = 30

	financialMax          = 300
	financialFallbackBase = 210
	financialSlashPenalty = 90
	financialFallbackMin  = 30

	disputeMax = 150

	ecosystemMax        = 200
	ecosystemAgeCapDays = 180
	ecosystemAgeWeight  = 100
	participationCredit = 100

	intellectualMax  = 150
	debateRateWeight = 60
	debateJuryWeight = 40
	debateVolumeMax  = 30
	debateJuryScale  = 100
)

// Completeness fractions: on-chain data carries 0.4, each optional source 0.3.
const (
	completenessOnChain = 0.4
	completenessSource  = 0.3
)

// EnhancedResult is the output of the five-component scoring function.
type EnhancedResult struct {
	Score          int
	Tier           string
	Components     model.ScoreComponents
	CompletionRate float64
	Completeness   float64
}

// Enhanced computes the five-component score. Components are computed
// independently, summed, and clamped to the shared [300, 950] range.
// Components backed by an absent source fall to their floor values; the
// result is defined for an all-absent snapshot.
func Enhanced(m model.AgentMetrics, now time.Time) EnhancedResult {
	c := model.ScoreComponents{
		TaskPerformance:        taskPerformance(m.OnChain),
		FinancialReliability:   financialReliability(m),
		DisputeRecord:          disputeRecord(m.OnChain.Disputes),
		EcosystemParticipation: ecosystemParticipation(m, now),
		IntellectualReputation: intellectualReputation(m.Debate),
	}

	raw := c.TaskPerformance + c.FinancialReliability + c.DisputeRecord +
		c.EcosystemParticipation + c.IntellectualReputation

	score := clamp(raw)
	return EnhancedResult{
		Score:          score,
		Tier:           enhancedTier(score),
		Components:     c,
		CompletionRate: m.OnChain.CompletionRate(),
		Completeness:   completeness(m),
	}
}

// taskPerformance: 0-200 from completion rate plus a log-scaled volume bonus.
func taskPerformance(w model.WalletMetrics) float64 {
	total := w.TasksCompleted + w.TasksFailed
	bonus := math.Min(taskVolumeBonusMax, taskVolumeLogWeight*math.Log10(1+float64(total)))
	return math.Min(taskPerformanceMax, w.CompletionRate()*taskRateWeight+bonus)
}

// financialReliability: 0-300 from the external financial signal when
// present. Without it the fallback derives a proxy purely from slash count;
// that conflation of components is intentional and preserved as-is.
func financialReliability(m model.AgentMetrics) float64 {
	if m.Finance != nil {
		return clamp01(m.Finance.Reliability) * financialMax
	}
	fallback := financialFallbackBase - float64(m.OnChain.Slashes)*financialSlashPenalty
	return math.Max(financialFallbackMin, fallback)
}

// disputeRecord: 0-150 step function of dispute count.
func disputeRecord(disputes uint64) float64 {
	switch {
	case disputes == 0:
		return disputeMax
	case disputes <= 2:
		return 105
	case disputes <= 5:
		return 60
	default:
		return 30
	}
}

// ecosystemParticipation: 0-200, half from log-scaled agent age capped at
// 180 days, half a flat participation credit for any on-chain presence.
func ecosystemParticipation(m model.AgentMetrics, now time.Time) float64 {
	age := math.Min(m.AgeDays(now), ecosystemAgeCapDays)
	agePart := ecosystemAgeWeight * math.Log(1+age) / math.Log(1+ecosystemAgeCapDays)
	credit := 0.0
	if m.HasOnChain {
		credit = participationCredit
	}
	return agePart + credit
}

// intellectualReputation: 0-150 from debate win rate, normalized jury score,
// debate volume, and a rank bonus; 0 when no debate data exists.
func intellectualReputation(d *model.DebateRecord) float64 {
	if d == nil {
		return 0
	}
	ratePart := clamp01(d.WinRate) * debateRateWeight
	juryPart := clamp01(d.JuryScore/debateJuryScale) * debateJuryWeight
	volumePart := math.Min(debateVolumeMax, float64(d.Debates))
	return math.Min(intellectualMax, ratePart+juryPart+volumePart+rankBonus(d.Rank))
}

// rankBonus rewards top leaderboard placement.
func rankBonus(rank int) float64 {
	switch {
	case rank >= 1 && rank <= 3:
		return 20
	case rank >= 4 && rank <= 10:
		return 10
	default:
		return 0
	}
}

// completeness reports how much of the snapshot was populated.
func completeness(m model.AgentMetrics) float64 {
	f := 0.0
	if m.HasOnChain {
		f += completenessOnChain
	}
	if m.Debate != nil {
		f += completenessSource
	}
	if m.Finance != nil {
		f += completenessSource
	}
	return f
}

// enhancedTier maps a clamped score to the twelve-band tier vocabulary.
func enhancedTier(score int) string {
	switch {
	case score >= 900:
		return "AAA"
	case score >= 860:
		return "AA+"
	case score >= 820:
		return "AA"
	case score >= 780:
		return "A+"
	case score >= 740:
		return "A"
	case score >= 700:
		return "BBB+"
	case score >= 660:
		return "BBB"
	case score >= 620:
		return "BB+"
	case score >= 580:
		return "BB"
	case score >= 540:
		return "B"
	case score >= 500:
		return "CCC"
	default:
		return "RiskWatch"
	}
}
