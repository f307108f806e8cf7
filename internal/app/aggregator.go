package app

import (
	"context"
	"fmt"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

// DebateSource supplies an agent's debate-leaderboard record, matched by
// handle. ok=false means the agent is unranked.
type DebateSource interface {
	Record(ctx context.Context, handle string) (*model.DebateRecord, bool, error)
}

// FinanceSource supplies an agent's financial activity, matched by wallet.
type FinanceSource interface {
	Enabled() bool
	Activity(ctx context.Context, wallet string) (*model.FinancialActivity, error)
}

// Aggregator merges persisted on-chain counters with the optional external
// signals into one scoring snapshot. Optional sources degrade to an absent
// block on any failure; only store errors propagate.
type Aggregator struct {
	store   repository.Store
	debate  DebateSource
	finance FinanceSource
	log     logger.Logger
}

// NewAggregator creates an Aggregator. debate and finance may be nil.
func NewAggregator(store repository.Store, debate DebateSource, finance FinanceSource) *Aggregator {
	return &Aggregator{
		store:   store,
		debate:  debate,
		finance: finance,
		log:     logger.Get().Named("aggregator"),
	}
}

// Aggregate builds the scoring snapshot for one agent.
func (a *Aggregator) Aggregate(ctx context.Context, agent model.DiscoveredAgent) (model.AgentMetrics, error) {
	out := model.AgentMetrics{
		Handle:         agent.Handle,
		Wallet:         agent.Wallet,
		LastActivityAt: agent.LastActivityAt,
	}

	if agent.HasWallet() {
		onChain, ok, err := a.store.WalletMetrics(ctx, agent.Wallet)
		if err != nil {
			return model.AgentMetrics{}, fmt.Errorf("loading wallet metrics for %s: %w", agent.Handle, err)
		}
		if ok {
			out.OnChain = onChain
			out.HasOnChain = true
		}
	}

	if a.debate != nil {
		rec, ok, err := a.debate.Record(ctx, agent.Handle)
		switch {
		case err != nil:
			a.log.Warn(ctx, "debate lookup degraded",
				logger.String("handle", agent.Handle), logger.Error(err))
			metrics.RecordSourceError("debate")
		case ok:
			out.Debate = rec
		}
	}

	if a.finance != nil && a.finance.Enabled() && agent.HasWallet() {
		activity, err := a.finance.Activity(ctx, agent.Wallet)
		if err != nil {
			a.log.Warn(ctx, "finance lookup degraded",
				logger.String("handle", agent.Handle), logger.Error(err))
			metrics.RecordSourceError("finance")
		} else if activity != nil {
			out.Finance = activity
		}
	}

	return out, nil
}
