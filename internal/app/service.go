// Package app wires the pipeline together and drives the re-entrant cycle:
// drain intake, discover agents, scan chain sources, aggregate and score,
// then run outreach. Every step degrades on single-source failures; only
// store failures abort a cycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/veyralabs/agentrank/internal/adapters/chain"
	"github.com/veyralabs/agentrank/internal/adapters/debate"
	"github.com/veyralabs/agentrank/internal/adapters/finance"
	"github.com/veyralabs/agentrank/internal/adapters/http/api"
	"github.com/veyralabs/agentrank/internal/adapters/intake"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/adapters/social"
	"github.com/veyralabs/agentrank/internal/config"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/internal/domain/outreach"
	"github.com/veyralabs/agentrank/internal/domain/scoring"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

// Discoverer finds recently active agents and resolves their wallets.
type Discoverer interface {
	Discover(ctx context.Context, limit int) ([]model.DiscoveredAgent, error)
	ScanWalletReplies(ctx context.Context) (int, error)
}

// LogScanner walks one chain source forward from its checkpoint.
type LogScanner interface {
	Scan(ctx context.Context, src chain.Source) (chain.Result, error)
}

// Service drives the pipeline and implements the HTTP API dependencies.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	store      repository.Store
	crawler    Discoverer
	scanner    LogScanner
	sources    []chain.Source
	aggregator *Aggregator
	outreach   *outreach.Engine
	intake     *intake.Queue

	started bool
	stopCh  chan struct{}
	now     func() time.Time
	log     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a pre-built store.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithDiscoverer injects a pre-built crawler.
func WithDiscoverer(d Discoverer) Option {
	return func(s *Service) { s.crawler = d }
}

// WithScanner injects a pre-built scanner and its sources.
func WithScanner(scanner LogScanner, sources ...chain.Source) Option {
	return func(s *Service) {
		s.scanner = scanner
		s.sources = sources
	}
}

// WithAggregator injects a pre-built aggregator.
func WithAggregator(a *Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

// WithOutreach injects a pre-built outreach engine.
func WithOutreach(e *outreach.Engine) Option {
	return func(s *Service) { s.outreach = e }
}

// WithClock replaces the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Components not injected via options are built
// from the config during Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		intake: intake.NewQueue(intake.WithCapacity(cfg.IntakeQueueSize)),
		stopCh: make(chan struct{}),
		now:    time.Now,
		log:    logger.Get().Named("app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the remaining components and spawns the cycle loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.build(ctx); err != nil {
		return err
	}

	go s.cycleLoop(ctx)

	s.started = true
	s.log.Info(ctx, "pipeline started",
		logger.String("cycle_interval", s.cfg.CycleInterval.String()),
		logger.Int("chain_sources", len(s.sources)))
	return nil
}

// RunOnce builds the components and runs exactly one cycle.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if err := s.build(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.RunCycle(ctx)
}

// build fills in every component not supplied through options.
func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg

	if s.store == nil {
		if cfg.DatabaseURL != "" {
			store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to store: %w", err)
			}
			s.store = store
			s.log.Info(ctx, "using postgres store")
		} else {
			s.store = repository.NewMemoryStore()
			s.log.Warn(ctx, "no database_url set, using in-memory store")
		}
	}

	var feed *social.Client
	if s.crawler == nil && cfg.SocialAPIURL != "" {
		feed = social.NewClient(cfg.SocialAPIURL, cfg.SocialToken)
		s.crawler = social.NewCrawler(feed, s.store, cfg.SelfHandle)
	}

	if s.scanner == nil && cfg.RPCURL != "" {
		backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("dialing rpc endpoint: %w", err)
		}
		s.scanner = chain.New(backend, s.store,
			chain.WithGenesis(cfg.GenesisHeight),
			chain.WithChunkSize(cfg.ChunkSize),
			chain.WithMaxWindows(cfg.MaxWindows),
			chain.WithRetries(cfg.RetryAttempts),
			chain.WithBackoff(cfg.RetryBackoff),
			chain.WithPace(cfg.ScanPace))
		s.sources = buildSources(cfg)
	}

	if s.aggregator == nil {
		var debateSrc DebateSource
		if cfg.DebateAPIURL != "" {
			debateSrc = debate.New(cfg.DebateAPIURL)
		}
		var financeSrc FinanceSource
		if cfg.FinanceAPIURL != "" {
			financeSrc = finance.New(cfg.FinanceAPIURL, cfg.FinanceAPIKey)
		}
		s.aggregator = NewAggregator(s.store, debateSrc, financeSrc)
	}

	if s.outreach == nil {
		var poster outreach.Poster = noopPoster{}
		if feed != nil {
			poster = &feedPoster{client: feed}
		}
		s.outreach = outreach.New(s.store, poster, outreach.Config{
			ActivityWindow: cfg.ActivityWindow,
			Cooldown:       cfg.OutreachCooldown,
			MinScore:       cfg.OutreachMinScore,
			MinTasks:       1,
			DailyCap:       cfg.OutreachDailyCap,
			JitterMin:      cfg.OutreachJitterMin,
			JitterMax:      cfg.OutreachJitterMax,
			CommentPace:    cfg.CommentPace,
			PostPace:       cfg.PostPace,
		})
	}

	return nil
}

// buildSources assembles the chain sources for every configured contract.
func buildSources(cfg *config.Config) []chain.Source {
	var sources []chain.Source
	if common.IsHexAddress(cfg.IdentityContract) {
		sources = append(sources, chain.IdentitySource(common.HexToAddress(cfg.IdentityContract)))
	}
	if common.IsHexAddress(cfg.EscrowContract) {
		sources = append(sources, chain.EscrowSource(common.HexToAddress(cfg.EscrowContract)))
	}
	if common.IsHexAddress(cfg.ReputationContract) {
		sources = append(sources, chain.ReputationSource(common.HexToAddress(cfg.ReputationContract)))
	}
	return sources
}

// cycleLoop runs one cycle immediately and then on every tick until the
// context is cancelled or the service stops.
func (s *Service) cycleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	s.runCycleLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runCycleLogged(ctx)
		}
	}
}

func (s *Service) runCycleLogged(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil {
		s.log.Error(ctx, "cycle failed", logger.Error(err))
	}
}

// RunCycle executes one full pipeline pass.
func (s *Service) RunCycle(ctx context.Context) error {
	start := s.now()
	s.log.Info(ctx, "cycle starting")

	err := s.runCycle(ctx)
	elapsed := s.now().Sub(start)
	if err != nil {
		metrics.RecordCycleFailure()
		return err
	}
	metrics.RecordCycle(elapsed.Seconds())
	s.log.Info(ctx, "cycle complete", logger.String("elapsed", elapsed.String()))
	return nil
}

func (s *Service) runCycle(ctx context.Context) error {
	// Registration seeds that arrived since last cycle join the agent
	// table before discovery.
	for _, seed := range s.intake.Drain(ctx, 0) {
		if err := s.store.UpsertAgent(ctx, seed); err != nil {
			return fmt.Errorf("upserting intake seed %s: %w", seed.Handle, err)
		}
	}

	if s.crawler != nil {
		discovered, err := s.crawler.Discover(ctx, s.cfg.FeedLimit)
		if err != nil {
			s.log.Warn(ctx, "discovery degraded", logger.Error(err))
			metrics.RecordSourceError("social")
		}
		for _, agent := range discovered {
			if err := s.store.UpsertAgent(ctx, agent); err != nil {
				return fmt.Errorf("upserting discovered agent %s: %w", agent.Handle, err)
			}
		}
		if _, err := s.crawler.ScanWalletReplies(ctx); err != nil {
			s.log.Warn(ctx, "wallet reply scan degraded", logger.Error(err))
			metrics.RecordSourceError("social")
		}
	}

	if s.scanner != nil {
		for _, src := range s.sources {
			res, err := s.scanner.Scan(ctx, src)
			if err != nil {
				s.log.Warn(ctx, "chain scan degraded",
					logger.String("source", src.Key), logger.Error(err))
				metrics.RecordSourceError(src.Key)
				continue
			}
			metrics.UpdateScanHeight(src.Key, res.ScannedTo)
			metrics.RecordEventsFolded(res.NewEvents)
		}
	}

	candidates, err := s.scoreAll(ctx)
	if err != nil {
		return err
	}

	if s.outreach != nil {
		if _, err := s.outreach.Run(ctx, candidates); err != nil {
			return fmt.Errorf("outreach: %w", err)
		}
		agents, err := s.store.Agents(ctx)
		if err != nil {
			return fmt.Errorf("listing agents for wallet requests: %w", err)
		}
		if _, err := s.outreach.RequestWallets(ctx, agents); err != nil {
			return fmt.Errorf("wallet requests: %w", err)
		}
	}

	return nil
}

// scoreAll aggregates and scores every known agent, persisting the results
// and returning outreach candidates in descending score order.
func (s *Service) scoreAll(ctx context.Context) ([]outreach.Candidate, error) {
	agents, err := s.store.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	now := s.now().UTC()
	candidates := make([]outreach.Candidate, 0, len(agents))
	for _, agent := range agents {
		snapshot, err := s.aggregator.Aggregate(ctx, agent)
		if err != nil {
			return nil, err
		}
		res := scoring.Enhanced(snapshot, now)

		scored := model.ScoredAgent{
			Handle:         agent.Handle,
			Wallet:         agent.Wallet,
			Score:          res.Score,
			Tier:           res.Tier,
			Components:     res.Components,
			CompletionRate: res.CompletionRate,
			Completeness:   res.Completeness,
			ComputedAt:     now,
		}
		if err := s.store.SaveScore(ctx, scored); err != nil {
			return nil, fmt.Errorf("saving score for %s: %w", agent.Handle, err)
		}
		metrics.RecordAgentScored()

		candidates = append(candidates, outreach.Candidate{
			Handle:         agent.Handle,
			Score:          res.Score,
			Tier:           res.Tier,
			TasksCompleted: snapshot.OnChain.TasksCompleted,
			CompletionRate: res.CompletionRate,
			LastActivityAt: agent.LastActivityAt,
			PostID:         agent.LastPostID,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Handle < candidates[j].Handle
	})
	return candidates, nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	_ = s.intake.Close()
	if s.store != nil {
		s.store.Close()
	}

	s.started = false
	s.log.Info(context.Background(), "pipeline stopped")
}

// TopScores implements api.Dependencies.
func (s *Service) TopScores(ctx context.Context, n int) ([]model.ScoredAgent, error) {
	return s.store.TopScores(ctx, n)
}

// AgentDetail implements api.Dependencies.
func (s *Service) AgentDetail(ctx context.Context, handle string) (api.AgentDetail, error) {
	agent, err := s.store.Agent(ctx, handle)
	if err != nil {
		return api.AgentDetail{}, err
	}

	detail := api.AgentDetail{
		Handle: agent.Handle,
		Wallet: agent.Wallet,
	}
	if !agent.LastActivityAt.IsZero() {
		detail.LastActivityAt = agent.LastActivityAt.UTC().Format(time.RFC3339)
	}
	scored, err := s.store.Score(ctx, handle)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// agent known but not yet scored
	case err != nil:
		return api.AgentDetail{}, err
	default:
		entry := api.NewScoreEntry(scored, 0)
		detail.Score = &entry
	}
	return detail, nil
}

// EnqueueSeed implements api.Dependencies.
func (s *Service) EnqueueSeed(seed model.DiscoveredAgent) bool {
	return s.intake.Enqueue(seed)
}

// ValidAPIKey implements api.Dependencies.
func (s *Service) ValidAPIKey(ctx context.Context, key string) (bool, error) {
	return s.store.ValidAPIKey(ctx, key)
}
