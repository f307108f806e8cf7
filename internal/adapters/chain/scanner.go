package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

// Default scanner configuration constants. The chunk size stays under
// public-RPC per-call log limits; the window cap bounds wall-clock time per
// cycle so the scanner yields back to the orchestrator.
const (
	defaultChunkSize     = 2000
	defaultMaxWindows    = 25
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 2 * time.Second
	defaultWindowPace    = 500 * time.Millisecond
	defaultRPCTimeout    = 10 * time.Second
	headerFanout         = 10
)

// Backend is the read-only RPC surface the scanner needs. *ethclient.Client
// satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Result summarizes one Scan invocation.
type Result struct {
	NewEvents      int
	ScannedTo      uint64
	WindowsScanned int
	WindowsSkipped int
}

// Scanner walks event logs for configured sources.
type Scanner struct {
	backend Backend
	store   repository.Store
	log     logger.Logger

	genesis    uint64
	chunk      uint64
	maxWindows int
	retries    int
	backoff    time.Duration
	pace       time.Duration
	rpcTimeout time.Duration
}

// Option applies a configuration option to the Scanner.
type Option func(*Scanner)

// WithGenesis sets the height scanning starts from when no checkpoint exists.
func WithGenesis(height uint64) Option {
	return func(s *Scanner) { s.genesis = height }
}

// WithChunkSize sets the window size in blocks.
func WithChunkSize(blocks uint64) Option {
	return func(s *Scanner) {
		if blocks > 0 {
			s.chunk = blocks
		}
	}
}

// WithMaxWindows caps the windows processed per invocation.
func WithMaxWindows(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxWindows = n
		}
	}
}

// WithRetries sets the per-window retry budget.
func WithRetries(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithBackoff sets the linear backoff unit between retries.
func WithBackoff(d time.Duration) Option {
	return func(s *Scanner) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithPace sets the fixed delay between consecutive windows.
func WithPace(d time.Duration) Option {
	return func(s *Scanner) {
		if d >= 0 {
			s.pace = d
		}
	}
}

// WithRPCTimeout bounds each RPC call.
func WithRPCTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.rpcTimeout = d
		}
	}
}

// New creates a Scanner with the given options.
func New(backend Backend, store repository.Store, opts ...Option) *Scanner {
	s := &Scanner{
		backend:    backend,
		store:      store,
		log:        logger.Get().Named("scanner"),
		chunk:      defaultChunkSize,
		maxWindows: defaultMaxWindows,
		retries:    defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
		pace:       defaultWindowPace,
		rpcTimeout: defaultRPCTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan resumes src from its checkpoint and walks windows toward the chain
// head, stopping at the head or the per-invocation window cap. A window that
// exhausts its retries is skipped and the checkpoint still advances past it;
// events in a skipped window are lost, by design, so one bad RPC response
// can never wedge the scanner forever.
func (s *Scanner) Scan(ctx context.Context, src Source) (Result, error) {
	var res Result

	last, found, err := s.store.Checkpoint(ctx, src.Key)
	if err != nil {
		return res, fmt.Errorf("load checkpoint %q: %w", src.Key, err)
	}
	from := s.genesis
	if found {
		from = last + 1
	}

	head, err := s.blockNumber(ctx)
	if err != nil {
		return res, fmt.Errorf("chain head: %w", err)
	}
	res.ScannedTo = last

	for windows := 0; windows < s.maxWindows && from <= head; windows++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		to := from + s.chunk - 1
		if to > head {
			to = head
		}

		logs, err := s.fetchWindow(ctx, src, from, to)
		if err != nil {
			// Shutdown is not an RPC failure: stop without advancing so
			// the window replays next cycle instead of being skipped.
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Skip the window and advance anyway.
			s.log.Warn(ctx, "skipping window after exhausted retries",
				logger.String("source", src.Key),
				logger.Uint64("from", from),
				logger.Uint64("to", to),
				logger.Error(err))
			metrics.RecordWindowSkipped()
			res.WindowsSkipped++
		} else {
			count, err := s.processWindow(ctx, src, logs)
			if err != nil {
				// Store failures are environment failures; stop without
				// advancing so the window replays next cycle.
				return res, fmt.Errorf("process window [%d,%d]: %w", from, to, err)
			}
			metrics.RecordWindowScanned()
			metrics.RecordEventsFolded(count)
			res.NewEvents += count
			res.WindowsScanned++
		}

		if err := s.store.AdvanceCheckpoint(ctx, src.Key, to); err != nil {
			return res, fmt.Errorf("advance checkpoint %q: %w", src.Key, err)
		}
		metrics.UpdateScanHeight(src.Key, to)
		res.ScannedTo = to
		from = to + 1

		if from <= head {
			if err := sleepCtx(ctx, s.pace); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// fetchWindow fetches logs for [from, to] with linear-backoff retries.
func (s *Scanner) fetchWindow(ctx context.Context, src Source, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{src.Address},
		Topics:    [][]common.Hash{src.Topics()},
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
		logs, err := s.backend.FilterLogs(callCtx, query)
		cancel()
		if err == nil {
			return logs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < s.retries {
			if err := sleepCtx(ctx, time.Duration(attempt)*s.backoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.retries, lastErr)
}

// processWindow folds logs into deltas, resolves the earliest-event block
// timestamps, and merges everything into wallet metrics. Returns the number
// of events folded.
func (s *Scanner) processWindow(ctx context.Context, src Source, logs []types.Log) (int, error) {
	deltas := foldLogs(src, logs)
	if len(deltas) == 0 {
		return 0, nil
	}

	blockTimes := s.resolveBlockTimes(ctx, deltas)
	stampEarliest(deltas, blockTimes)

	// Deterministic merge order simplifies replay reasoning.
	wallets := make([]string, 0, len(deltas))
	for w := range deltas {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	for _, w := range wallets {
		if err := s.store.MergeWalletMetrics(ctx, deltas[w].delta); err != nil {
			return 0, fmt.Errorf("merge metrics for %s: %w", w, err)
		}
	}
	return len(logs), nil
}

// resolveBlockTimes fetches headers for the distinct earliest-event blocks
// with bounded fan-out. A failed header fetch only loses the age stamp for
// that block's wallets, never the counters.
func (s *Scanner) resolveBlockTimes(ctx context.Context, deltas map[string]*walletDelta) map[uint64]time.Time {
	distinct := make(map[uint64]struct{})
	for _, wd := range deltas {
		distinct[wd.earliestBlock] = struct{}{}
	}

	out := make(map[uint64]time.Time, len(distinct))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headerFanout)
	for block := range distinct {
		block := block
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.rpcTimeout)
			header, err := s.backend.HeaderByNumber(callCtx, new(big.Int).SetUint64(block))
			cancel()
			if err != nil {
				s.log.Warn(gctx, "block timestamp unresolved",
					logger.Uint64("block", block), logger.Error(err))
				return nil
			}
			mu.Lock()
			out[block] = time.Unix(int64(header.Time), 0).UTC()
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scanner) blockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.backend.BlockNumber(callCtx)
}

// sleepCtx sleeps for d unless ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
