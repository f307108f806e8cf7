// Package outreach decides which scored agents get a public reply this
// cycle and sends at most one unsolicited wallet request per agent, under
// provider-friendly pacing rules.
package outreach

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

// SkipReason names why a candidate was not replied to.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipNoRecentActivity SkipReason = "no_recent_activity"
	SkipReplyCooldown    SkipReason = "reply_cooldown"
	SkipNoCompletedTasks SkipReason = "no_completed_tasks"
	SkipZeroCompletion   SkipReason = "zero_completion_rate"
	SkipScoreBelowFloor  SkipReason = "score_below_threshold"
	SkipDailyCapReached  SkipReason = "daily_cap_reached"
)

// Poster sends outbound messages to the feed. Reply comments on the
// candidate's post; RequestWallet issues a top-level post.
type Poster interface {
	Reply(ctx context.Context, handle, postID, message string) error
	RequestWallet(ctx context.Context, handle string) error
}

// Candidate is one scored agent considered for outreach.
type Candidate struct {
	Handle         string
	Score          int
	Tier           string
	TasksCompleted uint64
	CompletionRate float64
	LastActivityAt time.Time
	PostID         string // most recent post; replies attach to it
}

// Config holds the eligibility thresholds and pacing knobs. CommentPace and
// PostPace mirror the feed provider's documented send limits (~1 comment per
// 20s, ~1 top-level post per 30min).
type Config struct {
	ActivityWindow time.Duration
	Cooldown       time.Duration
	MinScore       int
	MinTasks       uint64
	DailyCap       int
	JitterMin      time.Duration
	JitterMax      time.Duration
	CommentPace    time.Duration
	PostPace       time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ActivityWindow: 6 * time.Hour,
		Cooldown:       24 * time.Hour,
		MinScore:       600,
		MinTasks:       1,
		DailyCap:       20,
		JitterMin:      2 * time.Second,
		JitterMax:      9 * time.Second,
		CommentPace:    20 * time.Second,
		PostPace:       30 * time.Minute,
	}
}

// Engine evaluates candidates and performs the sends.
type Engine struct {
	store  repository.Store
	poster Poster
	log    logger.Logger
	cfg    Config

	now    func() time.Time
	jitter func() time.Duration

	// Provider pacing state: when the engine last attempted a comment
	// and a top-level post. The engine is the process's only feed
	// writer, and cycles are sequential, so plain fields suffice.
	lastCommentAt time.Time
	lastPostAt    time.Time
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithJitter replaces the pre-send jitter source.
func WithJitter(jitter func() time.Duration) Option {
	return func(e *Engine) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// New creates an outreach Engine.
func New(store repository.Store, poster Poster, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		poster: poster,
		log:    logger.Get().Named("outreach"),
		cfg:    cfg,
		now:    time.Now,
	}
	e.jitter = func() time.Duration {
		span := e.cfg.JitterMax - e.cfg.JitterMin
		if span <= 0 {
			return e.cfg.JitterMin
		}
		return e.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks a candidate against every eligibility rule in order and
// returns the first failing rule's reason. It performs no side effects.
func (e *Engine) Evaluate(ctx context.Context, c Candidate) (SkipReason, error) {
	now := e.now()

	if c.LastActivityAt.IsZero() || now.Sub(c.LastActivityAt) > e.cfg.ActivityWindow {
		return SkipNoRecentActivity, nil
	}

	lastReply, replied, err := e.store.LastReply(ctx, c.Handle)
	if err != nil {
		return SkipNone, fmt.Errorf("looking up last reply for %s: %w", c.Handle, err)
	}
	if replied && now.Sub(lastReply) < e.cfg.Cooldown {
		return SkipReplyCooldown, nil
	}

	if c.TasksCompleted < e.cfg.MinTasks {
		return SkipNoCompletedTasks, nil
	}
	if c.CompletionRate <= 0 {
		return SkipZeroCompletion, nil
	}
	if c.Score < e.cfg.MinScore {
		return SkipScoreBelowFloor, nil
	}

	sent, err := e.store.RepliesSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return SkipNone, fmt.Errorf("counting recent replies: %w", err)
	}
	if sent >= e.cfg.DailyCap {
		return SkipDailyCapReached, nil
	}

	return SkipNone, nil
}

// Run walks candidates in the given order, replying to each eligible one.
// Send failures are logged and skipped, never retried within the cycle.
// Returns how many replies were sent.
func (e *Engine) Run(ctx context.Context, candidates []Candidate) (int, error) {
	sent := 0
	for _, c := range candidates {
		reason, err := e.Evaluate(ctx, c)
		if err != nil {
			return sent, err
		}
		if reason != SkipNone {
			metrics.RecordReplySkipped(string(reason))
			e.log.Debug(ctx, "outreach skipped",
				logger.String("handle", c.Handle), logger.String("reason", string(reason)))
			continue
		}

		if err := sleepCtx(ctx, e.jitter()); err != nil {
			return sent, err
		}
		if err := e.waitCommentPace(ctx); err != nil {
			return sent, err
		}
		e.lastCommentAt = e.now()
		if err := e.poster.Reply(ctx, c.Handle, c.PostID, buildMessage(c)); err != nil {
			e.log.Warn(ctx, "reply failed", logger.String("handle", c.Handle), logger.Error(err))
			continue
		}
		if err := e.store.RecordReply(ctx, c.Handle, e.now()); err != nil {
			return sent, fmt.Errorf("recording reply to %s: %w", c.Handle, err)
		}
		metrics.RecordReplySent()
		sent++
	}
	return sent, nil
}

// RequestWallets asks agents without a known wallet to share one, at most
// once per handle ever. The asked flag is set before the send so a failed
// post still counts as the one attempt. Wallet requests are top-level posts
// and respect PostPace: once the window is hit, the remaining agents are
// left unasked for a later cycle rather than sleeping out the pace.
func (e *Engine) RequestWallets(ctx context.Context, agents []model.DiscoveredAgent) (int, error) {
	asked := 0
	for _, a := range agents {
		if a.HasWallet() || a.WalletRequested {
			continue
		}
		if !e.lastPostAt.IsZero() && e.now().Sub(e.lastPostAt) < e.cfg.PostPace {
			e.log.Debug(ctx, "post pace reached, deferring wallet requests",
				logger.String("next_handle", a.Handle))
			break
		}
		if err := e.store.MarkWalletRequested(ctx, a.Handle); err != nil {
			return asked, fmt.Errorf("marking wallet request for %s: %w", a.Handle, err)
		}
		metrics.RecordWalletRequest()
		e.lastPostAt = e.now()
		if err := e.poster.RequestWallet(ctx, a.Handle); err != nil {
			e.log.Warn(ctx, "wallet request failed", logger.String("handle", a.Handle), logger.Error(err))
			continue
		}
		asked++
	}
	return asked, nil
}

// waitCommentPace blocks until CommentPace has elapsed since the last
// outbound comment attempt.
func (e *Engine) waitCommentPace(ctx context.Context) error {
	if e.lastCommentAt.IsZero() {
		return nil
	}
	return sleepCtx(ctx, e.cfg.CommentPace-e.now().Sub(e.lastCommentAt))
}

func buildMessage(c Candidate) string {
	return fmt.Sprintf("@%s your agent reputation score this cycle is %d (%s). Keep completing tasks to climb the board!",
		c.Handle, c.Score, c.Tier)
}

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
