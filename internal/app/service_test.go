package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/chain"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/app"
	"github.com/veyralabs/agentrank/internal/config"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/internal/domain/outreach"
	"github.com/veyralabs/agentrank/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const testWallet = "0x52908400098527886e0f7030069857d2e4169ee7"

var frozen = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

type fakeDiscoverer struct {
	agents  []model.DiscoveredAgent
	fail    bool
	scanned bool
}

func (d *fakeDiscoverer) Discover(context.Context, int) ([]model.DiscoveredAgent, error) {
	if d.fail {
		return nil, errors.New("feed unavailable")
	}
	return d.agents, nil
}

func (d *fakeDiscoverer) ScanWalletReplies(context.Context) (int, error) {
	d.scanned = true
	return 0, nil
}

// fakeScanner merges a fixed delta on first scan of the escrow source.
type fakeScanner struct {
	store  repository.Store
	fail   bool
	merged bool
}

func (f *fakeScanner) Scan(ctx context.Context, src chain.Source) (chain.Result, error) {
	if f.fail {
		return chain.Result{}, errors.New("rpc unavailable")
	}
	if !f.merged {
		f.merged = true
		err := f.store.MergeWalletMetrics(ctx, model.EventDelta{
			Wallet:     testWallet,
			Completed:  8,
			EarliestAt: frozen.Add(-90 * 24 * time.Hour),
		})
		if err != nil {
			return chain.Result{}, err
		}
	}
	return chain.Result{NewEvents: 8, ScannedTo: 500, WindowsScanned: 1}, nil
}

type capturePoster struct {
	replies    []string
	replyPosts []string
}

func (p *capturePoster) Reply(_ context.Context, handle, postID, _ string) error {
	p.replies = append(p.replies, handle)
	p.replyPosts = append(p.replyPosts, postID)
	return nil
}

func (p *capturePoster) RequestWallet(context.Context, string) error { return nil }

func newService(store repository.Store, disc app.Discoverer, scanner app.LogScanner, poster outreach.Poster) *app.Service {
	cfg := config.New()
	engineCfg := outreach.DefaultConfig()
	engineCfg.CommentPace = 0
	engineCfg.PostPace = 0
	engine := outreach.New(store, poster, engineCfg,
		outreach.WithClock(func() time.Time { return frozen }),
		outreach.WithJitter(func() time.Duration { return 0 }))
	return app.New(cfg,
		app.WithStore(store),
		app.WithDiscoverer(disc),
		app.WithScanner(scanner, chain.EscrowSource(common.HexToAddress("0x00000000000000000000000000000000000e5c10"))),
		app.WithAggregator(app.NewAggregator(store, nil, nil)),
		app.WithOutreach(engine),
		app.WithClock(func() time.Time { return frozen }))
}

func TestRunCycle(t *testing.T) {
	Convey("Given a pipeline with one active agent", t, func() {
		store := repository.NewMemoryStore()
		disc := &fakeDiscoverer{agents: []model.DiscoveredAgent{{
			Handle:         "alice",
			Wallet:         testWallet,
			LastActivityAt: frozen.Add(-time.Hour),
			LastPostID:     "p-alice-9",
		}}}
		scanner := &fakeScanner{store: store}
		poster := &capturePoster{}
		svc := newService(store, disc, scanner, poster)
		ctx := context.Background()

		Convey("When one cycle runs", func() {
			So(svc.RunCycle(ctx), ShouldBeNil)

			Convey("Then the agent is discovered, scored and persisted", func() {
				So(disc.scanned, ShouldBeTrue)

				scored, err := store.Score(ctx, "alice")
				So(err, ShouldBeNil)
				So(scored.Score, ShouldBeBetweenOrEqual, 300, 950)
				So(scored.Wallet, ShouldEqual, testWallet)
				So(scored.CompletionRate, ShouldAlmostEqual, 1.0)
			})

			Convey("Then the eligible agent receives a reply on its latest post", func() {
				So(poster.replies, ShouldResemble, []string{"alice"})
				So(poster.replyPosts, ShouldResemble, []string{"p-alice-9"})
				_, replied, _ := store.LastReply(ctx, "alice")
				So(replied, ShouldBeTrue)
			})

			Convey("And a second cycle respects the reply cooldown", func() {
				So(svc.RunCycle(ctx), ShouldBeNil)
				So(poster.replies, ShouldHaveLength, 1)
			})
		})

		Convey("When the feed is down, the cycle still completes", func() {
			disc.fail = true
			So(svc.RunCycle(ctx), ShouldBeNil)
		})

		Convey("When the chain source is down, the cycle still completes", func() {
			scanner.fail = true
			So(svc.RunCycle(ctx), ShouldBeNil)

			scored, err := store.Score(ctx, "alice")
			So(err, ShouldBeNil)
			So(scored.Handle, ShouldEqual, "alice")
		})
	})
}

func TestIntakeSeedsJoinTheCycle(t *testing.T) {
	Convey("Given a queued registration", t, func() {
		store := repository.NewMemoryStore()
		svc := newService(store, &fakeDiscoverer{}, &fakeScanner{store: store}, &capturePoster{})
		ctx := context.Background()

		So(svc.EnqueueSeed(model.DiscoveredAgent{Handle: "carol"}), ShouldBeTrue)

		Convey("When a cycle runs", func() {
			So(svc.RunCycle(ctx), ShouldBeNil)

			Convey("Then the seed is upserted and scored", func() {
				agent, err := store.Agent(ctx, "carol")
				So(err, ShouldBeNil)
				So(agent.Handle, ShouldEqual, "carol")

				scored, err := store.Score(ctx, "carol")
				So(err, ShouldBeNil)
				So(scored.Tier, ShouldNotBeEmpty)
			})
		})
	})
}

func TestAgentDetailRead(t *testing.T) {
	Convey("Given a scored agent", t, func() {
		store := repository.NewMemoryStore()
		disc := &fakeDiscoverer{agents: []model.DiscoveredAgent{{
			Handle: "alice", Wallet: testWallet, LastActivityAt: frozen.Add(-time.Hour),
		}}}
		svc := newService(store, disc, &fakeScanner{store: store}, &capturePoster{})
		ctx := context.Background()
		So(svc.RunCycle(ctx), ShouldBeNil)

		Convey("AgentDetail returns the agent with its score", func() {
			detail, err := svc.AgentDetail(ctx, "alice")
			So(err, ShouldBeNil)
			So(detail.Handle, ShouldEqual, "alice")
			So(detail.Score, ShouldNotBeNil)
			So(detail.Score.Score, ShouldBeGreaterThanOrEqualTo, 300)
		})

		Convey("AgentDetail surfaces not-found for unknown handles", func() {
			_, err := svc.AgentDetail(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}
