package repository_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
)

func TestCheckpointMonotonicity(t *testing.T) {
	Convey("Given an empty store", t, func() {
		s := repository.NewMemoryStore()
		ctx := context.Background()

		Convey("When checkpoints advance out of order", func() {
			So(s.AdvanceCheckpoint(ctx, "escrow", 2000), ShouldBeNil)
			So(s.AdvanceCheckpoint(ctx, "escrow", 1500), ShouldBeNil)
			So(s.AdvanceCheckpoint(ctx, "escrow", 4000), ShouldBeNil)
			So(s.AdvanceCheckpoint(ctx, "escrow", 3999), ShouldBeNil)

			Convey("Then the persisted height never decreases", func() {
				h, ok, err := s.Checkpoint(ctx, "escrow")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(h, ShouldEqual, 4000)
			})
		})

		Convey("When a source has never been scanned", func() {
			_, ok, err := s.Checkpoint(ctx, "unknown")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestWalletMetricsMerge(t *testing.T) {
	Convey("Given an empty store", t, func() {
		s := repository.NewMemoryStore()
		ctx := context.Background()
		early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		late := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

		Convey("When deltas are merged additively", func() {
			So(s.MergeWalletMetrics(ctx, model.EventDelta{
				Wallet:    "0xAA00000000000000000000000000000000000001",
				Completed: 3, Failed: 1, EarliestAt: late,
			}), ShouldBeNil)
			So(s.MergeWalletMetrics(ctx, model.EventDelta{
				Wallet:    "0xaa00000000000000000000000000000000000001",
				Completed: 2, Disputes: 1, EarliestAt: early,
			}), ShouldBeNil)

			Convey("Then counters accumulate and the earliest timestamp wins", func() {
				m, ok, err := s.WalletMetrics(ctx, "0xAA00000000000000000000000000000000000001")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(m.TasksCompleted, ShouldEqual, 5)
				So(m.TasksFailed, ShouldEqual, 1)
				So(m.Disputes, ShouldEqual, 1)
				So(m.FirstSeenAt, ShouldEqual, early)
			})

			Convey("And a later timestamp never raises firstSeen", func() {
				So(s.MergeWalletMetrics(ctx, model.EventDelta{
					Wallet:     "0xaa00000000000000000000000000000000000001",
					EarliestAt: late,
				}), ShouldBeNil)
				m, _, _ := s.WalletMetrics(ctx, "0xaa00000000000000000000000000000000000001")
				So(m.FirstSeenAt, ShouldEqual, early)
			})
		})
	})
}

func TestAgentUpsert(t *testing.T) {
	Convey("Given an agent discovered without a wallet", t, func() {
		s := repository.NewMemoryStore()
		ctx := context.Background()
		t1 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
		t2 := t1.Add(time.Hour)

		So(s.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "astra", LastActivityAt: t1, LastPostID: "p1"}), ShouldBeNil)

		Convey("When re-discovered with newer activity and a wallet", func() {
			So(s.UpsertAgent(ctx, model.DiscoveredAgent{
				Handle:         "astra",
				Wallet:         "0xBB00000000000000000000000000000000000002",
				LastActivityAt: t2,
				LastPostID:     "p2",
			}), ShouldBeNil)

			Convey("Then the row is filled in, not replaced", func() {
				a, err := s.Agent(ctx, "astra")
				So(err, ShouldBeNil)
				So(a.Wallet, ShouldEqual, "0xbb00000000000000000000000000000000000002")
				So(a.LastActivityAt, ShouldEqual, t2)
				So(a.LastPostID, ShouldEqual, "p2")
			})
		})

		Convey("When re-discovered with older activity", func() {
			So(s.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "astra", LastActivityAt: t1.Add(-time.Hour), LastPostID: "p0"}), ShouldBeNil)
			a, _ := s.Agent(ctx, "astra")
			So(a.LastActivityAt, ShouldEqual, t1)
			So(a.LastPostID, ShouldEqual, "p1")
		})

		Convey("When the wallet-requested flag is set and a wallet arrives", func() {
			So(s.MarkWalletRequested(ctx, "astra"), ShouldBeNil)
			a, _ := s.Agent(ctx, "astra")
			So(a.WalletRequested, ShouldBeTrue)

			So(s.SetAgentWallet(ctx, "astra", "0xCC00000000000000000000000000000000000003"), ShouldBeNil)
			a, _ = s.Agent(ctx, "astra")
			So(a.Wallet, ShouldEqual, "0xcc00000000000000000000000000000000000003")
			So(a.WalletRequested, ShouldBeFalse)
		})
	})
}

func TestScoresAndReplies(t *testing.T) {
	Convey("Given a store with scores", t, func() {
		s := repository.NewMemoryStore()
		ctx := context.Background()
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

		So(s.SaveScore(ctx, model.ScoredAgent{Handle: "a", Score: 800, Tier: "AA", ComputedAt: now}), ShouldBeNil)
		So(s.SaveScore(ctx, model.ScoredAgent{Handle: "b", Score: 900, Tier: "AAA", ComputedAt: now}), ShouldBeNil)
		So(s.SaveScore(ctx, model.ScoredAgent{Handle: "c", Score: 650, Tier: "BB", ComputedAt: now}), ShouldBeNil)

		Convey("Then TopScores orders by score descending", func() {
			top, err := s.TopScores(ctx, 2)
			So(err, ShouldBeNil)
			So(len(top), ShouldEqual, 2)
			So(top[0].Handle, ShouldEqual, "b")
			So(top[1].Handle, ShouldEqual, "a")
		})

		Convey("Then an invalid limit is rejected", func() {
			_, err := s.TopScores(ctx, 0)
			So(err, ShouldEqual, repository.ErrInvalidLimit)
		})

		Convey("When a score is overwritten", func() {
			So(s.SaveScore(ctx, model.ScoredAgent{Handle: "a", Score: 820, Tier: "AA", ComputedAt: now.Add(time.Hour)}), ShouldBeNil)

			Convey("Then the previous value survives as a delta", func() {
				sc, err := s.Score(ctx, "a")
				So(err, ShouldBeNil)
				So(sc.Score, ShouldEqual, 820)
				So(sc.PrevScore, ShouldEqual, 800)
			})
		})

		Convey("When replies are recorded", func() {
			So(s.RecordReply(ctx, "a", now), ShouldBeNil)
			So(s.RecordReply(ctx, "b", now.Add(-25*time.Hour)), ShouldBeNil)

			Convey("Then the rolling daily count only sees recent rows", func() {
				n, err := s.RepliesSince(ctx, now.Add(-24*time.Hour))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				at, ok, err := s.LastReply(ctx, "a")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(at, ShouldEqual, now)
			})
		})
	})
}
