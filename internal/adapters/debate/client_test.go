package debate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/debate"
	"github.com/veyralabs/agentrank/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestLeaderboardLookup(t *testing.T) {
	Convey("Given a leaderboard with mixed row shapes", t, func() {
		var fetches atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			w.Write([]byte(`{"leaderboard": [
				{"handle": "Alpha", "wins": 8, "losses": 2, "jury_score": 74.5, "rank": 1},
				{"username": "beta", "win_count": 3, "loss_count": 3, "score": 55},
				{"jury_score": 40}
			]}`))
		}))
		defer srv.Close()

		client := debate.New(srv.URL)
		ctx := context.Background()

		Convey("When a ranked handle is looked up case-insensitively", func() {
			rec, ok, err := client.Record(ctx, "ALPHA")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("Then the row parses with derived fields filled in", func() {
				So(rec.Handle, ShouldEqual, "Alpha")
				So(rec.Wins, ShouldEqual, 8)
				So(rec.WinRate, ShouldAlmostEqual, 0.8)
				So(rec.JuryScore, ShouldAlmostEqual, 74.5)
				So(rec.Rank, ShouldEqual, 1)
				So(rec.Debates, ShouldEqual, 10)
			})
		})

		Convey("When a row used alternate field names", func() {
			rec, ok, err := client.Record(ctx, "beta")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(rec.WinRate, ShouldAlmostEqual, 0.5)
			So(rec.Rank, ShouldEqual, 2) // positional fallback
		})

		Convey("When the handle is unranked", func() {
			rec, ok, err := client.Record(ctx, "nobody")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(rec, ShouldBeNil)
		})

		Convey("Then repeated lookups share one fetch", func() {
			_, _, _ = client.Record(ctx, "alpha")
			_, _, _ = client.Record(ctx, "beta")
			So(fetches.Load(), ShouldEqual, 1)
		})
	})
}

func TestLeaderboardUnavailable(t *testing.T) {
	Convey("Given a leaderboard endpoint returning 500", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		Convey("Then lookups surface the error for the caller to degrade on", func() {
			_, ok, err := debate.New(srv.URL).Record(context.Background(), "alpha")
			So(err, ShouldNotBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
