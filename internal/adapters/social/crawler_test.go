package social_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/adapters/social"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const walletHex = "0x52908400098527886e0f7030069857d2e4169ee7"

func newTestClient(url string) *social.Client {
	return social.NewClient(url, "test-token",
		social.WithRequestRate(rate.Limit(10000)))
}

func TestCrawlerDiscover(t *testing.T) {
	Convey("Given a feed with duplicate authors and a profile endpoint", t, func() {
		var profileHits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/v1/posts":
				// Envelope shape with mixed field casing.
				w.Write([]byte(`{"posts": [
					{"id": "p1", "author": "alice", "created_at": "2026-08-26T10:00:00Z"},
					{"id": "p2", "author": "alice", "createdAt": "2026-08-26T12:00:00Z"},
					{"id": "p3", "username": "bob", "timestamp": 1756200000},
					{"id": "p4", "body": "authorless row is dropped"}
				]}`))
			case strings.HasPrefix(r.URL.Path, "/v1/agents/alice"):
				profileHits.Add(1)
				w.Write([]byte(`{"handle": "alice", "wallet_address": "` + walletHex + `"}`))
			case strings.HasPrefix(r.URL.Path, "/v1/agents/bob"):
				profileHits.Add(1)
				w.Write([]byte(`{"handle": "bob", "wallet": "not-an-address"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		store := repository.NewMemoryStore()
		crawler := social.NewCrawler(newTestClient(srv.URL), store, "agentrank")
		ctx := context.Background()

		Convey("When discovery runs", func() {
			agents, err := crawler.Discover(ctx, 50)
			So(err, ShouldBeNil)

			Convey("Then authors are deduplicated with their latest post", func() {
				So(agents, ShouldHaveLength, 2)
				So(agents[0].Handle, ShouldEqual, "alice")
				So(agents[0].LastActivityAt, ShouldEqual, time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
				So(agents[0].LastPostID, ShouldEqual, "p2")
				So(agents[1].Handle, ShouldEqual, "bob")
				So(agents[1].LastPostID, ShouldEqual, "p3")
			})

			Convey("Then wallets come from profiles, invalid ones stay empty", func() {
				So(agents[0].Wallet, ShouldEqual, walletHex)
				So(agents[1].Wallet, ShouldEqual, "")
			})

			Convey("And a second run reuses the cached profiles", func() {
				seen := profileHits.Load()
				_, err := crawler.Discover(ctx, 50)
				So(err, ShouldBeNil)
				So(profileHits.Load(), ShouldEqual, seen)
			})
		})
	})
}

func TestCrawlerRateLimitRetry(t *testing.T) {
	Convey("Given a profile endpoint that rate-limits the first call", t, func() {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/posts" {
				w.Write([]byte(`[{"id": "p1", "author": "carol", "created_at": "2026-08-26T09:00:00Z"}]`))
				return
			}
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"handle": "carol", "wallet": "` + walletHex + `"}`))
		}))
		defer srv.Close()

		store := repository.NewMemoryStore()
		crawler := social.NewCrawler(newTestClient(srv.URL), store, "agentrank",
			social.WithCooldown(0))

		Convey("When discovery runs", func() {
			agents, err := crawler.Discover(context.Background(), 10)
			So(err, ShouldBeNil)

			Convey("Then the lookup is retried once and succeeds", func() {
				So(calls.Load(), ShouldEqual, 2)
				So(agents, ShouldHaveLength, 1)
				So(agents[0].Wallet, ShouldEqual, walletHex)
			})
		})
	})
}

func TestScanWalletReplies(t *testing.T) {
	Convey("Given a wallet-request post with replies", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/agents/agentrank/posts":
				w.Write([]byte(`[
					{"id": "w1", "author": "agentrank", "body": "Drop your wallet address below!"},
					{"id": "n1", "author": "agentrank", "body": "Unrelated announcement"}
				]`))
			case "/v1/posts/w1/replies":
				w.Write([]byte(`[
					{"id": "r1", "author": "dave", "body": "here you go ` + walletHex + ` thanks"},
					{"id": "r2", "author": "erin", "body": "0xNOTANADDRESS"},
					{"id": "r3", "author": "ghost", "body": "` + walletHex + `"}
				]`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		store := repository.NewMemoryStore()
		ctx := context.Background()
		So(store.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "dave", WalletRequested: true}), ShouldBeNil)
		So(store.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "erin"}), ShouldBeNil)
		// "ghost" is not a known agent.

		crawler := social.NewCrawler(newTestClient(srv.URL), store, "agentrank")

		Convey("When the reply scan runs", func() {
			resolved, err := crawler.ScanWalletReplies(ctx)
			So(err, ShouldBeNil)

			Convey("Then only the valid reply from a known agent resolves", func() {
				So(resolved, ShouldEqual, 1)

				dave, err := store.Agent(ctx, "dave")
				So(err, ShouldBeNil)
				So(dave.Wallet, ShouldEqual, walletHex)
				So(dave.WalletRequested, ShouldBeFalse)

				erin, _ := store.Agent(ctx, "erin")
				So(erin.Wallet, ShouldEqual, "")
			})
		})
	})
}
