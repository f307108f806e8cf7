package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/http/api"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/attest"
	"github.com/veyralabs/agentrank/internal/domain/model"
)

const (
	attestKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	attestWallet = "0x52908400098527886e0f7030069857d2e4169ee7"
)

func newAttestServer() (*httptest.Server, *attest.Service) {
	signer, err := attest.NewSigner(attestKey)
	So(err, ShouldBeNil)

	store := repository.NewMemoryStore()
	ctx := context.Background()
	So(store.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "alice", Wallet: attestWallet}), ShouldBeNil)
	So(store.MergeWalletMetrics(ctx, model.EventDelta{Wallet: attestWallet, Completed: 9, Failed: 1}), ShouldBeNil)
	So(store.UpsertAgent(ctx, model.DiscoveredAgent{Handle: "bob"}), ShouldBeNil)

	svc := attest.NewService(signer, store)
	mux := http.NewServeMux()
	api.NewAttestServer(svc).Register(mux)
	return httptest.NewServer(mux), svc
}

func TestAttestEndpoints(t *testing.T) {
	Convey("Given the attestation service", t, func() {
		srv, svc := newAttestServer()
		defer srv.Close()

		Convey("GET /score/{id} signs a score for a known agent", func() {
			resp, err := http.Get(srv.URL + "/score/alice")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var signed attest.SignedScore
			So(json.NewDecoder(resp.Body).Decode(&signed), ShouldBeNil)
			So(signed.Score.ID, ShouldEqual, "alice")
			So(signed.SignerAddress, ShouldEqual, svc.SignerAddress())

			Convey("and POST /verify confirms the signature", func() {
				body, _ := json.Marshal(map[string]string{
					"message":   signed.Message,
					"signature": signed.Signature,
				})
				resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader(string(body)))
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)

				var v struct {
					Valid     bool   `json:"valid"`
					Recovered string `json:"recovered_address"`
				}
				So(json.NewDecoder(resp.Body).Decode(&v), ShouldBeNil)
				So(v.Valid, ShouldBeTrue)
				So(v.Recovered, ShouldEqual, svc.SignerAddress())
			})

			Convey("and a tampered message fails verification", func() {
				body, _ := json.Marshal(map[string]string{
					"message":   strings.Replace(signed.Message, "alice", "mallory", 1),
					"signature": signed.Signature,
				})
				resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader(string(body)))
				So(err, ShouldBeNil)
				defer resp.Body.Close()

				var v struct {
					Valid bool `json:"valid"`
				}
				So(json.NewDecoder(resp.Body).Decode(&v), ShouldBeNil)
				So(v.Valid, ShouldBeFalse)
			})
		})

		Convey("GET /score/{id} scores a known agent without a wallet", func() {
			resp, err := http.Get(srv.URL + "/score/bob")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var signed attest.SignedScore
			So(json.NewDecoder(resp.Body).Decode(&signed), ShouldBeNil)
			So(signed.Score.ID, ShouldEqual, "bob")
			So(signed.Score.Score, ShouldBeGreaterThan, 0)
		})

		Convey("GET /score/{id} returns 404 for an unknown agent", func() {
			resp, err := http.Get(srv.URL + "/score/nobody")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("POST /score signs a caller-supplied snapshot", func() {
			payload := `{"id": "ext-1", "tasks_completed": 10, "has_handle": true, "has_wallet": true}`
			resp, err := http.Post(srv.URL+"/score", "application/json", strings.NewReader(payload))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var signed attest.SignedScore
			So(json.NewDecoder(resp.Body).Decode(&signed), ShouldBeNil)
			So(signed.Score.ID, ShouldEqual, "ext-1")
			So(signed.Score.Score, ShouldBeGreaterThan, 0)

			Convey("and it rejects a snapshot without an id", func() {
				resp, err := http.Post(srv.URL+"/score", "application/json", strings.NewReader(`{"tasks_completed": 1}`))
				So(err, ShouldBeNil)
				resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("POST /verify rejects malformed signatures", func() {
			body := `{"message": "hello", "signature": "0xzz"}`
			resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}
