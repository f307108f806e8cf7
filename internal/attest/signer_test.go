package attest_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/attest"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/internal/domain/scoring"
	"github.com/veyralabs/agentrank/pkg/logger"
)

// Throwaway key for tests only.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func init() {
	_ = logger.Init()
}

func TestSignAndVerify(t *testing.T) {
	Convey("Given a signer", t, func() {
		signer, err := attest.NewSigner(testKey)
		So(err, ShouldBeNil)

		Convey("When a message is signed", func() {
			message := []byte(`{"id":"agent-1","score":87}`)
			sig, err := signer.SignMessage(message)
			So(err, ShouldBeNil)

			Convey("Then the signature verifies against the signer address", func() {
				So(attest.Verify(message, sig, signer.Address()), ShouldBeTrue)
			})

			Convey("Then a different message fails verification", func() {
				So(attest.Verify([]byte(`{"id":"agent-1","score":99}`), sig, signer.Address()), ShouldBeFalse)
			})

			Convey("Then a tampered signature fails verification", func() {
				tampered := sig[:len(sig)-2] + "00"
				So(attest.Verify(message, tampered, signer.Address()), ShouldBeFalse)
			})

			Convey("Then recovery yields the signing address", func() {
				addr, err := attest.RecoverSigner(message, sig)
				So(err, ShouldBeNil)
				So(addr, ShouldEqual, signer.Address())
			})
		})

		Convey("When a malformed signature is presented", func() {
			_, err := attest.RecoverSigner([]byte("msg"), "0xdeadbeef")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given an invalid key", t, func() {
		_, err := attest.NewSigner("not-a-key")
		So(err, ShouldNotBeNil)
	})
}

func TestAttestationService(t *testing.T) {
	Convey("Given an attestation service over pipeline state", t, func() {
		signer, err := attest.NewSigner(testKey)
		So(err, ShouldBeNil)

		store := repository.NewMemoryStore()
		ctx := context.Background()
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		So(store.UpsertAgent(ctx, model.DiscoveredAgent{
			Handle: "astra",
			Wallet: "0xaa00000000000000000000000000000000000001",
		}), ShouldBeNil)
		So(store.MergeWalletMetrics(ctx, model.EventDelta{
			Wallet:    "0xaa00000000000000000000000000000000000001",
			Completed: 9, Failed: 1,
			EarliestAt: now.AddDate(0, -2, 0),
		}), ShouldBeNil)

		svc := attest.NewService(signer, store, attest.WithClock(func() time.Time { return now }))

		Convey("When an agent is scored by handle", func() {
			signed, err := svc.ScoreAgent(ctx, "astra")
			So(err, ShouldBeNil)

			Convey("Then the output is signed by the service key", func() {
				So(signed.SignerAddress, ShouldEqual, signer.Address().Hex())
				ok, recovered, err := svc.VerifyAttestation(ctx, []byte(signed.Message), signed.Signature)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(recovered, ShouldEqual, signer.Address().Hex())
			})

			Convey("Then the message is canonical for the score", func() {
				want, err := attest.CanonicalMessage(signed.Score)
				So(err, ShouldBeNil)
				So(signed.Message, ShouldEqual, string(want))
				So(signed.Score.Version, ShouldEqual, attest.Version)
				So(signed.Score.Timestamp, ShouldEqual, now.Unix())
			})
		})

		Convey("When an unknown handle is scored", func() {
			_, err := svc.ScoreAgent(ctx, "nobody")
			So(err, ShouldNotBeNil)
		})

		Convey("When a caller supplies a pre-fetched snapshot", func() {
			in := scoring.AttestInput{
				ID: "agent-x", TasksCompleted: 5, HasHandle: true, HasWallet: true, HasMetrics: true,
			}
			s1, err1 := svc.ScoreInput(ctx, in)
			s2, err2 := svc.ScoreInput(ctx, in)

			Convey("Then identical input yields an identical canonical message", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(s1.Message, ShouldEqual, s2.Message)
				So(s1.Score.Score, ShouldEqual, s2.Score.Score)
			})
		})

		Convey("When another key signs the same message", func() {
			other, err := attest.NewSigner("2c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
			So(err, ShouldBeNil)
			message := []byte("shared message")
			sig, err := other.SignMessage(message)
			So(err, ShouldBeNil)

			Convey("Then verification against our address fails", func() {
				ok, recovered, err := svc.VerifyAttestation(ctx, message, sig)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(recovered, ShouldEqual, other.Address().Hex())
			})
		})
	})
}
