package intake_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/adapters/intake"
)

func TestQueue(t *testing.T) {
	Convey("Given a small registration queue", t, func() {
		q := intake.NewQueue(intake.WithCapacity(2))
		ctx := context.Background()

		Convey("Enqueue accepts until the bound and then rejects", func() {
			So(q.Enqueue(intake.Seed{Handle: "a"}), ShouldBeTrue)
			So(q.Enqueue(intake.Seed{Handle: "b"}), ShouldBeTrue)
			So(q.Enqueue(intake.Seed{Handle: "c"}), ShouldBeFalse)
			So(q.Len(), ShouldEqual, 2)

			Convey("Drain returns seeds in arrival order", func() {
				seeds := q.Drain(ctx, 0)
				So(seeds, ShouldHaveLength, 2)
				So(seeds[0].Handle, ShouldEqual, "a")
				So(seeds[1].Handle, ShouldEqual, "b")
				So(q.Len(), ShouldEqual, 0)
			})

			Convey("Drain honors the max argument", func() {
				seeds := q.Drain(ctx, 1)
				So(seeds, ShouldHaveLength, 1)
				So(q.Len(), ShouldEqual, 1)
			})
		})

		Convey("Draining an empty queue returns immediately", func() {
			So(q.Drain(ctx, 10), ShouldBeEmpty)
		})

		Convey("After Close, enqueues are rejected but seeds stay drainable", func() {
			So(q.Enqueue(intake.Seed{Handle: "a"}), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(q.Enqueue(intake.Seed{Handle: "b"}), ShouldBeFalse)

			seeds := q.Drain(ctx, 0)
			So(seeds, ShouldHaveLength, 1)
			So(q.Close(), ShouldBeNil) // idempotent
		})
	})
}
