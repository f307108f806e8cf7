package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/pkg/cache"
)

func TestCacheGetSet(t *testing.T) {
	Convey("Given a cache with a controllable clock", t, func() {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		c := cache.New[string, int](
			cache.WithTTL[string, int](time.Minute),
			cache.WithClock[string, int](clock),
		)

		Convey("When a value is set", func() {
			c.Set("a", 1)

			Convey("Then it can be read back before expiry", func() {
				v, ok := c.Get("a")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 1)
			})

			Convey("Then it expires after the TTL elapses", func() {
				now = now.Add(2 * time.Minute)
				_, ok := c.Get("a")
				So(ok, ShouldBeFalse)
				So(c.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a key is missing", func() {
			_, ok := c.Get("nope")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestCacheCapacity(t *testing.T) {
	Convey("Given a cache bounded to two entries", t, func() {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		c := cache.New[string, int](
			cache.WithCapacity[string, int](2),
			cache.WithTTL[string, int](time.Hour),
			cache.WithClock[string, int](func() time.Time { return now }),
		)

		Convey("When a third entry is added", func() {
			c.Set("a", 1)
			now = now.Add(time.Second)
			c.Set("b", 2)
			now = now.Add(time.Second)
			c.Set("c", 3)

			Convey("Then the oldest entry is evicted", func() {
				So(c.Len(), ShouldEqual, 2)
				_, ok := c.Get("a")
				So(ok, ShouldBeFalse)
				v, ok := c.Get("c")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 3)
			})
		})
	})
}

func TestCacheGetOrFetch(t *testing.T) {
	Convey("Given an empty cache", t, func() {
		c := cache.New[string, string](cache.WithTTL[string, string](time.Minute))
		ctx := context.Background()

		Convey("When GetOrFetch is called twice", func() {
			calls := 0
			fetch := func(ctx context.Context) (string, error) {
				calls++
				return "value", nil
			}

			v1, err1 := c.GetOrFetch(ctx, "k", fetch)
			v2, err2 := c.GetOrFetch(ctx, "k", fetch)

			Convey("Then the fetch runs only once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(v1, ShouldEqual, "value")
				So(v2, ShouldEqual, "value")
				So(calls, ShouldEqual, 1)
			})
		})

		Convey("When the fetch fails", func() {
			wantErr := errors.New("upstream down")
			_, err := c.GetOrFetch(ctx, "k", func(ctx context.Context) (string, error) {
				return "", wantErr
			})

			Convey("Then the error propagates and nothing is cached", func() {
				So(errors.Is(err, wantErr), ShouldBeTrue)
				So(c.Len(), ShouldEqual, 0)
			})
		})
	})
}
