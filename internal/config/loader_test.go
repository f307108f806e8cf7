package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/veyralabs/agentrank/internal/config"
)

func setEnv(key, value string) func() {
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	return func() {
		if had {
			os.Setenv(key, old)
			return
		}
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	Convey("Given no file and no environment overrides", t, func() {
		cfg, err := config.Load()
		So(err, ShouldBeNil)

		Convey("Then defaults apply", func() {
			So(cfg.Addr, ShouldEqual, ":9080")
			So(cfg.CycleInterval, ShouldEqual, 15*time.Minute)
			So(cfg.ChunkSize, ShouldEqual, 2000)
			So(cfg.OutreachDailyCap, ShouldEqual, 20)
		})
	})

	Convey("Given environment overrides", t, func() {
		defer setEnv("AGENTRANK_ADDR", ":7070")()
		defer setEnv("AGENTRANK_CYCLE_INTERVAL", "5m")()
		defer setEnv("AGENTRANK_OUTREACH_MIN_SCORE", "650")()

		cfg, err := config.Load()
		So(err, ShouldBeNil)

		Convey("Then they win over defaults", func() {
			So(cfg.Addr, ShouldEqual, ":7070")
			So(cfg.CycleInterval, ShouldEqual, 5*time.Minute)
			So(cfg.OutreachMinScore, ShouldEqual, 650)
		})
	})

	Convey("Given a YAML file and an env override of the same key", t, func() {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yaml := "addr: \":6060\"\nfeed_limit: 25\n"
		So(os.WriteFile(path, []byte(yaml), 0o600), ShouldBeNil)
		defer setEnv("AGENTRANK_CONFIG", path)()
		defer setEnv("AGENTRANK_ADDR", ":7071")()

		cfg, err := config.Load()
		So(err, ShouldBeNil)

		Convey("Then env beats file beats defaults", func() {
			So(cfg.Addr, ShouldEqual, ":7071")
			So(cfg.FeedLimit, ShouldEqual, 25)
			So(cfg.ChunkSize, ShouldEqual, 2000)
		})
	})

	Convey("Given an invalid value", t, func() {
		defer setEnv("AGENTRANK_MAX_WINDOWS", "0")()

		Convey("Then validation rejects the config", func() {
			_, err := config.Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "max_windows")
		})
	})
}
