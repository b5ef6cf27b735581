package main

import (
	"log/slog"
	"testing"

	"golang.org/x/time/rate"

	"github.com/benaskins/credstore/internal/config"
	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

func TestApplyReload(t *testing.T) {
	d := dispatch.New(keychain.Bind(keychain.NewMemoryStore()), dispatch.WithRateLimit(10, 1))
	t.Cleanup(d.Close)
	t.Cleanup(func() { levelVar.Set(slog.LevelInfo) })

	c := config.Default()
	c.RateLimit = 25
	c.RateBurst = 5
	c.LogLevel = "debug"
	applyReload(d, c)

	if limit, burst := d.RateLimit(); limit != 25 || burst != 5 {
		t.Errorf("RateLimit() = %v, %d; want 25, 5", limit, burst)
	}
	if levelVar.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", levelVar.Level())
	}

	c.RateLimit = 0
	applyReload(d, c)
	if limit, _ := d.RateLimit(); limit != rate.Inf {
		t.Errorf("limit = %v, want unlimited", limit)
	}
}
