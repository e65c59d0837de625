package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ljm625/decky-sbox/internal/config"
	"github.com/ljm625/decky-sbox/internal/logging"
)

func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	cfg := config.Defaults()
	cfg.Listen = "127.0.0.1:0"
	if err := cfg.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cfg
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := serveConfig(t)
	cfg.AutoRefresh = "@every 1h"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.Discard()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeRejectsBadSchedule(t *testing.T) {
	cfg := serveConfig(t)
	cfg.AutoRefresh = "every now and then"

	err := serve(context.Background(), cfg, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "auto_refresh") {
		t.Fatalf("serve = %v, want auto_refresh error", err)
	}
}

func TestServeListenFailure(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Listen = "127.0.0.1:-1"

	err := serve(context.Background(), cfg, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("serve = %v, want listen error", err)
	}
}
