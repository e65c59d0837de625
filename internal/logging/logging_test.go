package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ljm625/decky-sbox/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewWritesStderrAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	var stderr bytes.Buffer

	logger, closer, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, &stderr, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("profile downloaded", "name", "home")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(stderr.String(), "name=home") || strings.Contains(stderr.String(), "hidden") {
		t.Errorf("stderr = %q", stderr.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "profile downloaded") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewStderrOnly(t *testing.T) {
	var stderr bytes.Buffer
	logger, closer, err := New(config.LogConfig{Level: "warn", File: "-"}, &stderr, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Debug("debug forced")
	if !strings.Contains(stderr.String(), "debug forced") {
		t.Errorf("debug flag should override the level: %q", stderr.String())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New(config.LogConfig{Level: "loud", File: "-"}, nil, false); err == nil {
		t.Fatal("expected error")
	}
}
