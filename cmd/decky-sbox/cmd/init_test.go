package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ljm625/decky-sbox/internal/config"
)

// useConfigPath points the global --config flag at path for one test.
func useConfigPath(t *testing.T, path string) {
	t.Helper()
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func TestInitCreatesConfig(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "nested", "decky-sbox.yaml")
	useConfigPath(t, outPath)

	initForce = false
	if err := initCmd.RunE(initCmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("config file is empty")
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "decky-sbox.yaml")
	if err := os.WriteFile(outPath, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	useConfigPath(t, outPath)

	initForce = false
	err := initCmd.RunE(initCmd, nil)
	if err == nil {
		t.Fatal("expected error when file exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error should mention 'already exists': %v", err)
	}
}

func TestInitForceOverwrites(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "decky-sbox.yaml")
	if err := os.WriteFile(outPath, []byte("old content"), 0o644); err != nil {
		t.Fatal(err)
	}
	useConfigPath(t, outPath)

	initForce = true
	defer func() { initForce = false }()
	if err := initCmd.RunE(initCmd, nil); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "old content" {
		t.Error("file was not overwritten")
	}
}

func TestInitTemplateIsValidYAML(t *testing.T) {
	var out map[string]any
	if err := yaml.Unmarshal([]byte(initTemplate), &out); err != nil {
		t.Fatalf("template is not valid YAML: %v", err)
	}
	if out["version"] == nil {
		t.Error("template should contain 'version'")
	}
}

func TestInitTemplateLoadsAsDefaults(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())
	path := filepath.Join(t.TempDir(), "decky-sbox.yaml")
	if err := os.WriteFile(path, []byte(initTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := config.Defaults()
	if cfg.Listen != def.Listen || cfg.Fetch.Timeout != def.Fetch.Timeout || cfg.Run.ClashAPI != def.Run.ClashAPI {
		t.Errorf("template drifted from defaults: %+v", cfg)
	}
	if cfg.Client.PollInterval != def.Client.PollInterval || !cfg.WatchEnabled() {
		t.Errorf("client/watch settings = %+v, %v", cfg.Client, cfg.WatchEnabled())
	}
}
