package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/ljm625/decky-sbox/internal/schedule"
)

// Load reads a single decky-sbox.yaml on top of the defaults, resolves
// home-relative paths and validates the result.
func Load(path string) (*Config, error) {
	layer, err := loadLayer(path)
	if err != nil {
		return nil, err
	}
	cfg := Merge(Defaults(), layer)
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LayeredOptions controls LoadLayered.
type LayeredOptions struct {
	DiscoverOptions

	// NoInherit skips the system and user layers.
	NoInherit bool
}

// LayeredResult is the merged config and the layers that fed it.
type LayeredResult struct {
	Config *Config
	Layers []ConfigLayerInfo
}

// LoadLayered merges the system, user and explicit config files over the
// defaults. Missing files are skipped; a file that exists but fails to
// parse is an error. An explicit path that does not exist is an error too.
func LoadLayered(opts LayeredOptions) (*LayeredResult, error) {
	var candidates []ConfigLayerInfo
	if opts.NoInherit || EnvNoInherit() {
		if opts.ExplicitPath != "" {
			candidates = []ConfigLayerInfo{{Path: opts.ExplicitPath, Level: LevelExplicit}}
		}
	} else {
		candidates = DiscoverPaths(opts.DiscoverOptions)
	}

	cfg := Defaults()
	var loaded []ConfigLayerInfo
	for _, layer := range candidates {
		if _, err := os.Stat(layer.Path); err != nil {
			if layer.Level == LevelExplicit {
				return nil, fmt.Errorf("reading config %s: %w", layer.Path, err)
			}
			continue
		}
		overlay, err := loadLayer(layer.Path)
		if err != nil {
			return nil, fmt.Errorf("%s config: %w", layer.Level, err)
		}
		cfg = Merge(cfg, overlay)
		layer.Loaded = true
		loaded = append(loaded, layer)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return &LayeredResult{Config: cfg, Layers: loaded}, nil
}

func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var layer Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&layer); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &layer, nil
}

func finish(cfg *Config) error {
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if errs := Validate(cfg); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", cfg.Version))
	}

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("listen: invalid address '%s': %v", cfg.Listen, err))
	}

	if cfg.Fetch.Timeout <= 0 {
		errs = append(errs, "fetch.timeout must be positive")
	}
	if cfg.Fetch.MaxSize <= 0 {
		errs = append(errs, "fetch.max_size must be positive")
	}

	if cfg.Run.LivenessWindow <= 0 {
		errs = append(errs, "run.liveness_window must be positive")
	}
	if cfg.Run.StopTimeout <= 0 {
		errs = append(errs, "run.stop_timeout must be positive")
	}
	if cfg.Run.MinVersion != "" && !semver.IsValid("v"+strings.TrimPrefix(cfg.Run.MinVersion, "v")) {
		errs = append(errs, fmt.Sprintf("run.min_version: '%s' is not a semantic version", cfg.Run.MinVersion))
	}
	switch cfg.Run.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Sprintf("run.log_level: unknown level '%s'", cfg.Run.LogLevel))
	}
	if _, _, err := net.SplitHostPort(cfg.Run.ClashAPI); err != nil {
		errs = append(errs, fmt.Sprintf("run.clash_api: invalid address '%s': %v", cfg.Run.ClashAPI, err))
	}
	if !strings.HasPrefix(cfg.Run.WebUIPath, "/") {
		errs = append(errs, fmt.Sprintf("run.webui_path: '%s' must start with '/'", cfg.Run.WebUIPath))
	}
	if cfg.Run.Tun != nil {
		if t, ok := cfg.Run.Tun["type"]; ok && t != "tun" {
			errs = append(errs, fmt.Sprintf("run.tun: type must be 'tun', got '%v'", t))
		}
	}

	if cfg.AutoRefresh != "" {
		if err := schedule.Validate(cfg.AutoRefresh); err != nil {
			errs = append(errs, fmt.Sprintf("auto_refresh: %v", err))
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level: unknown level '%s', must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		errs = append(errs, "log.max_size_mb and log.max_backups must not be negative")
	}

	if cfg.Client.PollInterval <= 0 {
		errs = append(errs, "client.poll_interval must be positive")
	}

	return errs
}
