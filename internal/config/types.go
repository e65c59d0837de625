package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config represents the decky-sbox.yaml daemon configuration file.
type Config struct {
	Version int    `yaml:"version"`
	Home    string `yaml:"home,omitempty"`
	Binary  string `yaml:"binary,omitempty"`
	Listen  string `yaml:"listen,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
	Run   RunConfig   `yaml:"run,omitempty"`

	// AutoSelect selects the first valid profile downloaded while nothing
	// is selected.
	AutoSelect *bool `yaml:"auto_select,omitempty"`

	// AutoRefresh is a cron expression for re-downloading remote profiles.
	// Empty disables the schedule.
	AutoRefresh string `yaml:"auto_refresh,omitempty"`

	// Watch re-validates profile files edited on disk.
	Watch *bool `yaml:"watch,omitempty"`

	Log     LogConfig    `yaml:"log,omitempty"`
	Metrics *bool        `yaml:"metrics,omitempty"`
	Client  ClientConfig `yaml:"client,omitempty"`
}

// FetchConfig bounds remote profile downloads.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxSize   int64         `yaml:"max_size,omitempty"`
	UserAgent string        `yaml:"user_agent,omitempty"`
}

// RunConfig controls how the sing-box process is launched and supervised.
type RunConfig struct {
	LivenessWindow time.Duration `yaml:"liveness_window,omitempty"`
	StopTimeout    time.Duration `yaml:"stop_timeout,omitempty"`
	MinVersion     string        `yaml:"min_version,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
	ClashAPI       string        `yaml:"clash_api,omitempty"`
	WebUIPath      string        `yaml:"webui_path,omitempty"`

	// Tun replaces the managed tun inbound written into the running config.
	Tun map[string]any `yaml:"tun,omitempty"`
}

// LogConfig configures the daemon log.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// ClientConfig configures the CLI's polling client.
type ClientConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// Default values.
const (
	DefaultListen         = "127.0.0.1:9191"
	DefaultFetchTimeout   = 30 * time.Second
	DefaultMaxSize        = 5 << 20
	DefaultUserAgent      = "sing-box"
	DefaultLiveness       = 2 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultMinVersion     = "1.10.0"
	DefaultCoreLogLevel   = "warn"
	DefaultClashAPI       = "127.0.0.1:9090"
	DefaultWebUIPath      = "/ui"
	DefaultLogLevel       = "info"
	DefaultLogMaxSizeMB   = 10
	DefaultLogMaxBackups  = 3
	DefaultPollInterval   = 5 * time.Second
	HomeEnv               = "DECKY_SBOX_HOME"
	defaultBinaryRelPath  = "bin/sing-box"
	defaultLogFileRelPath = "logs/daemon.log"
)

// Defaults returns a fully populated configuration rooted at DefaultHome.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Listen:  DefaultListen,
		Fetch: FetchConfig{
			Timeout:   DefaultFetchTimeout,
			MaxSize:   DefaultMaxSize,
			UserAgent: DefaultUserAgent,
		},
		Run: RunConfig{
			LivenessWindow: DefaultLiveness,
			StopTimeout:    DefaultStopTimeout,
			MinVersion:     DefaultMinVersion,
			LogLevel:       DefaultCoreLogLevel,
			ClashAPI:       DefaultClashAPI,
			WebUIPath:      DefaultWebUIPath,
		},
		AutoSelect: boolPtr(true),
		Watch:      boolPtr(true),
		Metrics:    boolPtr(true),
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
		Client: ClientConfig{PollInterval: DefaultPollInterval},
	}
}

// DefaultHome returns the platform data directory for decky-sbox.
func DefaultHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "decky-sbox")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "decky-sbox")
		}
		return filepath.Join("/tmp", "decky-sbox")
	}
	return filepath.Join(home, ".local", "share", "decky-sbox")
}

// Resolve fills in path defaults that depend on the home directory. The
// DECKY_SBOX_HOME environment variable wins over the file.
func (c *Config) Resolve() error {
	if env := os.Getenv(HomeEnv); env != "" {
		c.Home = env
	}
	if c.Home == "" {
		c.Home = DefaultHome()
	}
	abs, err := filepath.Abs(c.Home)
	if err != nil {
		return fmt.Errorf("resolving home %s: %w", c.Home, err)
	}
	c.Home = abs

	if c.Binary == "" {
		c.Binary = defaultBinaryRelPath
	}
	c.Binary = c.inHome(c.Binary)

	if c.Log.File == "" {
		c.Log.File = defaultLogFileRelPath
	}
	if c.Log.File != "-" {
		c.Log.File = c.inHome(c.Log.File)
	}
	return nil
}

func (c *Config) inHome(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}

// ProfilesDir is where profile content files live.
func (c *Config) ProfilesDir() string { return filepath.Join(c.Home, "profiles") }

// StatePath is the sqlite profile index.
func (c *Config) StatePath() string { return filepath.Join(c.Home, "state.db") }

// WebDir holds the dashboard assets served through the clash API.
func (c *Config) WebDir() string { return filepath.Join(c.Home, "web") }

// CoreLogPath is where sing-box output is written.
func (c *Config) CoreLogPath() string { return filepath.Join(c.Home, "logs", "sing-box.log") }

// AutoSelectEnabled reports the effective auto_select setting.
func (c *Config) AutoSelectEnabled() bool { return c.AutoSelect == nil || *c.AutoSelect }

// WatchEnabled reports the effective watch setting.
func (c *Config) WatchEnabled() bool { return c.Watch == nil || *c.Watch }

// MetricsEnabled reports the effective metrics setting.
func (c *Config) MetricsEnabled() bool { return c.Metrics == nil || *c.Metrics }

func boolPtr(b bool) *bool { return &b }
