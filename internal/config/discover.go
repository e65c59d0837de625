package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const configFileName = "decky-sbox.yaml"
const configDirName = "decky-sbox"

// PluginSettingsEnv is set by Decky Loader to the plugin's settings
// directory. A decky-sbox.yaml there is layered over the user config.
const PluginSettingsEnv = "DECKY_PLUGIN_SETTINGS_DIR"

// ConfigLevel names where a configuration layer came from. Levels are
// listed from lowest to highest precedence.
type ConfigLevel string

const (
	LevelSystem   ConfigLevel = "system"
	LevelUser     ConfigLevel = "user"
	LevelPlugin   ConfigLevel = "plugin"
	LevelExplicit ConfigLevel = "explicit"
)

// ConfigLayerInfo is one candidate config file. Loaded is set by
// LoadLayered once the file has been read and merged.
type ConfigLayerInfo struct {
	Path   string
	Level  ConfigLevel
	Loaded bool
}

// DiscoverOptions overrides the default location of each layer. An empty
// field means the platform default; a path that does not exist simply
// contributes nothing.
type DiscoverOptions struct {
	// ExplicitPath is the --config flag value. It always wins.
	ExplicitPath string

	// SystemConfigPath replaces /etc/decky-sbox/decky-sbox.yaml
	// (%ProgramData% on Windows).
	SystemConfigPath string

	// UserConfigPath replaces DefaultUserConfigPath.
	UserConfigPath string

	// PluginSettingsDir replaces $DECKY_PLUGIN_SETTINGS_DIR.
	PluginSettingsDir string
}

// DiscoverPaths lists the config files LoadLayered should try, lowest
// precedence first: system, user, the Decky plugin settings directory
// and finally the explicit path. When two levels name the same file only
// the lower one is kept, so a file is never merged twice.
func DiscoverPaths(opts DiscoverOptions) []ConfigLayerInfo {
	pluginDir := opts.PluginSettingsDir
	if pluginDir == "" {
		pluginDir = os.Getenv(PluginSettingsEnv)
	}
	pluginPath := ""
	if pluginDir != "" {
		pluginPath = filepath.Join(pluginDir, configFileName)
	}

	candidates := []ConfigLayerInfo{
		{Level: LevelSystem, Path: orDefault(opts.SystemConfigPath, defaultSystemConfigPath)},
		{Level: LevelUser, Path: orDefault(opts.UserConfigPath, DefaultUserConfigPath)},
		{Level: LevelPlugin, Path: pluginPath},
		{Level: LevelExplicit, Path: opts.ExplicitPath},
	}

	var layers []ConfigLayerInfo
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.Path == "" {
			continue
		}
		key, err := filepath.Abs(c.Path)
		if err != nil {
			key = c.Path
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		layers = append(layers, c)
	}
	return layers
}

func orDefault(path string, def func() string) string {
	if path != "" {
		return path
	}
	return def()
}

func defaultSystemConfigPath() string {
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, configDirName, configFileName)
	}
	return filepath.Join("/etc", configDirName, configFileName)
}

// DefaultUserConfigPath returns the per-user config path, which is also
// where `decky-sbox init` writes by default. It is empty when the
// platform has no user config directory.
func DefaultUserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// EnvNoInherit reports whether DECKY_SBOX_NO_INHERIT asks to skip every
// layer but the explicit one. "1" and "true" (any case) enable it.
func EnvNoInherit() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DECKY_SBOX_NO_INHERIT")))
	return v == "1" || v == "true"
}
