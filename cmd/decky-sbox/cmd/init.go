package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ljm625/decky-sbox/internal/config"
)

var initForce bool

// initTemplate is the default decky-sbox.yaml scaffold. Every key is
// optional; the values shown are the defaults.
const initTemplate = `# decky-sbox configuration
version: 1

# Data directory for profiles, state.db and the sing-box binary.
# DECKY_SBOX_HOME overrides it.
# home: ~/.local/share/decky-sbox

# sing-box binary, relative to home unless absolute.
# binary: bin/sing-box

# Address the daemon serves its RPC API on.
listen: 127.0.0.1:9191

fetch:
  timeout: 30s
  max_size: 5242880
  user_agent: sing-box

run:
  liveness_window: 2s
  stop_timeout: 5s
  min_version: 1.10.0
  log_level: warn
  clash_api: 127.0.0.1:9090
  webui_path: /ui
  # tun:
  #   type: tun
  #   tag: tun-in
  #   address: [172.19.0.1/30]
  #   auto_route: true
  #   strict_route: true
  #   stack: system

# Select the first valid profile downloaded while nothing is selected.
auto_select: true

# Re-download remote profiles on a cron schedule. Empty disables it.
# auto_refresh: "@every 6h"

# Re-validate profile files edited on disk.
watch: true

log:
  level: info
  # file: logs/daemon.log   # "-" logs to stderr only
  max_size_mb: 10
  max_backups: 3

metrics: true

client:
  poll_interval: 5s
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter decky-sbox.yaml configuration",
	Long: `Creates a decky-sbox.yaml with every setting documented. The file is written
to the --config path, or to the per-user config directory by default.

Use --force to overwrite an existing configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		if outPath == "" {
			outPath = config.DefaultUserConfigPath()
			if outPath == "" {
				return fmt.Errorf("no user config directory; pass --config")
			}
		}
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(outPath, []byte(initTemplate), 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		info("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Put a sing-box binary at the configured path")
		info("  2. Run 'decky-sbox serve' to start the daemon")
		info("  3. Run 'decky-sbox add <name> <url>' and 'decky-sbox start'")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
