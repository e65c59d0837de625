package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath string
	daemonAddr string
	noInherit  bool
	verbose    bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "decky-sbox",
	Short: "Manage sing-box profiles and the sing-box process",
	Long: `decky-sbox keeps a set of named sing-box profiles, tracks which one is
selected and whether it is valid, and starts or stops sing-box on the selected
profile. 'decky-sbox serve' runs the daemon; the other commands talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "decky-sbox %s\n", version)
		fmt.Fprintf(out, "  commit:  %s\n", commit)
		fmt.Fprintf(out, "  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to decky-sbox.yaml (default: system, user and plugin config)")
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "", "daemon address (default: listen from config)")
	rootCmd.PersistentFlags().BoolVar(&noInherit, "no-inherit", false, "ignore system, user and plugin config files")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}
