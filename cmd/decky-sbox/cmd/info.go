package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ljm625/decky-sbox/internal/client"
	"github.com/ljm625/decky-sbox/pkg/sbox"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration and sing-box status",
	Long: `Shows which config files were loaded, where decky-sbox keeps its data, and
the daemon's view of sing-box: binary version, whether it is online and on
which profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := loadLayered()
		if err != nil {
			return err
		}
		cfg := res.Config

		info("Configuration:")
		if len(res.Layers) == 0 {
			info("  (defaults only)")
		}
		for _, l := range res.Layers {
			info("  %-9s %s", l.Level, l.Path)
		}
		info("  home:     %s", cfg.Home)
		info("  binary:   %s", cfg.Binary)
		info("  profiles: %s", cfg.ProfilesDir())
		info("  listen:   %s", cfg.Listen)
		if cfg.AutoRefresh != "" {
			info("  refresh:  %s", cfg.AutoRefresh)
		}
		info("")

		addr := daemonAddr
		if addr == "" {
			addr = cfg.Listen
		}
		c := client.New(addr)
		st, err := c.Info(commandContext(cmd))
		if err != nil {
			return err
		}
		printStatus(st, time.Now())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether sing-box is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.Info(commandContext(cmd))
		if err != nil {
			return err
		}
		printStatus(st, time.Now())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the daemon and print status changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := newClient()
		if err != nil {
			return err
		}
		var last string
		return client.Poll(commandContext(cmd), cfg.Client.PollInterval, func(ctx context.Context) error {
			// Keep polling through daemon restarts.
			st, err := c.Info(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				errorf("%v", err)
				last = ""
				return nil
			}
			profiles, err := c.List(ctx)
			if err != nil {
				return nil
			}
			line := fmt.Sprintf("%s, %d profile(s)", statusLine(st), len(profiles))
			if line != last {
				info("%s  %s", time.Now().Format(time.TimeOnly), line)
				last = line
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

func printStatus(st sbox.Info, now time.Time) {
	binary := st.BinaryVersion
	if binary == "" {
		binary = "not found"
	}
	info("sing-box:")
	info("  binary:   %s", binary)
	info("  state:    %s", statusLine(st))
	if st.StartedAt != nil {
		info("  started:  %s", humanAge(*st.StartedAt, now))
	}
	if st.WebUI != "" {
		info("  web ui:   %s", st.WebUI)
	}
	if st.LastError != "" {
		info("  error:    %s", st.LastError)
	}
	detail("pid %d, run %s", st.PID, st.RunID)
}

// statusLine is a one-line summary of st.
func statusLine(st sbox.Info) string {
	switch {
	case st.Online:
		return "online (" + st.Config + ")"
	case st.Selected != "":
		return string(st.State) + ", selected " + st.Selected
	default:
		return string(st.State) + ", nothing selected"
	}
}
