package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ljm625/decky-sbox/pkg/sbox"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		profiles, err := c.List(commandContext(cmd))
		if err != nil {
			return err
		}
		printProfiles(profiles, time.Now())
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name> <source>",
	Short: "Download a profile from a URL, a file or inline JSON",
	Long: `Stores a profile under <name>. The source is fetched by the daemon: an
http(s) URL is downloaded, a path is read from the daemon's filesystem, and
anything else is taken as the profile document itself.

Adding an existing name replaces its content.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		if err := checkResult(c.Download(commandContext(cmd), args[0], args[1])); err != nil {
			return err
		}
		info("Added %s", args[0])
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <name>",
	Short: "Re-download and re-validate a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		if err := checkResult(c.Refresh(commandContext(cmd), args[0])); err != nil {
			return err
		}
		info("Refreshed %s", args[0])
		return nil
	},
}

var useCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the profile sing-box runs on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSelected(cmd, args[0], true)
	},
}

var unuseCmd = &cobra.Command{
	Use:   "unuse <name>",
	Short: "Clear the selection of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSelected(cmd, args[0], false)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a stored profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		if err := checkResult(c.Delete(commandContext(cmd), args[0])); err != nil {
			return err
		}
		info("Deleted %s", args[0])
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start sing-box on the selected profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, true)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop sing-box",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggle(cmd, false)
	},
}

func init() {
	rootCmd.AddCommand(listCmd, addCmd, refreshCmd, useCmd, unuseCmd, deleteCmd, startCmd, stopCmd)
}

func setSelected(cmd *cobra.Command, name string, selected bool) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	if err := checkResult(c.Select(commandContext(cmd), name, selected)); err != nil {
		return err
	}
	if selected {
		info("Selected %s", name)
	} else {
		info("Deselected %s", name)
	}
	return nil
}

func toggle(cmd *cobra.Command, on bool) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	if err := checkResult(c.Toggle(ctx, on)); err != nil {
		return err
	}
	if !on {
		info("sing-box stopped")
		return nil
	}
	st, err := c.Info(ctx)
	if err != nil {
		return err
	}
	info("sing-box running on %s", st.Config)
	if st.WebUI != "" {
		detail("web ui: %s", st.WebUI)
	}
	return nil
}

func printProfiles(profiles []sbox.Profile, now time.Time) {
	if len(profiles) == 0 {
		info("No profiles. Add one with 'decky-sbox add <name> <url>'.")
		return
	}
	info("  %-20s %-8s %-10s %s", "NAME", "VALID", "UPDATED", "SOURCE")
	for _, p := range profiles {
		mark := " "
		if p.Selected {
			mark = "*"
		}
		valid := "yes"
		if !p.Valid {
			valid = "no"
		}
		src := p.URL
		if src == "" {
			src = "(local)"
		}
		info("%s %-20s %-8s %-10s %s", mark, p.Name, valid, humanAge(p.UpdatedAt, now), src)
		if p.LastError != "" {
			detail("  %s", p.LastError)
		}
	}
	if verbose {
		fmt.Fprintf(stdout, "\n%d profile(s)\n", len(profiles))
	}
}
