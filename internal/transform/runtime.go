// Package transform rewrites a stored profile into the configuration the
// daemon actually launches: logging, the clash API used by the dashboard
// and the tun inbound are forced to managed values, everything else in the
// profile passes through untouched.
package transform

import (
	"encoding/json"
	"fmt"

	"github.com/ljm625/decky-sbox/internal/sandbox"
	"github.com/ljm625/decky-sbox/internal/validate"
)

// RunningConfigName is the file the process is started with, relative to
// the daemon home.
const RunningConfigName = "running_config.json"

// Overrides are the managed sections written into every running config.
type Overrides struct {
	LogLevel string
	ClashAPI string // external_controller listen address
	WebDir   string // external_ui directory

	// Tun replaces the default managed tun inbound when set.
	Tun map[string]any
}

// DefaultTun returns the managed tun inbound.
func DefaultTun() map[string]any {
	return map[string]any{
		"type":           "tun",
		"tag":            "tun-in",
		"interface_name": "tun0",
		"address":        []any{"172.18.0.1/30", "fdfe:dcba:9876::1/126"},
		"mtu":            9000,
		"gso":            true,
		"auto_route":     true,
		"strict_route":   true,
		"route_address":  []any{"0.0.0.0/1", "128.0.0.0/1", "::/1", "8000::/1"},
		"route_exclude_address": []any{
			"192.168.0.0/16",
			"fc00::/7",
		},
		"stack": "system",
		"platform": map[string]any{
			"http_proxy": map[string]any{
				"enabled":       false,
				"server":        "127.0.0.1",
				"server_port":   8080,
				"bypass_domain": []any{},
				"match_domain":  []any{},
			},
		},
	}
}

// Apply returns content rewritten with the managed sections.
func Apply(content []byte, ov Overrides) ([]byte, error) {
	doc, err := validate.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	doc["log"] = map[string]any{
		"level":     ov.LogLevel,
		"timestamp": true,
	}

	experimental, _ := doc["experimental"].(map[string]any)
	if experimental == nil {
		experimental = map[string]any{}
	}
	experimental["clash_api"] = map[string]any{
		"external_controller": ov.ClashAPI,
		"external_ui":         ov.WebDir,
		"secret":              "",
		"default_mode":        "rule",
	}
	doc["experimental"] = experimental

	tun := ov.Tun
	if tun == nil {
		tun = DefaultTun()
	}
	doc["inbounds"] = replaceTun(doc["inbounds"], tun)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding running config: %w", err)
	}
	return append(out, '\n'), nil
}

// replaceTun swaps the first tun inbound for tun, or appends tun.
func replaceTun(raw any, tun map[string]any) []any {
	inbounds, _ := raw.([]any)
	out := make([]any, 0, len(inbounds)+1)
	replaced := false
	for _, in := range inbounds {
		if m, ok := in.(map[string]any); ok && !replaced && m["type"] == "tun" {
			out = append(out, tun)
			replaced = true
			continue
		}
		out = append(out, in)
	}
	if !replaced {
		out = append(out, tun)
	}
	return out
}

// WriteRunning rewrites content and stores it as the running config under
// home, returning the file's path relative to home.
func WriteRunning(home string, content []byte, ov Overrides) (string, error) {
	out, err := Apply(content, ov)
	if err != nil {
		return "", err
	}
	if err := sandbox.SafeWrite(home, RunningConfigName, out, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", RunningConfigName, err)
	}
	return RunningConfigName, nil
}
