package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const defaultProbeTimeout = 10 * time.Second

var versionPattern = regexp.MustCompile(`sing-box version (.+)`)

// ProbeVersion runs `<binary> version` and returns the reported version.
func ProbeVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("running %s version: %w", binary, err)
	}
	return parseVersion(out)
}

func parseVersion(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if m := versionPattern.FindStringSubmatch(sc.Text()); m != nil {
			return strings.TrimSpace(m[1]), nil
		}
	}
	return "", fmt.Errorf("no version line in output %q", truncate(string(out), 120))
}

// CheckMinVersion returns an error when version is older than min. An
// empty min disables the check. Pre-release suffixes such as
// "1.11.0-beta.3" compare below the release.
func CheckMinVersion(version, min string) error {
	if min == "" {
		return nil
	}
	v, m := canonical(version), canonical(min)
	if !semver.IsValid(v) {
		return fmt.Errorf("cannot compare version %q", version)
	}
	if semver.Compare(v, m) < 0 {
		return fmt.Errorf("sing-box %s is older than the required %s", version, min)
	}
	return nil
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
