package ctl

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// VersionInfo fetches daemon version via GET /api/version and displays both
// the CLI and daemon version information.
func VersionInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var daemon struct {
		Version   string `json:"version"`
		Commit    string `json:"commit"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	daemonErr := getJSON(baseURL, "/api/version", &daemon)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"commit":     Commit,
				"go_version": runtime.Version(),
			},
		}
		if daemonErr == nil {
			resp["daemon"] = daemon
			resp["skewed"] = skewed(Version, daemon.Version)
		} else {
			resp["daemon_error"] = daemonErr.Error()
		}
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ROTORTRACK VERSION"))
	fmt.Fprintln(out, rule(38))
	fmt.Fprintf(out, "  %-12s %s (%s, %s)\n", colorize(dim, "CLI:"), Version, Commit, runtime.Version())
	if daemonErr != nil {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+daemonErr.Error()))
	} else {
		fmt.Fprintf(out, "  %-12s %s (%s, %s)\n", colorize(dim, "Daemon:"), daemon.Version, daemon.Commit, daemon.GoVersion)
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Built:"), daemon.BuiltAt)
		if skewed(Version, daemon.Version) {
			fmt.Fprintf(out, "  %s\n", colorize(yellow, "CLI and daemon versions differ; API fields may not match"))
		}
	}
	fmt.Fprintln(out)

	return nil
}

// skewed reports a real version mismatch. Development builds match anything.
func skewed(cli, daemon string) bool {
	if cli == "dev" || daemon == "dev" {
		return false
	}
	return strings.TrimPrefix(cli, "v") != strings.TrimPrefix(daemon, "v")
}
