package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	// Section order follows the TOML file; satellites are printed last.
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  DAEMON CONFIGURATION"))
	fmt.Fprintln(out, rule(50))

	for _, name := range []string{"server", "logging", "station", "tle", "control", "rotors", "demo"} {
		var fields map[string]any
		if err := json.Unmarshal(cfg[name], &fields); err != nil || len(fields) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n  %s\n", colorize(bold, "["+name+"]"))
		for _, key := range sortedKeys(fields) {
			fmt.Fprintf(out, "    %-20s %v\n", colorize(dim, key+":"), fields[key])
		}
	}

	var sats []struct {
		NoradID           int     `json:"norad_id"`
		MinContactSeconds float64 `json:"min_contact_seconds"`
		Queued            bool    `json:"queued"`
	}
	_ = json.Unmarshal(cfg["satellites"], &sats)
	for _, s := range sats {
		fmt.Fprintf(out, "\n  %s\n", colorize(bold, "[[satellites]]"))
		fmt.Fprintf(out, "    %-20s %d\n", colorize(dim, "norad_id:"), s.NoradID)
		fmt.Fprintf(out, "    %-20s %v\n", colorize(dim, "min_contact_seconds:"), s.MinContactSeconds)
		fmt.Fprintf(out, "    %-20s %v\n", colorize(dim, "queued:"), s.Queued)
	}

	fmt.Fprintln(out)
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
