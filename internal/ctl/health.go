package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Health checks daemon liveness and component health via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var resp struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("HTTP %d: unreadable health report: %w", status, err)
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	if resp.Healthy {
		fmt.Fprintf(out, "  %s  rotortrackd is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(out, "  %s  rotortrackd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(resp.Checks))
	for name := range resp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := resp.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		detail := ""
		if e, _ := c["error"].(string); e != "" {
			detail = colorize(dim, e)
		}
		fmt.Fprintf(out, "    %s %s %s\n", mark, padRight(name, 12), detail)
	}
	fmt.Fprintln(out)

	return nil
}
