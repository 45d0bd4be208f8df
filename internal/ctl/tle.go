package ctl

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TLERefresh sends a TLE refresh request to the daemon.
func TLERefresh(baseURL string, jsonOutput bool) error {
	var resp struct {
		OK                bool   `json:"ok"`
		Message           string `json:"message"`
		Error             string `json:"error"`
		SatellitesUpdated int    `json:"satellites_updated"`
	}
	// The daemon downloads the catalog before answering.
	client := &http.Client{Timeout: 60 * time.Second}
	if err := doJSON(client, http.MethodPost, baseURL, "/api/tle-refresh", nil, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	if resp.OK {
		fmt.Fprintf(out, "  %s  %s\n", colorize(green, "REFRESHED"), resp.Message)
	} else {
		fmt.Fprintf(out, "  %s  %s\n", colorize(red, "FAILED"), resp.Error)
	}
	fmt.Fprintln(out)

	return nil
}

// TLEInfo shows TLE cache status and freshness.
func TLEInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
		Fresh  bool   `json:"fresh"`
		AgeS   int    `json:"age_s"`
		URL    string `json:"url"`
	}
	if err := getJSON(baseURL, "/api/tle", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  TLE CACHE INFO"))
	fmt.Fprintln(out, rule(50))
	fmt.Fprintf(out, "  Cache file: %s\n", resp.Path)

	switch {
	case !resp.Exists:
		fmt.Fprintf(out, "  Status:     %s\n", colorize(red, "NOT FOUND"))
	case resp.Fresh:
		fmt.Fprintf(out, "  Status:     %s\n", colorize(green, "FRESH"))
	default:
		fmt.Fprintf(out, "  Status:     %s\n", colorize(yellow, "STALE"))
	}
	if resp.Exists {
		fmt.Fprintf(out, "  Age:        %s\n", formatDuration(time.Duration(resp.AgeS)*time.Second))
	}
	fmt.Fprintf(out, "  Source:     %s\n", resp.URL)
	fmt.Fprintln(out)
	return nil
}
