package ctl

import (
	"fmt"
	"strings"
)

// Rotors lists the rotor descriptors the daemon can select.
func Rotors(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Dir      string   `json:"dir"`
		Rotors   []string `json:"rotors"`
		Selected *struct {
			Name   string  `json:"name"`
			Host   string  `json:"host"`
			Port   int     `json:"port"`
			AzType string  `json:"az_type"`
			MinAz  float64 `json:"min_az"`
			MaxAz  float64 `json:"max_az"`
			MinEl  float64 `json:"min_el"`
			MaxEl  float64 `json:"max_el"`
		} `json:"selected"`
	}
	if err := getJSON(baseURL, "/api/rotors", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ROTORS"))
	fmt.Fprintf(out, "  %s %s\n", colorize(dim, "Directory:"), resp.Dir)
	fmt.Fprintln(out, rule(44))
	if len(resp.Rotors) == 0 {
		fmt.Fprintln(out, colorize(dim, "  No rotor descriptors found."))
	}
	for _, name := range resp.Rotors {
		if resp.Selected != nil && resp.Selected.Name == name {
			sel := resp.Selected
			fmt.Fprintf(out, "  %s %s  %s:%d  az %s [%.0f, %.0f]  el [%.0f, %.0f]\n",
				colorize(green, "*"), colorize(bold, name),
				sel.Host, sel.Port, sel.AzType, sel.MinAz, sel.MaxAz, sel.MinEl, sel.MaxEl)
			continue
		}
		fmt.Fprintf(out, "    %s\n", name)
	}
	fmt.Fprintln(out)

	return nil
}
