package ctl

import (
	"fmt"
	"strconv"
	"strings"
)

// Satellites lists the loaded TLE catalog and marks queued satellites.
func Satellites(baseURL string, opts SatellitesOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Satellites []struct {
			Name       string  `json:"name"`
			NoradID    int     `json:"norad_id"`
			Queued     bool    `json:"queued"`
			Slot       int     `json:"slot"`
			MinContact float64 `json:"min_contact_seconds"`
		} `json:"satellites"`
	}
	if err := getJSON(baseURL, "/api/satellites", &resp); err != nil {
		return err
	}

	if opts.QueuedOnly {
		kept := resp.Satellites[:0]
		for _, s := range resp.Satellites {
			if s.Queued {
				kept = append(kept, s)
			}
		}
		resp.Satellites = kept
	}

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  SATELLITE CATALOG"))
	if len(resp.Satellites) == 0 {
		fmt.Fprintln(out, colorize(dim, "  No satellites."))
		fmt.Fprintln(out)
		return nil
	}

	t := newTable("  ", "Name", "NORAD ID", "Queue", "Min contact")
	for _, s := range resp.Satellites {
		slot, minContact := "", ""
		if s.Queued {
			slot = "#" + strconv.Itoa(s.Slot)
		}
		if s.MinContact > 0 {
			minContact = fmt.Sprintf("%.0fs", s.MinContact)
		}
		t.row(s.Name, strconv.Itoa(s.NoradID), slot, minContact)
	}
	t.flush()
	fmt.Fprintln(out)

	return nil
}

// SatellitesOptions controls the satellites command.
type SatellitesOptions struct {
	QueuedOnly bool
	JSON       bool
}
