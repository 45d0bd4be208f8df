package ctl

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PassesOptions controls the passes command output.
type PassesOptions struct {
	Count    int
	NoradIDs []int
	Hours    float64
	MinElev  float64
	JSON     bool
}

// PassesResponse mirrors GET /api/passes.
type PassesResponse struct {
	Passes []struct {
		Satellite   string  `json:"satellite"`
		NoradID     int     `json:"norad_id"`
		AOS         string  `json:"aos"`
		LOS         string  `json:"los"`
		AOSAzimuth  float64 `json:"aos_azimuth"`
		LOSAzimuth  float64 `json:"los_azimuth"`
		MaxElev     float64 `json:"max_elev"`
		MaxElevTime string  `json:"max_elev_time"`
		DurationS   int     `json:"duration_s"`
	} `json:"passes"`
	Station struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	} `json:"station"`
}

// Passes lists upcoming passes of the queued (or the given) satellites.
func Passes(baseURL string, opts PassesOptions) error {
	params := url.Values{}
	if opts.Count > 0 {
		params.Set("count", strconv.Itoa(opts.Count))
	}
	if len(opts.NoradIDs) > 0 {
		ids := make([]string, len(opts.NoradIDs))
		for i, id := range opts.NoradIDs {
			ids[i] = strconv.Itoa(id)
		}
		params.Set("norad_id", strings.Join(ids, ","))
	}
	if opts.Hours > 0 {
		params.Set("hours", strconv.FormatFloat(opts.Hours, 'f', -1, 64))
	}
	if opts.MinElev > 0 {
		params.Set("min_elev", strconv.FormatFloat(opts.MinElev, 'f', -1, 64))
	}
	path := "/api/passes"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	// Pass search propagates every satellite over the whole window, so use a
	// longer timeout than the default client.
	passClient := &http.Client{Timeout: 60 * time.Second}
	var resp PassesResponse
	if err := doJSON(passClient, http.MethodGet, baseURL, path, nil, &resp); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  UPCOMING PASSES"))
	fmt.Fprintf(out, "  %s %.4f, %.4f, %.0fm\n",
		colorize(dim, "Station:"),
		resp.Station.Lat, resp.Station.Lon, resp.Station.Alt,
	)
	fmt.Fprintln(out, rule(76))

	if len(resp.Passes) == 0 {
		fmt.Fprintln(out, colorize(dim, "  No upcoming passes found."))
		fmt.Fprintln(out)
		return nil
	}

	t := newTable("  ", "#", "Satellite", "AOS", "LOS", "Az", "Elev", "Duration")
	for i, p := range resp.Passes {
		t.row(
			strconv.Itoa(i+1),
			p.Satellite,
			formatPassTime(p.AOS),
			formatPassTime(p.LOS),
			fmt.Sprintf("%.0f°→%.0f°", p.AOSAzimuth, p.LOSAzimuth),
			fmt.Sprintf("%.1f°", p.MaxElev),
			formatDuration(time.Duration(p.DurationS)*time.Second),
		)
	}
	t.flush()
	fmt.Fprintln(out)

	return nil
}

// formatPassTime parses an RFC3339 timestamp and returns a local time string.
func formatPassTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}
