package ctl

import (
	"fmt"
	"strings"
	"time"
)

// FrameResponse mirrors one control loop frame.
type FrameResponse struct {
	Time           time.Time `json:"time"`
	NoradID        int       `json:"norad_id"`
	TargetAz       float64   `json:"target_az"`
	TargetEl       float64   `json:"target_el"`
	SetAz          float64   `json:"set_az"`
	SetEl          float64   `json:"set_el"`
	CmdAz          float64   `json:"cmd_az"`
	CmdEl          float64   `json:"cmd_el"`
	ReadAz         float64   `json:"read_az"`
	ReadEl         float64   `json:"read_el"`
	ReadOK         bool      `json:"read_ok"`
	ReadErr        string    `json:"read_err"`
	Countdown      string    `json:"countdown"`
	CountdownEvent string    `json:"countdown_event"`
	Flipped        bool      `json:"flipped"`
	Lead           float64   `json:"lead_seconds"`
	ErrCount       int       `json:"error_count"`
}

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DemoEnabled   bool   `json:"demo_enabled"`
	WSClients     int    `json:"ws_clients"`
	Control       struct {
		Tracking   bool               `json:"tracking"`
		Engaged    bool               `json:"engaged"`
		Tolerance  float64            `json:"tolerance"`
		Period     time.Duration      `json:"period"`
		ErrCount   int                `json:"error_count"`
		Writes     int64              `json:"writes"`
		Reads      int64              `json:"reads"`
		Rotor      string             `json:"rotor"`
		NoradID    int                `json:"norad_id"`
		HasTarget  bool               `json:"has_target"`
		Queue      []int              `json:"queue"`
		MinContact map[string]float64 `json:"min_contact"`
		Last       FrameResponse      `json:"last_frame"`
	} `json:"control"`
	Station struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	} `json:"station"`
	Pass *struct {
		NoradID   int     `json:"norad_id"`
		AOS       string  `json:"aos"`
		LOS       string  `json:"los"`
		MaxElev   float64 `json:"max_elev"`
		DurationS int     `json:"duration_s"`
	} `json:"pass"`
	CacheDisk *struct {
		Path      string `json:"path"`
		Available uint64 `json:"available_bytes"`
	} `json:"cache_disk"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	c := s.Control
	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)

	rotorStr := c.Rotor
	if rotorStr == "" {
		rotorStr = colorize(red, "none selected")
	}
	target := colorize(dim, "none")
	if c.HasTarget {
		target = fmt.Sprintf("NORAD %d", c.NoradID)
	}
	queue := make([]string, len(c.Queue))
	for i, id := range c.Queue {
		queue[i] = fmt.Sprint(id)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ROTORTRACK STATUS"))
	fmt.Fprintln(out, rule(44))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "State:"), stateStr)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Rotor:"), rotorStr)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Engaged:"), yesNo(c.Engaged))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Tracking:"), yesNo(c.Tracking))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Target:"), target)
	fmt.Fprintf(out, "  %-12s [%s]\n", colorize(dim, "Queue:"), strings.Join(queue, ", "))
	fmt.Fprintf(out, "  %-12s %.2f°  every %s\n", colorize(dim, "Tolerance:"), c.Tolerance, c.Period)

	if !c.Last.Time.IsZero() {
		f := c.Last
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Setpoint:"), formatAngle(f.SetAz, f.SetEl))
		if f.ReadOK {
			fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Position:"), formatAngle(f.ReadAz, f.ReadEl))
		} else if f.ReadErr != "" {
			fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Position:"), colorize(red, f.ReadErr))
		}
		if f.CountdownEvent != "" {
			fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, f.CountdownEvent+" in:"), f.Countdown)
		}
	}
	if c.ErrCount > 0 {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Errors:"), colorize(red, fmt.Sprint(c.ErrCount)))
	}
	if c.Engaged {
		fmt.Fprintf(out, "  %-12s %d writes, %d reads\n", colorize(dim, "rotctld:"), c.Writes, c.Reads)
	}
	fmt.Fprintf(out, "  %-12s %.4f, %.4f, %.0fm\n", colorize(dim, "Station:"), s.Station.Lat, s.Station.Lon, s.Station.Alt)
	if s.CacheDisk != nil {
		fmt.Fprintf(out, "  %-12s %s free\n", colorize(dim, "Cache:"), formatBytes(s.CacheDisk.Available))
	}
	if s.DemoEnabled {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Mode:"), colorize(yellow, "demo"))
	}
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Fprintln(out)

	return nil
}
