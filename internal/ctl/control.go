package ctl

import (
	"fmt"
	"net/http"
	"strconv"
)

// commandResult is the daemon's reply to every control request.
type commandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Engage connects the daemon to the selected rotor.
func Engage(baseURL string, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/engage", nil, "ENGAGED", jsonOutput)
}

// Disengage releases the rotor.
func Disengage(baseURL string, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/disengage", nil, "DISENGAGED", jsonOutput)
}

// Tracking switches between following the target and the manual setpoint.
func Tracking(baseURL string, on bool, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/tracking", map[string]any{"enabled": on}, "TRACKING", jsonOutput)
}

// SelectRotor picks a rotor descriptor by name.
func SelectRotor(baseURL, name string, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/rotor", map[string]any{"name": name}, "SELECTED", jsonOutput)
}

// Tolerance sets the per-axis tolerance in degrees.
func Tolerance(baseURL string, degrees float64, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/tolerance", map[string]any{"degrees": degrees}, "SET", jsonOutput)
}

// Period sets the control period in milliseconds.
func Period(baseURL string, ms int, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/period", map[string]any{"milliseconds": ms}, "SET", jsonOutput)
}

// Setpoint sets the manual pointing used while tracking is off.
func Setpoint(baseURL string, az, el float64, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/setpoint", map[string]any{"az": az, "el": el}, "SET", jsonOutput)
}

// Enqueue appends a satellite to the tracking queue.
func Enqueue(baseURL string, noradID int, jsonOutput bool) error {
	return control(baseURL, http.MethodPost, "/api/queue", map[string]any{"norad_id": noradID}, "QUEUED", jsonOutput)
}

// Dequeue removes a satellite from the tracking queue.
func Dequeue(baseURL string, noradID int, jsonOutput bool) error {
	return control(baseURL, http.MethodDelete, "/api/queue/"+strconv.Itoa(noradID), nil, "REMOVED", jsonOutput)
}

// MinContact sets the shortest pass worth switching to for a satellite.
func MinContact(baseURL string, noradID int, seconds float64, jsonOutput bool) error {
	body := map[string]any{"norad_id": noradID, "seconds": seconds}
	return control(baseURL, http.MethodPost, "/api/min-contact", body, "SET", jsonOutput)
}

// Station moves the ground station.
func Station(baseURL string, lat, lon, alt float64, jsonOutput bool) error {
	body := map[string]any{"lat": lat, "lon": lon, "alt": alt}
	return control(baseURL, http.MethodPost, "/api/station", body, "MOVED", jsonOutput)
}

func control(baseURL, method, path string, body any, label string, jsonOutput bool) error {
	var result commandResult
	var err error
	switch method {
	case http.MethodDelete:
		err = deleteJSON(baseURL, path, &result)
	default:
		err = postJSON(baseURL, path, body, &result)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(green, label), result.Message)
	} else {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}
