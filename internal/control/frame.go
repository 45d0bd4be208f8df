package control

import (
	"fmt"
	"time"
)

// Frame is what the display sink receives after every tick.
type Frame struct {
	Time      time.Time `json:"time"`
	Tracking  bool      `json:"tracking"`
	Engaged   bool      `json:"engaged"`
	Rotor     string    `json:"rotor,omitempty"`
	NoradID   int       `json:"norad_id,omitempty"`
	HasTarget bool      `json:"has_target"`

	// Target position in sky coordinates.
	TargetAz float64 `json:"target_az"`
	TargetEl float64 `json:"target_el"`

	// Setpoint and last command in rotor coordinates.
	SetAz float64 `json:"set_az"`
	SetEl float64 `json:"set_el"`
	CmdAz float64 `json:"cmd_az"`
	CmdEl float64 `json:"cmd_el"`

	ReadAz  float64 `json:"read_az"`
	ReadEl  float64 `json:"read_el"`
	ReadOK  bool    `json:"read_ok"`
	ReadErr string  `json:"read_err,omitempty"`

	// Countdown to the next AOS while the target is down, or to LOS while
	// it is up.
	Countdown      string `json:"countdown"`
	CountdownEvent string `json:"countdown_event,omitempty"`

	AOS      time.Time `json:"aos,omitzero"`
	LOS      time.Time `json:"los,omitzero"`
	Flipped  bool      `json:"flipped"`
	Lead     float64   `json:"lead_seconds"`
	ErrCount int       `json:"error_count"`
}

// Display receives frames. Publish must not block the control loop.
type Display interface {
	Publish(Frame)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Frame)

// Publish calls f.
func (f DisplayFunc) Publish(fr Frame) { f(fr) }

// FormatCountdown renders d as HH:MM:SS, or MM:SS under an hour. Negative
// durations render as zero.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	h := s / 3600
	s -= 3600 * h
	m := s / 60
	s -= 60 * m
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
