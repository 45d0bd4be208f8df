// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between rotortrackd and its clients.
package telemetry

import (
	"time"

	"github.com/large-farva/rotortrack/internal/control"
)

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventLog       EventType = "log"
	EventRotor     EventType = "rotor"
	EventQueue     EventType = "queue"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. IDLE -> TRACKING).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Rotor carries one control loop frame.
type Rotor struct {
	Event
	control.Frame
}

// Queue reports the tracking queue after an operator change.
type Queue struct {
	Event
	Queue     []int `json:"queue"`
	NoradID   int   `json:"norad_id,omitempty"`
	HasTarget bool  `json:"has_target"`
}
