package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter    []string // event types to show (empty = all)
	JSON      bool     // output raw JSON per event
	Reconnect bool     // redial after the daemon goes away
}

// Watch streams daemon events to the terminal until interrupted. The daemon
// replays the latest rotor, state and queue events on connect, so the first
// lines show where the rotor is right now.
func Watch(baseURL string, opts WatchOptions) error {
	u, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	backoff := minBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && !opts.Reconnect:
			return err
		case err != nil:
			notice(opts, red, "unreachable", fmt.Sprintf("%v, retrying in %s", err, backoff))
		default:
			backoff = minBackoff
			notice(opts, green, "connected", u)
			if len(opts.Filter) > 0 && !opts.JSON {
				fmt.Fprintf(out, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
			}
			if !opts.JSON {
				fmt.Fprintln(out, rule(50))
			}
			err = stream(ctx, conn, filterSet, opts.JSON)
			if ctx.Err() != nil {
				if !opts.JSON {
					fmt.Fprintln(out)
					fmt.Fprintln(out, colorize(dim, "  disconnecting..."))
				}
				return nil
			}
			if !opts.Reconnect {
				return nil
			}
			notice(opts, yellow, "disconnected", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// wsURL turns the daemon base URL into its WebSocket endpoint.
func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// stream prints events from conn until it fails or ctx is cancelled, in
// which case it sends a normal close frame.
func stream(ctx context.Context, conn *websocket.Conn, filter map[string]bool, raw bool) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("connection closed")
			}
			return err
		}
		if len(filter) > 0 && !filter[eventType(msg)] {
			continue
		}
		if raw {
			fmt.Fprintln(out, string(msg))
		} else {
			renderEvent(msg)
		}
	}
}

func eventType(msg []byte) string {
	var ev struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(msg, &ev)
	return ev.Type
}

func notice(opts WatchOptions, color, label, detail string) {
	if opts.JSON {
		fmt.Fprintf(os.Stderr, "%s: %s\n", label, detail)
		return
	}
	fmt.Fprintf(out, "\n  %s %s\n", colorize(color, label), colorize(dim, detail))
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Fprintf(out, "  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy, so show them dimmed on a single line.
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		uptimeStr := formatDuration(time.Duration(uptime) * time.Second)
		fmt.Fprintf(out, "  %s %s  %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, uptimeStr),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		fmt.Fprintf(out, "  %s %s  %s %s %s\n",
			colorize(dim, ts),
			colorize(bold, "STATE"),
			colorize(stateColor(from), from),
			colorize(dim, "->"),
			colorize(stateColor(to), to),
		)

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		levelStr := formatLogLevel(level)
		src := ""
		if component != "" {
			src = colorize(dim, "["+component+"] ")
		}
		fmt.Fprintf(out, "  %s %s  %s%s\n", colorize(dim, ts), levelStr, src, message)

	case "rotor":
		renderRotor(ts, raw)

	case "queue":
		var q struct {
			Queue     []int `json:"queue"`
			HasTarget bool  `json:"has_target"`
		}
		_ = json.Unmarshal(raw, &q)
		ids := make([]string, len(q.Queue))
		for i, id := range q.Queue {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(out, "  %s %s  [%s]\n", colorize(dim, ts), colorize(cyan, "QUEUE"), strings.Join(ids, ", "))

	default:
		// Unknown event type: dump as indented JSON so nothing is lost.
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(out, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(out, "  %s\n", string(pretty))
	}
}

// renderRotor prints one control frame on a single line.
func renderRotor(ts string, raw []byte) {
	var f struct {
		FrameResponse
		Engaged   bool `json:"engaged"`
		Tracking  bool `json:"tracking"`
		HasTarget bool `json:"has_target"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		fmt.Fprintf(out, "  %s\n", string(raw))
		return
	}

	target := colorize(dim, "park  ")
	switch {
	case !f.Tracking:
		target = colorize(dim, "manual")
	case f.HasTarget:
		target = fmt.Sprintf("%-6d", f.NoradID)
	}
	mode := colorize(dim, "idle")
	if f.Engaged {
		mode = colorize(yellow, "live")
	}

	read := colorize(dim, "      --       ")
	switch {
	case f.ReadOK:
		read = formatAngle(f.ReadAz, f.ReadEl)
	case f.ReadErr != "":
		read = colorize(red, f.ReadErr)
	}

	line := fmt.Sprintf("  %s %s  %s %s  set %s  pos %s",
		colorize(dim, ts), colorize(cyan, "ROTOR"), mode, target,
		formatAngle(f.SetAz, f.SetEl), read)
	if f.CountdownEvent != "" {
		line += fmt.Sprintf("  %s %s", f.CountdownEvent, f.Countdown)
	}
	if f.Flipped {
		line += colorize(yellow, "  flipped")
	}
	if f.Lead > 0 {
		line += colorize(dim, fmt.Sprintf("  lead %.0fs", f.Lead))
	}
	if f.ErrCount > 0 {
		line += colorize(red, fmt.Sprintf("  errors %d", f.ErrCount))
	}
	fmt.Fprintln(out, line)
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "          "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw[:10]
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
