// Package scheduler runs the daemon's background upkeep: it loads the TLE
// catalog, refreshes it on schedule, and follows the station position from
// gpsd when configured. Operator commands arrive on a channel and are handled
// between sleeps.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/large-farva/rotortrack/internal/config"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/telemetry"
)

// Command represents an external command sent to the scheduler via its
// Commands channel. The Reply channel receives exactly one result.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK                bool   `json:"ok"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	SatellitesUpdated int    `json:"satellites_updated,omitempty"`
}

// Catalogs is where TLE data comes from.
type Catalogs interface {
	Fetch(ctx context.Context) (predict.Catalog, error)
	ForceRefresh(ctx context.Context) (predict.Catalog, error)
}

// Locator returns the station position.
type Locator func(ctx context.Context) (predict.Location, error)

// Broadcaster receives operator-visible events.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Runner owns the upkeep loop.
type Runner struct {
	// Commands receives external commands from HTTP handlers.
	Commands chan Command

	hub      Broadcaster
	log      *slog.Logger
	pred     *predict.Predictor
	catalogs Catalogs
	locate   Locator

	refreshEvery time.Duration
	pollEvery    time.Duration

	onCatalog func(n int)
}

// New creates a runner. locate may be nil when the station is fixed.
func New(cfg config.Config, pred *predict.Predictor, catalogs Catalogs, locate Locator, hub Broadcaster, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		Commands:     make(chan Command, 4),
		hub:          hub,
		log:          logger.With("component", "scheduler"),
		pred:         pred,
		catalogs:     catalogs,
		locate:       locate,
		refreshEvery: time.Duration(cfg.TLE.RefreshHours) * time.Hour,
	}
	if locate != nil {
		r.pollEvery = time.Duration(cfg.Station.GPSDPollSeconds) * time.Second
	}
	return r
}

// OnCatalog registers a function called after every successful catalog
// load with the number of satellites loaded.
func (r *Runner) OnCatalog(fn func(n int)) {
	r.onCatalog = fn
}

// Run loads the catalog, then keeps it and the station current until ctx is
// cancelled. Failures are logged and retried; Run only returns on
// cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.info("scheduler started")

	var nextRefresh time.Time
	if _, err := r.load(ctx, false); err != nil {
		r.errorf("initial TLE load failed: %v", err)
		nextRefresh = time.Now().Add(5 * time.Minute)
	} else {
		nextRefresh = time.Now().Add(r.refreshEvery)
	}

	var nextPoll time.Time
	if r.locate != nil {
		r.poll(ctx)
		nextPoll = time.Now().Add(r.pollEvery)
	}

	for {
		wake := nextRefresh
		if !nextPoll.IsZero() && nextPoll.Before(wake) {
			wake = nextPoll
		}
		if r.sleepOrCommand(ctx, time.Until(wake)) == sleepCancelled {
			return nil
		}

		now := time.Now()
		if !now.Before(nextRefresh) {
			if _, err := r.load(ctx, true); err != nil {
				r.errorf("TLE refresh failed: %v", err)
				nextRefresh = now.Add(5 * time.Minute)
			} else {
				nextRefresh = now.Add(r.refreshEvery)
			}
		}
		if !nextPoll.IsZero() && !now.Before(nextPoll) {
			r.poll(ctx)
			nextPoll = now.Add(r.pollEvery)
		}
	}
}

// load fetches a catalog and installs it in the predictor.
func (r *Runner) load(ctx context.Context, force bool) (int, error) {
	fetch := r.catalogs.Fetch
	if force {
		fetch = r.catalogs.ForceRefresh
	}
	cat, err := fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(cat) == 0 {
		return 0, fmt.Errorf("catalog is empty")
	}
	r.pred.SetCatalog(cat)
	r.info(fmt.Sprintf("TLE catalog loaded, %d satellites", len(cat)))
	if r.onCatalog != nil {
		r.onCatalog(len(cat))
	}
	return len(cat), nil
}

// poll asks the locator for a fix and moves the station when it changed.
func (r *Runner) poll(ctx context.Context) {
	loc, err := r.locate(ctx)
	if err != nil {
		r.log.Warn("station fix unavailable", "err", err)
		return
	}
	old := r.pred.Station()
	if old == loc {
		return
	}
	r.pred.SetStation(loc)
	r.log.Info("station updated", "lat", loc.Lat, "lon", loc.Lon, "alt", loc.Alt, "moved_km", predict.Distance(old, loc))
}

// sleepResult indicates what ended a sleep period.
type sleepResult int

const (
	sleepCompleted   sleepResult = iota // timer expired normally
	sleepCancelled                      // context was cancelled
	sleepInterrupted                    // a command was received and handled
)

// sleepOrCommand blocks for duration d, until ctx is cancelled, or until a
// command arrives on r.Commands. Commands are handled inline.
func (r *Runner) sleepOrCommand(ctx context.Context, d time.Duration) sleepResult {
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return sleepCancelled
	case <-t.C:
		return sleepCompleted
	case cmd := <-r.Commands:
		r.handleCommand(ctx, cmd)
		return sleepInterrupted
	}
}

// handleCommand dispatches an incoming command to the appropriate handler.
func (r *Runner) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case "tle_refresh":
		r.handleTLERefreshCommand(ctx, cmd)
	case "station":
		r.handleStationCommand(cmd)
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type}
	}
}

// handleTLERefreshCommand forces an immediate TLE data refresh.
func (r *Runner) handleTLERefreshCommand(ctx context.Context, cmd Command) {
	n, err := r.load(ctx, true)
	if err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "TLE refresh failed: " + err.Error()}
		return
	}
	cmd.Reply <- CommandResult{
		OK:                true,
		Message:           fmt.Sprintf("TLE data refreshed, %d satellites updated", n),
		SatellitesUpdated: n,
	}
}

// handleStationCommand moves the station to an operator-supplied position.
func (r *Runner) handleStationCommand(cmd Command) {
	var loc predict.Location
	if err := json.Unmarshal(cmd.Payload, &loc); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error()}
		return
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		cmd.Reply <- CommandResult{OK: false, Error: "station out of range"}
		return
	}
	r.pred.SetStation(loc)
	msg := fmt.Sprintf("station set to %.4f, %.4f", loc.Lat, loc.Lon)
	r.info(msg)
	cmd.Reply <- CommandResult{OK: true, Message: msg}
}

func (r *Runner) info(msg string) {
	r.log.Info(msg)
	r.broadcast("info", msg)
}

func (r *Runner) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.log.Error(msg)
	r.broadcast("error", msg)
}

func (r *Runner) broadcast(level, msg string) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.NewEvent(telemetry.EventLog, "scheduler"),
		Level:   level,
		Message: msg,
	})
}
