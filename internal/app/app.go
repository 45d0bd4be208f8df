// Package app wires together the HTTP server, WebSocket hub, control engine,
// and upkeep runner. It owns the daemon's lifecycle and is the single source
// of truth for the current operating state.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/rotortrack/internal/config"
	"github.com/large-farva/rotortrack/internal/control"
	"github.com/large-farva/rotortrack/internal/demo"
	"github.com/large-farva/rotortrack/internal/metrics"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotctld"
	"github.com/large-farva/rotortrack/internal/rotor"
	"github.com/large-farva/rotortrack/internal/scheduler"
	"github.com/large-farva/rotortrack/internal/telemetry"
	"github.com/large-farva/rotortrack/internal/ws"
)

// DemoRotor is the descriptor name of the built-in simulated rotator.
const DemoRotor = "demo"

// Operating states reported in status and heartbeat events.
const (
	StateBooting  = "BOOTING"
	StateIdle     = "IDLE"
	StateEngaged  = "ENGAGED"
	StateTracking = "TRACKING"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *slog.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string

	// Registry receives the control metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
	// Catalogs defaults to the configured TLE store.
	Catalogs scheduler.Catalogs
	// Dial defaults to a rotctld TCP connection.
	Dial control.Dialer
	// Now defaults to time.Now.
	Now func() time.Time
}

// App is the top-level daemon process.
type App struct {
	log        *slog.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	clock     func() time.Time
	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, IDLE, etc.)

	wsHub   *ws.Hub
	pred    *predict.Predictor
	tle     *predict.TLEStore
	rotors  rotorCatalog
	metrics *metrics.Collector
	engine  *control.Engine
	runner  *scheduler.Runner
	sim     *demo.Server

	satsOnce sync.Once
}

// New builds the daemon's components in the BOOTING state. Call Run to start
// serving.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Cfg

	a := &App{
		log:        opts.Logger.With("component", "rotortrackd"),
		cfg:        cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		clock:      opts.Now,
		startedAt:  time.Now(),
		wsHub:      ws.NewHub(opts.Logger),
		tle:        predict.NewTLEStore(cfg.TLE.URL, cfg.TLE.CacheDir, cfg.TLE.RefreshHours),
	}
	a.state.Store(StateBooting)

	m, err := metrics.New(opts.Registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics = m

	station := predict.Location{Lat: cfg.Station.Latitude, Lon: cfg.Station.Longitude, Alt: cfg.Station.Altitude}
	a.pred = predict.NewPredictor(station, opts.Logger)

	a.rotors = rotorCatalog{Store: rotor.NewStore(cfg.Rotors.Dir)}
	if cfg.Demo.Enabled {
		rc, err := demoDescriptor(cfg.Demo)
		if err != nil {
			return nil, fmt.Errorf("demo rotor: %w", err)
		}
		a.rotors.demo = &rc
		a.sim = demo.NewServer(demo.NewRotator(rc.AzType, rc.MaxEl, cfg.Demo.SlewDegPerSec), opts.Logger)
	}

	dial := opts.Dial
	if dial == nil {
		dial = a.dialRotctld
	}
	a.engine = control.New(control.Options{
		Propagator: a.pred,
		Rotors:     a.rotors,
		Dial:       dial,
		Display:    control.DisplayFunc(a.publish),
		Metrics:    m,
		Logger:     opts.Logger,
		Period:     cfg.Control.Period(),
		Tolerance:  cfg.Control.Tolerance,
		Tracking:   cfg.Control.Tracking,
		Now:        opts.Now,
	})

	catalogs := opts.Catalogs
	if catalogs == nil {
		catalogs = a.tle
	}
	var locate scheduler.Locator
	if cfg.Station.UseGPSD {
		locate = func(ctx context.Context) (predict.Location, error) {
			return predict.LocationFromGPSD(ctx, cfg.Station.GPSDHost, 5*time.Second)
		}
	}
	a.runner = scheduler.New(cfg, a.pred, catalogs, locate, a.wsHub, opts.Logger)
	a.runner.OnCatalog(func(int) { a.satsOnce.Do(a.applySatellites) })

	rotorName := cfg.Control.Rotor
	if rotorName == "" && cfg.Demo.Enabled {
		rotorName = DemoRotor
	}
	if rotorName != "" {
		if err := a.engine.SelectRotor(rotorName); err != nil {
			a.log.Warn("configured rotor unavailable", "rotor", rotorName, "err", err)
		}
	}
	return a, nil
}

// Run starts the HTTP server, WebSocket hub, heartbeat ticker, control
// engine, and upkeep runner, plus the simulated rotator in demo mode. It
// blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.log.Info("listening", "url", "http://"+bind)

	g, ctx := errgroup.WithContext(ctx)

	if a.sim != nil {
		simLn, err := net.Listen("tcp", a.cfg.Demo.Bind)
		if err != nil {
			ln.Close()
			return fmt.Errorf("demo rotator: %w", err)
		}
		g.Go(func() error { return a.sim.Serve(ctx, simLn) })
	}

	g.Go(func() error {
		a.wsHub.Run(ctx)
		return nil
	})
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return a.runner.Run(ctx) })
	g.Go(func() error {
		a.heartbeatLoop(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutdown requested")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	a.transition(StateIdle)
	return g.Wait()
}

// Router returns the daemon's HTTP routes.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", a.wsHub.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/version", a.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/config", a.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/rotors", a.handleRotors).Methods(http.MethodGet)
	api.HandleFunc("/satellites", a.handleSatellites).Methods(http.MethodGet)
	api.HandleFunc("/passes", a.handlePasses).Methods(http.MethodGet)
	api.HandleFunc("/tle", a.handleTLEInfo).Methods(http.MethodGet)

	api.HandleFunc("/engage", a.handleEngage).Methods(http.MethodPost)
	api.HandleFunc("/disengage", a.handleDisengage).Methods(http.MethodPost)
	api.HandleFunc("/tracking", a.handleTracking).Methods(http.MethodPost)
	api.HandleFunc("/rotor", a.handleRotor).Methods(http.MethodPost)
	api.HandleFunc("/tolerance", a.handleTolerance).Methods(http.MethodPost)
	api.HandleFunc("/period", a.handlePeriod).Methods(http.MethodPost)
	api.HandleFunc("/setpoint", a.handleSetpoint).Methods(http.MethodPost)
	api.HandleFunc("/queue", a.handleEnqueue).Methods(http.MethodPost)
	api.HandleFunc("/queue/{norad_id:[0-9]+}", a.handleDequeue).Methods(http.MethodDelete)
	api.HandleFunc("/min-contact", a.handleMinContact).Methods(http.MethodPost)
	api.HandleFunc("/station", a.handleStation).Methods(http.MethodPost)
	api.HandleFunc("/tle-refresh", a.handleTLERefresh).Methods(http.MethodPost)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, "not found", http.StatusNotFound)
	})
	return r
}

// dialRotctld opens the production rotator connection.
func (a *App) dialRotctld(ctx context.Context, rc rotor.Config) (control.Device, error) {
	c, err := rotctld.Dial(ctx, rc.Addr(), a.cfg.Control.IOTimeout(), a.log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// applySatellites loads the configured queue once the first catalog is in.
func (a *App) applySatellites() {
	for _, s := range a.cfg.Satellites {
		if s.MinContactSeconds > 0 {
			if err := a.engine.SetMinContact(s.NoradID, s.MinContactSeconds); err != nil {
				a.log.Warn("min contact not applied", "norad_id", s.NoradID, "err", err)
			}
		}
		if !s.Queued {
			continue
		}
		if err := a.engine.Enqueue(s.NoradID); err != nil && !errors.Is(err, control.ErrAlreadyQueued) {
			a.log.Warn("configured satellite not queued", "norad_id", s.NoradID, "err", err)
			continue
		}
		a.log.Info("satellite queued from config", "norad_id", s.NoradID)
	}
	a.broadcastQueue(0)
}

// publish is the engine's display sink. It runs inside the control tick, so
// it only touches the hub and the atomic state.
func (a *App) publish(fr control.Frame) {
	a.wsHub.Retain(string(telemetry.EventRotor), telemetry.Rotor{
		Event: telemetry.NewEvent(telemetry.EventRotor, "control"),
		Frame: fr,
	})
	a.transition(stateOf(fr.Engaged, fr.Tracking, fr.HasTarget))
}

func stateOf(engaged, tracking, hasTarget bool) string {
	switch {
	case !engaged:
		return StateIdle
	case tracking && hasTarget:
		return StateTracking
	default:
		return StateEngaged
	}
}

// syncState recomputes the state after an operator call.
func (a *App) syncState() {
	st := a.engine.State()
	a.transition(stateOf(st.Engaged, st.Tracking, st.HasTarget))
}

// transition atomically updates the daemon state and broadcasts the change.
// The last transition is retained for clients that connect later.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.log.Info("state changed", "from", old, "to", newState)
	a.wsHub.Retain(string(telemetry.EventState), telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, "rotortrackd"),
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat, "rotortrackd"),
				State:         a.state.Load().(string),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}

func (a *App) broadcastQueue(id int) {
	st := a.engine.State()
	a.wsHub.Retain(string(telemetry.EventQueue), telemetry.Queue{
		Event:     telemetry.NewEvent(telemetry.EventQueue, "control"),
		Queue:     st.Queue,
		NoradID:   id,
		HasTarget: st.HasTarget,
	})
}

// emit pushes an operator-visible log line to every connected client.
func (a *App) emit(level, msg string) {
	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.NewEvent(telemetry.EventLog, "rotortrackd"),
		Level:   level,
		Message: msg,
	})
}

// rotorCatalog serves descriptors from disk plus the simulated rotator when
// demo mode is on.
type rotorCatalog struct {
	*rotor.Store
	demo *rotor.Config
}

func (c rotorCatalog) Load(name string) (rotor.Config, error) {
	if c.demo != nil && name == DemoRotor {
		return *c.demo, nil
	}
	return c.Store.Load(name)
}

func (c rotorCatalog) List() ([]string, error) {
	names, err := c.Store.List()
	if err != nil {
		return nil, err
	}
	if c.demo != nil {
		names = append([]string{DemoRotor}, names...)
	}
	return names, nil
}

// demoDescriptor builds the descriptor pointing at the simulated rotator.
func demoDescriptor(d config.DemoConfig) (rotor.Config, error) {
	host, portStr, err := net.SplitHostPort(d.Bind)
	if err != nil {
		return rotor.Config{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return rotor.Config{}, fmt.Errorf("port %q: %w", portStr, err)
	}
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	rc := rotor.Config{
		Name:  DemoRotor,
		Host:  host,
		Port:  port,
		MinEl: 0,
		MaxEl: d.MaxEl,
	}
	if err := rc.AzType.UnmarshalText([]byte(d.AzType)); err != nil {
		return rotor.Config{}, err
	}
	if rc.AzType == rotor.PlusMinus180 {
		rc.MinAz, rc.MaxAz = -180, 180
	} else {
		rc.MinAz, rc.MaxAz = 0, 360
	}
	return rc, rc.Validate()
}
