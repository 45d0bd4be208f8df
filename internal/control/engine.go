// Package control runs the periodic rotor control loop.
//
// Each tick picks a target through the schedule, works out where the rotor
// should point in its own coordinates, and, while engaged, reads the rotor
// back and commands it when it is out of tolerance. Consecutive transport
// failures disengage the rotor.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/large-farva/rotortrack/internal/geometry"
	"github.com/large-farva/rotortrack/internal/lead"
	"github.com/large-farva/rotortrack/internal/metrics"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotctld"
	"github.com/large-farva/rotortrack/internal/rotor"
	"github.com/large-farva/rotortrack/internal/schedule"
)

const (
	// MaxErrorCount consecutive errored ticks force a disengage.
	MaxErrorCount = 5

	MinPeriod    = time.Second
	MaxPeriod    = 10 * time.Second
	MinTolerance = 0.01
	MaxTolerance = 50.0

	// Park position used while tracking with nothing better to point at.
	parkAz = 0.0
	parkEl = 45.0
)

var (
	ErrNoRotor       = errors.New("no rotor selected")
	ErrNotEngaged    = errors.New("rotor not engaged")
	ErrEngaged       = errors.New("rotor is engaged")
	ErrNotQueued     = errors.New("satellite not queued")
	ErrAlreadyQueued = errors.New("satellite already queued")
	ErrOutOfRange    = errors.New("value out of range")
)

// Propagator is the orbit prediction the engine needs.
type Propagator interface {
	schedule.Propagator
	Position(id int, t time.Time) (az, el float64, err error)
}

// RotorStore loads rotor descriptors by name.
type RotorStore interface {
	Load(name string) (rotor.Config, error)
}

// Device is an open connection to a rotator.
type Device interface {
	GetPosition(ctx context.Context) (az, el float64, err error)
	SetPosition(ctx context.Context, az, el float64) error
	Close() error
	Writes() int64
	Reads() int64
}

// Dialer opens a Device for a rotor descriptor.
type Dialer func(ctx context.Context, rc rotor.Config) (Device, error)

// State is the engine's control state. Copies returned by Engine.State are
// detached from the engine.
type State struct {
	Tracking  bool          `json:"tracking"`
	Engaged   bool          `json:"engaged"`
	Tolerance float64       `json:"tolerance"`
	Period    time.Duration `json:"period"`
	ErrCount  int           `json:"error_count"`

	SetAz  float64 `json:"set_az"`
	SetEl  float64 `json:"set_el"`
	ReadAz float64 `json:"read_az"`
	ReadEl float64 `json:"read_el"`
	Flip   bool    `json:"flipped"`

	// Cumulative rotctld operations for the current engagement.
	Writes int64 `json:"writes"`
	Reads  int64 `json:"reads"`

	Rotor      string          `json:"rotor,omitempty"`
	NoradID    int             `json:"norad_id,omitempty"`
	HasTarget  bool            `json:"has_target"`
	Queue      []int           `json:"queue"`
	MinContact map[int]float64 `json:"min_contact,omitempty"`
	Pass       *predict.Pass   `json:"-"`
	Last       Frame           `json:"last_frame"`
}

// Options configures an Engine.
type Options struct {
	Propagator Propagator
	Rotors     RotorStore
	Dial       Dialer
	Display    Display
	Metrics    *metrics.Collector
	Logger     *slog.Logger

	Period    time.Duration
	Tolerance float64
	Tracking  bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the rotor controller. All operator calls and ticks serialise on
// one mutex; a tick that finds it held is dropped.
type Engine struct {
	mu sync.Mutex

	prop    Propagator
	rotors  RotorStore
	dial    Dialer
	display Display
	metrics *metrics.Collector
	log     *slog.Logger
	now     func() time.Time

	sched *schedule.Schedule
	st    State
	rotor *rotor.Config
	dev   Device

	manAz, manEl float64
	cmdAz, cmdEl float64

	corrPass *predict.Pass
	corr     geometry.Corrector

	periodCh chan time.Duration
}

// New returns a disengaged engine with no rotor selected.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Period <= 0 {
		opts.Period = MinPeriod
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 5
	}
	if opts.Display == nil {
		opts.Display = DisplayFunc(func(Frame) {})
	}
	return &Engine{
		prop:    opts.Propagator,
		rotors:  opts.Rotors,
		dial:    opts.Dial,
		display: opts.Display,
		metrics: opts.Metrics,
		log:     opts.Logger.With("component", "control"),
		now:     opts.Now,
		sched:   schedule.New(opts.Propagator, opts.Logger),
		st: State{
			Tracking:  opts.Tracking,
			Tolerance: opts.Tolerance,
			Period:    opts.Period,
		},
		manAz:    parkAz,
		manEl:    parkEl,
		periodCh: make(chan time.Duration, 1),
	}
}

// Run ticks every period until ctx is cancelled, then disengages. Each tick
// runs on its own goroutine so an overrunning tick shows up as a missed
// deadline on the next one.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	period := e.st.Period
	e.mu.Unlock()

	t := time.NewTicker(period)
	defer t.Stop()
	e.log.Info("control loop started", "period", period)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.mu.Lock()
			e.disengage("shutdown")
			e.mu.Unlock()
			return nil
		case p := <-e.periodCh:
			t.Reset(p)
			e.log.Info("control period changed", "period", p)
		case <-t.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.Tick(ctx)
			}()
		}
	}
}

// Tick runs one control cycle. It returns false when the previous cycle was
// still running and this one was skipped.
func (e *Engine) Tick(ctx context.Context) bool {
	if !e.mu.TryLock() {
		e.log.Error("missed the deadline")
		e.metrics.MissedDeadline()
		return false
	}
	defer e.mu.Unlock()

	start := time.Now()
	errored := e.tick(ctx, e.now())
	e.metrics.ObserveTick(time.Since(start), errored, e.st.ErrCount)
	return true
}

func (e *Engine) tick(ctx context.Context, now time.Time) (errored bool) {
	fr := Frame{Time: now, Tracking: e.st.Tracking}

	e.sched.Reselect(now)
	snap, snapErr := e.sched.Refresh(now, e.st.Period)
	id, hasTarget := e.sched.Targeting()
	if snapErr != nil && !errors.Is(snapErr, schedule.ErrNoTarget) {
		e.log.Warn("target prediction failed", "norad_id", id, "err", snapErr)
	}
	targetUp := hasTarget && snapErr == nil && snap.El > 0
	pass := e.sched.Pass()
	corr := e.corrector(pass)

	fr.NoradID, fr.HasTarget = id, hasTarget
	if hasTarget && snapErr == nil {
		fr.TargetAz, fr.TargetEl = snap.Az, snap.El
		fr.AOS, fr.LOS = snap.AOS, snap.LOS
		at, label := snap.LOS, "LOS"
		if snap.El < 0 {
			at, label = snap.AOS, "AOS"
		}
		if at.IsZero() {
			fr.Countdown = "--:--"
		} else {
			fr.Countdown, fr.CountdownEvent = FormatCountdown(at.Sub(now)), label
		}
	}

	setAz, setEl := e.manAz, e.manEl
	if e.st.Tracking && hasTarget {
		setAz, setEl = parkAz, parkEl
		switch {
		case snapErr != nil:
		case snap.El >= 0:
			setAz, setEl = snap.Az, snap.El
		case pass != nil && now.Before(pass.AOS):
			setAz, setEl = pass.AOSAz, 0
		case pass != nil && now.After(pass.LOS):
			setAz, setEl = pass.LOSAz, 0
		}
		setAz, setEl = corr.Apply(setAz, setEl)
		e.manAz, e.manEl = setAz, setEl
	}
	e.st.SetAz, e.st.SetEl = setAz, setEl
	e.st.Flip = corr.Flipped
	fr.SetAz, fr.SetEl, fr.Flipped = setAz, setEl, corr.Flipped

	if e.st.Engaged && e.dev != nil && e.rotor != nil {
		errored = e.drive(ctx, now, id, targetUp, pass, corr, &fr)
		e.account()
		if !errored {
			e.st.ErrCount = 0
		} else {
			e.st.ErrCount++
			if e.st.ErrCount >= MaxErrorCount {
				e.log.Error("max error count reached, disengaging device", "max", MaxErrorCount)
				e.metrics.ForcedDisengage()
				e.disengage("error count")
				e.st.ErrCount = 0
			}
		}
	}

	fr.Engaged = e.st.Engaged
	fr.CmdAz, fr.CmdEl = e.cmdAz, e.cmdEl
	fr.ErrCount = e.st.ErrCount
	if e.rotor != nil {
		fr.Rotor = e.rotor.Name
	}
	e.st.Last = fr
	e.display.Publish(fr)
	return errored
}

// drive reads the rotor back and commands it when out of tolerance. It
// reports whether a transport failure happened.
func (e *Engine) drive(ctx context.Context, now time.Time, id int, targetUp bool, pass *predict.Pass, corr geometry.Corrector, fr *Frame) bool {
	setAz, setEl := e.st.SetAz, e.st.SetEl

	readAz, readEl, err := e.dev.GetPosition(ctx)
	if err != nil {
		fr.ReadErr = "ERROR"
		e.st.ReadAz, e.st.ReadEl = 0, 0
		if e.softError(err) {
			return false
		}
		e.log.Error("rotor read failed", "err", err)
		return true
	}
	fr.ReadAz, fr.ReadEl, fr.ReadOK = readAz, readEl, true
	e.st.ReadAz, e.st.ReadEl = readAz, readEl

	tol := e.st.Tolerance
	if math.Abs(setAz-readAz) <= tol && math.Abs(setEl-readEl) <= tol {
		return false
	}

	if e.st.Tracking && targetUp {
		res, err := lead.Solve(func(t time.Time) (float64, float64, error) {
			return e.prop.Position(id, t)
		}, lead.Request{
			Now:       now,
			Tolerance: tol,
			Pass:      pass,
			SetAz:     setAz,
			SetEl:     setEl,
			Period:    e.st.Period,
			Correct:   corr.Apply,
		})
		if err != nil {
			e.log.Warn("lead solve failed", "norad_id", id, "err", err)
		} else {
			setAz, setEl = res.Az, res.El
			fr.Lead = res.Lead.Seconds()
			e.metrics.ObserveLead(res.Lead)
		}
	}

	cmdAz := AntiWindup(setAz, readAz)
	if err := e.dev.SetPosition(ctx, cmdAz, setEl); err != nil {
		if e.softError(err) {
			return false
		}
		e.log.Error("rotor command failed", "az", cmdAz, "el", setEl, "err", err)
		return true
	}
	e.cmdAz, e.cmdEl = cmdAz, setEl
	e.st.SetAz, e.st.SetEl = setAz, setEl
	fr.SetAz, fr.SetEl = setAz, setEl
	return false
}

// AntiWindup limits a command that would swing the azimuth half a turn or
// more to a quarter turn from the read-back position.
func AntiWindup(setAz, readAz float64) float64 {
	delta := setAz - readAz
	switch {
	case delta >= 180:
		return readAz - 90
	case delta <= -180:
		return readAz + 90
	default:
		return setAz
	}
}

func (e *Engine) softError(err error) bool {
	if !rotctld.IsSoft(err) {
		return false
	}
	code := -1
	var re *rotctld.ReplyError
	if errors.As(err, &re) {
		code = re.Code
	}
	e.metrics.SoftReply(code)
	return true
}

// account folds the device's operation counters into the state and metrics.
func (e *Engine) account() {
	if e.dev == nil {
		return
	}
	w, r := e.dev.Writes(), e.dev.Reads()
	e.metrics.AddOps(w-e.st.Writes, r-e.st.Reads)
	e.st.Writes, e.st.Reads = w, r
}

func (e *Engine) corrector(pass *predict.Pass) geometry.Corrector {
	if e.rotor == nil {
		return geometry.Corrector{}
	}
	if pass != e.corrPass || e.corr.Rotor != *e.rotor {
		e.corrPass = pass
		e.corr = geometry.NewCorrector(pass, *e.rotor)
		if e.corr.Flipped {
			e.log.Info("flipped pass", "aos", pass.AOS, "los", pass.LOS)
		}
	}
	return e.corr
}

// Engage opens the rotctld connection for the selected rotor and resets the
// error counter and operation counters.
func (e *Engine) Engage(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Engaged {
		return nil
	}
	if e.rotor == nil {
		return ErrNoRotor
	}
	if e.dial == nil {
		return errors.New("no dialer configured")
	}
	dev, err := e.dial(ctx, *e.rotor)
	if err != nil {
		return fmt.Errorf("engage %s: %w", e.rotor.Name, err)
	}
	e.dev = dev
	e.st.Engaged = true
	e.st.ErrCount = 0
	e.st.Writes, e.st.Reads = 0, 0
	e.metrics.SetEngaged(true)
	e.log.Info("engaged", "rotor", e.rotor.Name, "addr", e.rotor.Addr())
	return nil
}

// Disengage closes the connection.
func (e *Engine) Disengage() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.Engaged {
		return ErrNotEngaged
	}
	e.disengage("operator")
	return nil
}

func (e *Engine) disengage(reason string) {
	if e.dev != nil {
		if err := e.dev.Close(); err != nil {
			e.log.Warn("closing rotor connection", "err", err)
		}
		e.dev = nil
	}
	if e.st.Engaged {
		e.log.Info("disengaged", "reason", reason, "writes", e.st.Writes, "reads", e.st.Reads)
	}
	e.st.Engaged = false
	e.metrics.SetEngaged(false)
}

// SetTracking switches between following the target and the manual
// setpoint.
func (e *Engine) SetTracking(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Tracking = on
}

// SetTolerance sets the per-axis tolerance in degrees.
func (e *Engine) SetTolerance(deg float64) error {
	if deg < MinTolerance || deg > MaxTolerance {
		return fmt.Errorf("tolerance %.2f: %w [%.2f, %.0f]", deg, ErrOutOfRange, MinTolerance, MaxTolerance)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Tolerance = deg
	return nil
}

// SetPeriod changes the control period and resets the ticker.
func (e *Engine) SetPeriod(d time.Duration) error {
	if d < MinPeriod || d > MaxPeriod {
		return fmt.Errorf("period %v: %w [%v, %v]", d, ErrOutOfRange, MinPeriod, MaxPeriod)
	}
	e.mu.Lock()
	e.st.Period = d
	e.mu.Unlock()

	// Keep only the latest pending change.
	select {
	case <-e.periodCh:
	default:
	}
	e.periodCh <- d
	return nil
}

// SelectRotor loads a rotor descriptor by name. On failure no rotor is
// selected and Engage is refused until a later selection succeeds.
func (e *Engine) SelectRotor(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Engaged {
		return ErrEngaged
	}
	if e.rotors == nil {
		e.rotor = nil
		return ErrNoRotor
	}
	rc, err := e.rotors.Load(name)
	if err != nil {
		e.rotor = nil
		e.st.Rotor = ""
		e.log.Error("rotor configuration load failed", "rotor", name, "err", err)
		return err
	}
	e.rotor = &rc
	e.st.Rotor = rc.Name
	e.manAz, e.manEl = e.clampToRotor(e.manAz, e.manEl)
	e.log.Info("rotor selected", "rotor", rc.Name, "addr", rc.Addr(), "az_type", rc.AzType)
	return nil
}

// SetManual sets the setpoint used while tracking is off. Values are
// clamped to the selected rotor's range.
func (e *Engine) SetManual(az, el float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manAz, e.manEl = e.clampToRotor(az, el)
}

func (e *Engine) clampToRotor(az, el float64) (float64, float64) {
	if e.rotor == nil {
		return az, el
	}
	r := e.rotor
	return math.Max(r.MinAz, math.Min(r.MaxAz, az)), math.Max(r.MinEl, math.Min(r.MaxEl, el))
}

// Enqueue appends a satellite to the tracking queue.
func (e *Engine) Enqueue(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if _, err := e.prop.Predict(id, now); err != nil {
		return err
	}
	if _, ok := e.sched.SlotOf(id); ok {
		return ErrAlreadyQueued
	}
	e.sched.Enqueue(id, now)
	return nil
}

// Dequeue removes a satellite from the tracking queue.
func (e *Engine) Dequeue(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sched.SlotOf(id); !ok {
		return ErrNotQueued
	}
	e.sched.Dequeue(id, e.now())
	return nil
}

// SetMinContact sets the shortest pass, in seconds, worth switching to.
func (e *Engine) SetMinContact(id int, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("min contact %.0f: %w", seconds, ErrOutOfRange)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.SetMinContact(id, seconds, e.now())
	return nil
}

// State returns a copy of the control state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st
	st.NoradID, st.HasTarget = e.sched.Targeting()
	st.Queue = e.sched.Queue()
	st.Pass = e.sched.Pass()
	st.MinContact = make(map[int]float64, len(st.Queue))
	for _, id := range st.Queue {
		st.MinContact[id] = e.sched.MinContact(id)
	}
	return st
}

// Rotor returns the selected rotor descriptor.
func (e *Engine) Rotor() (rotor.Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rotor == nil {
		return rotor.Config{}, false
	}
	return *e.rotor, true
}
