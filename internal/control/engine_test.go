package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/large-farva/rotortrack/internal/metrics"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotctld"
	"github.com/large-farva/rotortrack/internal/rotor"
)

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeProp struct {
	snaps map[int]predict.Snapshot
	pass  *predict.Pass
	// pos overrides Position; nil returns the snapshot position.
	pos func(t time.Time) (float64, float64)
}

func (f *fakeProp) Predict(id int, _ time.Time) (predict.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return predict.Snapshot{}, predict.ErrUnknownSatellite
	}
	return s, nil
}

func (f *fakeProp) CurrentPass(int, time.Time) (*predict.Pass, error) { return f.pass, nil }

func (f *fakeProp) NextPass(int, time.Time, time.Duration) (*predict.Pass, error) {
	if f.pass == nil {
		return nil, predict.ErrNoPass
	}
	return f.pass, nil
}

func (f *fakeProp) Station() predict.Location { return predict.Location{} }

func (f *fakeProp) Position(id int, t time.Time) (float64, float64, error) {
	if f.pos != nil {
		az, el := f.pos(t)
		return az, el, nil
	}
	s, err := f.Predict(id, t)
	return s.Az, s.El, err
}

type fakeRotors map[string]rotor.Config

func (f fakeRotors) Load(name string) (rotor.Config, error) {
	rc, ok := f[name]
	if !ok {
		return rotor.Config{}, fmt.Errorf("%s: %w", name, rotor.ErrNotFound)
	}
	rc.Name = name
	return rc, nil
}

type fakeDev struct {
	az, el         float64
	getErr, setErr error
	sets           [][2]float64
	closed         int
	writes, reads  int64
}

func (d *fakeDev) GetPosition(context.Context) (float64, float64, error) {
	d.writes++
	if d.getErr != nil {
		return 0, 0, d.getErr
	}
	d.reads++
	return d.az, d.el, nil
}

func (d *fakeDev) SetPosition(_ context.Context, az, el float64) error {
	d.writes++
	if d.setErr != nil {
		return d.setErr
	}
	d.reads++
	d.sets = append(d.sets, [2]float64{az, el})
	return nil
}

func (d *fakeDev) Close() error  { d.closed++; return nil }
func (d *fakeDev) Writes() int64 { return d.writes }
func (d *fakeDev) Reads() int64  { return d.reads }

var rotors = fakeRotors{
	"g5500": {Host: "localhost", Port: 4533, AzType: rotor.Full360, MaxAz: 360, MaxEl: 90},
	"az180": {Host: "localhost", Port: 4533, AzType: rotor.PlusMinus180, MinAz: -180, MaxAz: 180, MaxEl: 90},
}

type harness struct {
	e     *Engine
	prop  *fakeProp
	dev   *fakeDev
	dials int
	m     *metrics.Collector
	last  Frame
}

func newHarness(t *testing.T, tracking bool) *harness {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{prop: &fakeProp{snaps: map[int]predict.Snapshot{}}, dev: &fakeDev{}, m: m}
	h.e = New(Options{
		Propagator: h.prop,
		Rotors:     rotors,
		Dial: func(context.Context, rotor.Config) (Device, error) {
			h.dials++
			return h.dev, nil
		},
		Display:   DisplayFunc(func(f Frame) { h.last = f }),
		Metrics:   m,
		Logger:    quiet,
		Period:    time.Second,
		Tolerance: 5,
		Tracking:  tracking,
		Now:       func() time.Time { return t0 },
	})
	return h
}

func (h *harness) engage(t *testing.T, name string) {
	t.Helper()
	if err := h.e.SelectRotor(name); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Engage(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEngageWithoutRotor(t *testing.T) {
	h := newHarness(t, false)
	if err := h.e.Engage(context.Background()); !errors.Is(err, ErrNoRotor) {
		t.Fatalf("Engage = %v, want ErrNoRotor", err)
	}
	if err := h.e.SelectRotor("missing"); !errors.Is(err, rotor.ErrNotFound) {
		t.Fatalf("SelectRotor = %v, want ErrNotFound", err)
	}
	if err := h.e.Engage(context.Background()); !errors.Is(err, ErrNoRotor) {
		t.Fatalf("Engage after failed load = %v, want ErrNoRotor", err)
	}
	if h.dials != 0 {
		t.Errorf("dialed %d times", h.dials)
	}
	if err := h.e.Disengage(); !errors.Is(err, ErrNotEngaged) {
		t.Errorf("Disengage = %v, want ErrNotEngaged", err)
	}
}

func TestFailSafeDisengage(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.dev.getErr = fmt.Errorf("rotctld read: %w", io.ErrUnexpectedEOF)

	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		h.e.Tick(ctx)
		if i == 1 && h.last.ReadErr == "" {
			t.Errorf("frame should show a read error")
		}
		st := h.e.State()
		switch {
		case i < MaxErrorCount:
			if !st.Engaged || st.ErrCount != i {
				t.Fatalf("tick %d: engaged=%v errcnt=%d", i, st.Engaged, st.ErrCount)
			}
		default:
			if st.Engaged || st.ErrCount != 0 {
				t.Fatalf("tick %d: engaged=%v errcnt=%d, want disengaged and reset", i, st.Engaged, st.ErrCount)
			}
		}
	}
	if h.dev.closed != 1 {
		t.Errorf("device closed %d times, want 1", h.dev.closed)
	}
	if got := testutil.ToFloat64(h.m.Disengages); got != 1 {
		t.Errorf("forced disengages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.m.ErroredTicks); got != MaxErrorCount {
		t.Errorf("errored ticks = %v, want %d", got, MaxErrorCount)
	}
}

func TestSoftErrorsDoNotCount(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.e.SetManual(100, 10)
	h.dev.setErr = &rotctld.ReplyError{Code: 1, Line: "RPRT 1"}

	for range 2 * MaxErrorCount {
		h.e.Tick(context.Background())
	}
	st := h.e.State()
	if !st.Engaged || st.ErrCount != 0 {
		t.Errorf("engaged=%v errcnt=%d after soft errors", st.Engaged, st.ErrCount)
	}
	if got := testutil.ToFloat64(h.m.SoftReplies.WithLabelValues("1")); got != 2*MaxErrorCount {
		t.Errorf("soft replies = %v", got)
	}
}

func TestErrorCountResets(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.dev.getErr = io.EOF
	for range MaxErrorCount - 1 {
		h.e.Tick(context.Background())
	}
	h.dev.getErr = nil
	h.e.Tick(context.Background())
	if st := h.e.State(); st.ErrCount != 0 || !st.Engaged {
		t.Errorf("errcnt=%d engaged=%v after a clean tick", st.ErrCount, st.Engaged)
	}
}

func TestAntiWindup(t *testing.T) {
	tests := []struct{ set, read, want float64 }{
		{200, 10, -80},
		{-170, 20, 110},
		{90, 10, 90},
		{189, 10, 189},
	}
	for _, test := range tests {
		if got := AntiWindup(test.set, test.read); got != test.want {
			t.Errorf("AntiWindup(%v, %v) = %v, want %v", test.set, test.read, got, test.want)
		}
	}
}

func TestTickCommandsAntiWindup(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.e.SetManual(200, 0)
	h.dev.az, h.dev.el = 10, 0

	h.e.Tick(context.Background())
	want := [][2]float64{{-80, 0}}
	if diff := cmp.Diff(h.dev.sets, want); diff != "" {
		t.Errorf("commands got(-)/want(+)\n%s", diff)
	}
	if st := h.e.State(); st.Writes != 2 || st.Reads != 2 {
		t.Errorf("ops = %d/%d, want 2/2", st.Writes, st.Reads)
	}
}

func TestWithinToleranceNoCommand(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.e.SetManual(100, 30)
	h.dev.az, h.dev.el = 103, 27

	h.e.Tick(context.Background())
	if len(h.dev.sets) != 0 {
		t.Errorf("commanded %v while in tolerance", h.dev.sets)
	}
	if !h.last.ReadOK || h.last.ReadAz != 103 {
		t.Errorf("frame read back = %+v", h.last)
	}
}

func TestTrackingWrap(t *testing.T) {
	h := newHarness(t, true)
	h.prop.snaps[25544] = predict.Snapshot{Az: 350, El: 30, AOS: t0.Add(-time.Minute), LOS: t0.Add(9 * time.Minute)}
	h.prop.pass = &predict.Pass{AOS: t0.Add(-time.Minute), LOS: t0.Add(9 * time.Minute), AOSAz: 340, LOSAz: 20}
	if err := h.e.SelectRotor("az180"); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Enqueue(25544); err != nil {
		t.Fatal(err)
	}

	h.e.Tick(context.Background())
	st := h.e.State()
	if st.SetAz != -10 || st.SetEl != 30 {
		t.Errorf("setpoint = (%v, %v), want (-10, 30)", st.SetAz, st.SetEl)
	}
	if h.last.Countdown != "09:00" || h.last.CountdownEvent != "LOS" {
		t.Errorf("countdown = %q %q", h.last.Countdown, h.last.CountdownEvent)
	}
	if st.Engaged {
		t.Errorf("tick must not engage")
	}
}

func TestIdlePointing(t *testing.T) {
	pass := &predict.Pass{AOS: t0.Add(time.Hour), LOS: t0.Add(70 * time.Minute), AOSAz: 120, LOSAz: 250}
	tests := []struct {
		name           string
		snap           predict.Snapshot
		pass           *predict.Pass
		wantAz, wantEl float64
		countdown      string
	}{
		{"before AOS", predict.Snapshot{Az: 80, El: -20, AOS: pass.AOS, LOS: pass.LOS}, pass, 120, 0, "01:00:00"},
		{"no pass", predict.Snapshot{Az: 80, El: -20}, nil, parkAz, parkEl, "--:--"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, true)
			h.prop.snaps[7530] = test.snap
			h.prop.pass = test.pass
			if err := h.e.SelectRotor("g5500"); err != nil {
				t.Fatal(err)
			}
			if err := h.e.Enqueue(7530); err != nil {
				t.Fatal(err)
			}
			h.e.Tick(context.Background())
			if h.last.SetAz != test.wantAz || h.last.SetEl != test.wantEl {
				t.Errorf("setpoint = (%v, %v), want (%v, %v)", h.last.SetAz, h.last.SetEl, test.wantAz, test.wantEl)
			}
			if h.last.Countdown != test.countdown {
				t.Errorf("countdown = %q, want %q", h.last.Countdown, test.countdown)
			}
		})
	}
}

func TestIdlePointingAfterLOS(t *testing.T) {
	h := newHarness(t, true)
	pass := &predict.Pass{AOS: t0.Add(-20 * time.Minute), LOS: t0.Add(-10 * time.Minute), AOSAz: 120, LOSAz: 250}
	h.prop.snaps[7530] = predict.Snapshot{Az: 260, El: -5}
	h.prop.pass = pass
	if err := h.e.SelectRotor("g5500"); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Enqueue(7530); err != nil {
		t.Fatal(err)
	}
	h.e.Tick(context.Background())
	if h.last.SetAz != 250 || h.last.SetEl != 0 {
		t.Errorf("setpoint = (%v, %v), want (250, 0)", h.last.SetAz, h.last.SetEl)
	}
}

func TestTrackingLeadsTarget(t *testing.T) {
	h := newHarness(t, true)
	h.prop.snaps[25544] = predict.Snapshot{Az: 100, El: 30, AOS: t0.Add(-time.Minute), LOS: t0.Add(10 * time.Minute)}
	h.prop.pass = &predict.Pass{AOS: t0.Add(-time.Minute), LOS: t0.Add(10 * time.Minute), AOSAz: 90, LOSAz: 160}
	h.prop.pos = func(t time.Time) (float64, float64) {
		return 100 + 0.1*t.Sub(t0).Seconds(), 30
	}
	h.engage(t, "g5500")
	if err := h.e.Enqueue(25544); err != nil {
		t.Fatal(err)
	}
	h.dev.az, h.dev.el = 100, 60

	h.e.Tick(context.Background())
	if len(h.dev.sets) != 1 {
		t.Fatalf("commands = %v", h.dev.sets)
	}
	cmd := h.dev.sets[0]
	if cmd[0] <= 100 || cmd[0] > 105 || cmd[1] != 30 {
		t.Errorf("command = %v, want az ahead within tolerance", cmd)
	}
	if h.last.Lead <= 0 || h.last.Lead > 50 {
		t.Errorf("lead = %v s", h.last.Lead)
	}
}

func TestBusyTickSkipped(t *testing.T) {
	h := newHarness(t, false)
	h.e.mu.Lock()
	ok := h.e.Tick(context.Background())
	h.e.mu.Unlock()
	if ok {
		t.Fatalf("tick ran while busy")
	}
	if got := testutil.ToFloat64(h.m.MissedDeadlines); got != 1 {
		t.Errorf("missed deadlines = %v, want 1", got)
	}
	if !h.e.Tick(context.Background()) {
		t.Errorf("tick skipped when idle")
	}
}

func TestSettingsValidation(t *testing.T) {
	h := newHarness(t, false)
	if err := h.e.SetTolerance(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetTolerance(0) = %v", err)
	}
	if err := h.e.SetTolerance(2.5); err != nil {
		t.Errorf("SetTolerance(2.5) = %v", err)
	}
	if err := h.e.SetPeriod(500 * time.Millisecond); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetPeriod(500ms) = %v", err)
	}
	if err := h.e.SetPeriod(3 * time.Second); err != nil {
		t.Errorf("SetPeriod(3s) = %v", err)
	}
	if err := h.e.SetPeriod(4 * time.Second); err != nil {
		t.Errorf("SetPeriod(4s) = %v", err)
	}
	if p := <-h.e.periodCh; p != 4*time.Second {
		t.Errorf("pending period = %v, want latest", p)
	}
	st := h.e.State()
	if st.Tolerance != 2.5 || st.Period != 4*time.Second {
		t.Errorf("state = %+v", st)
	}
}

func TestQueueOperations(t *testing.T) {
	h := newHarness(t, true)
	h.prop.snaps[1] = predict.Snapshot{El: -10}
	h.prop.snaps[2] = predict.Snapshot{El: -10}

	if err := h.e.Enqueue(99); !errors.Is(err, predict.ErrUnknownSatellite) {
		t.Errorf("Enqueue(99) = %v", err)
	}
	for _, id := range []int{1, 2} {
		if err := h.e.Enqueue(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.e.Enqueue(1); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("duplicate Enqueue = %v", err)
	}
	if err := h.e.SetMinContact(2, 300); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Dequeue(1); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Dequeue(1); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second Dequeue = %v", err)
	}
	st := h.e.State()
	want := State{Queue: []int{2}, NoradID: 2, HasTarget: true, MinContact: map[int]float64{2: 300}}
	got := State{Queue: st.Queue, NoradID: st.NoradID, HasTarget: st.HasTarget, MinContact: st.MinContact}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("state got(-)/want(+)\n%s", diff)
	}
}

func TestRunStopsAndDisengages(t *testing.T) {
	h := newHarness(t, false)
	h.engage(t, "g5500")
	h.dev.az, h.dev.el = 0, 45

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.e.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if h.e.State().Engaged || h.dev.closed != 1 {
		t.Errorf("engine not disengaged on shutdown")
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-5 * time.Second, "00:00"},
		{59 * time.Second, "00:59"},
		{61*time.Minute + 5*time.Second, "01:01:05"},
		{25*time.Hour + 1500*time.Millisecond, "25:00:01"},
	}
	for _, test := range tests {
		if got := FormatCountdown(test.d); got != test.want {
			t.Errorf("FormatCountdown(%v) = %q, want %q", test.d, got, test.want)
		}
	}
}
