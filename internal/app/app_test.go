package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/large-farva/rotortrack/internal/config"
	"github.com/large-farva/rotortrack/internal/demo"
	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotor"
)

const issTLE = `ISS (ZARYA)
1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994
2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533`

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	// Close to the element set epoch so propagation stays meaningful.
	epoch = time.Date(2025, 5, 18, 12, 0, 0, 0, time.UTC)
)

type staticCatalogs struct{}

func (staticCatalogs) Fetch(context.Context) (predict.Catalog, error) {
	return predict.ParseCatalog(issTLE)
}

func (staticCatalogs) ForceRefresh(context.Context) (predict.Catalog, error) {
	return predict.ParseCatalog(issTLE)
}

// simulator starts an in-process rotctld and returns its port.
func simulator(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := demo.NewServer(demo.NewRotator(rotor.Full360, 180, 90), quiet)
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	port := simulator(t)

	rotDir := t.TempDir()
	desc := fmt.Sprintf("host = \"127.0.0.1\"\nport = %d\naz_type = \"360\"\nmax_el = 180\n", port)
	if err := os.WriteFile(filepath.Join(rotDir, "g5500.rot"), []byte(desc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.TLE.CacheDir = t.TempDir()
	cfg.Rotors.Dir = rotDir
	cfg.Station.Latitude, cfg.Station.Longitude = 46.829853, -71.254028
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(Options{
		Logger:   quiet,
		Cfg:      cfg,
		Registry: prometheus.NewRegistry(),
		Catalogs: staticCatalogs{},
		Now:      func() time.Time { return epoch },
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func loadCatalog(t *testing.T, a *App) {
	t.Helper()
	c, err := predict.ParseCatalog(issTLE)
	if err != nil {
		t.Fatal(err)
	}
	a.pred.SetCatalog(c)
}

type response struct {
	code int
	body map[string]any
	raw  string
}

func do(t *testing.T, h http.Handler, method, path, body string) response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := response{code: rec.Code, raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res.body); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, res.raw, err)
		}
	}
	return res
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t, nil)
	res := do(t, a.Router(), http.MethodGet, "/healthz", "")
	if res.code != http.StatusOK || res.raw != "ok\n" {
		t.Errorf("healthz = %d %q", res.code, res.raw)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("detailed health with no catalog or rotor = %d, want 503", rec.Code)
	}
}

func TestEngageLifecycle(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.Router()

	if res := do(t, h, http.MethodPost, "/api/engage", ""); res.code != http.StatusConflict {
		t.Fatalf("engage without rotor = %d, want 409", res.code)
	}
	if res := do(t, h, http.MethodPost, "/api/rotor", `{"name":"missing"}`); res.code != http.StatusNotFound {
		t.Errorf("unknown rotor = %d, want 404", res.code)
	}
	if res := do(t, h, http.MethodPost, "/api/rotor", `{"name":"g5500"}`); res.code != http.StatusOK {
		t.Fatalf("select rotor = %d %v", res.code, res.body)
	}
	if res := do(t, h, http.MethodPost, "/api/engage", ""); res.code != http.StatusOK {
		t.Fatalf("engage = %d %v", res.code, res.body)
	}

	res := do(t, h, http.MethodGet, "/api/status", "")
	if got := res.body["state"]; got != StateEngaged {
		t.Errorf("state = %v, want %s", got, StateEngaged)
	}
	if res := do(t, h, http.MethodPost, "/api/rotor", `{"name":"g5500"}`); res.code != http.StatusConflict {
		t.Errorf("rotor change while engaged = %d, want 409", res.code)
	}

	// One tick against the simulator: a clean read-back and a command.
	if !a.engine.Tick(context.Background()) {
		t.Fatal("tick skipped")
	}
	st := a.engine.State()
	if !st.Last.ReadOK || st.ErrCount != 0 {
		t.Errorf("tick frame = %+v", st.Last)
	}

	if res := do(t, h, http.MethodPost, "/api/disengage", ""); res.code != http.StatusOK {
		t.Fatalf("disengage = %d", res.code)
	}
	if res := do(t, h, http.MethodPost, "/api/disengage", ""); res.code != http.StatusConflict {
		t.Errorf("second disengage = %d, want 409", res.code)
	}
	if got := a.state.Load(); got != StateIdle {
		t.Errorf("state = %v, want %s", got, StateIdle)
	}
}

func TestQueueRoutes(t *testing.T) {
	a := newTestApp(t, nil)
	loadCatalog(t, a)
	h := a.Router()

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/queue", `{"norad_id":25544}`, http.StatusOK},
		{http.MethodPost, "/api/queue", `{"norad_id":25544}`, http.StatusConflict},
		{http.MethodPost, "/api/queue", `{"norad_id":1}`, http.StatusNotFound},
		{http.MethodPost, "/api/queue", `{norad_id}`, http.StatusBadRequest},
		{http.MethodPost, "/api/min-contact", `{"norad_id":25544,"seconds":120}`, http.StatusOK},
		{http.MethodPost, "/api/min-contact", `{"norad_id":25544,"seconds":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if res := do(t, h, tt.method, tt.path, tt.body); res.code != tt.want {
			t.Errorf("%s %s %s = %d, want %d (%v)", tt.method, tt.path, tt.body, res.code, tt.want, res.body)
		}
	}

	res := do(t, h, http.MethodGet, "/api/satellites", "")
	want := []any{map[string]any{
		"name":                "ISS (ZARYA)",
		"norad_id":            float64(25544),
		"queued":              true,
		"slot":                float64(1),
		"min_contact_seconds": float64(120),
	}}
	if diff := cmp.Diff(res.body["satellites"], want); diff != "" {
		t.Errorf("satellites got(-)/want(+)\n%s", diff)
	}

	if res := do(t, h, http.MethodDelete, "/api/queue/25544", ""); res.code != http.StatusOK {
		t.Errorf("dequeue = %d", res.code)
	}
	if res := do(t, h, http.MethodDelete, "/api/queue/25544", ""); res.code != http.StatusNotFound {
		t.Errorf("second dequeue = %d, want 404", res.code)
	}
	if res := do(t, h, http.MethodDelete, "/api/queue/iss", ""); res.code != http.StatusNotFound {
		t.Errorf("non-numeric dequeue = %d, want 404", res.code)
	}
}

func TestSettingsRoutes(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.Router()

	tests := []struct {
		path, body string
		want       int
	}{
		{"/api/tolerance", `{"degrees":0}`, http.StatusBadRequest},
		{"/api/tolerance", `{"degrees":2.5}`, http.StatusOK},
		{"/api/period", `{"milliseconds":500}`, http.StatusBadRequest},
		{"/api/period", `{"milliseconds":2000}`, http.StatusOK},
		{"/api/tracking", `{"enabled":false}`, http.StatusOK},
		{"/api/setpoint", `{"az":90,"el":30}`, http.StatusOK},
	}
	for _, tt := range tests {
		if res := do(t, h, http.MethodPost, tt.path, tt.body); res.code != tt.want {
			t.Errorf("POST %s %s = %d, want %d", tt.path, tt.body, res.code, tt.want)
		}
	}

	st := a.engine.State()
	if st.Tolerance != 2.5 || st.Period != 2*time.Second || st.Tracking {
		t.Errorf("state = tolerance %v period %v tracking %v", st.Tolerance, st.Period, st.Tracking)
	}

	if res := do(t, h, http.MethodGet, "/api/engage", ""); res.code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/engage = %d, want 405", res.code)
	}
}

func TestRunnerRoutes(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Satellites = []config.SatelliteConfig{{NoradID: 25544, Queued: true, MinContactSeconds: 60}}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.runner.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	h := a.Router()

	res := do(t, h, http.MethodPost, "/api/tle-refresh", "")
	if res.code != http.StatusOK || res.body["satellites_updated"] != float64(1) {
		t.Fatalf("tle-refresh = %d %v", res.code, res.body)
	}

	// The first load queued the configured satellite.
	st := a.engine.State()
	if diff := cmp.Diff(st.Queue, []int{25544}); diff != "" {
		t.Errorf("queue got(-)/want(+)\n%s", diff)
	}
	if st.MinContact[25544] != 60 {
		t.Errorf("min contact = %v, want 60", st.MinContact[25544])
	}

	if res := do(t, h, http.MethodPost, "/api/station", `{"lat":42.36,"lon":-71.09,"alt":20}`); res.code != http.StatusOK {
		t.Errorf("station = %d %v", res.code, res.body)
	}
	if got := a.pred.Station(); got.Lat != 42.36 {
		t.Errorf("station = %+v", got)
	}
	if res := do(t, h, http.MethodPost, "/api/station", `{"lat":100}`); res.code != http.StatusInternalServerError {
		t.Errorf("bad station = %d, want 500", res.code)
	}

	res = do(t, h, http.MethodGet, "/api/passes?hours=24&count=2", "")
	if res.code != http.StatusOK {
		t.Fatalf("passes = %d %v", res.code, res.body)
	}
	passes, _ := res.body["passes"].([]any)
	if len(passes) == 0 || len(passes) > 2 {
		t.Errorf("got %d passes, want 1 or 2", len(passes))
	}
}

func TestMetricsRoute(t *testing.T) {
	a := newTestApp(t, nil)
	res := do(t, a.Router(), http.MethodGet, "/metrics", "")
	if res.code != http.StatusOK || !strings.Contains(res.raw, "rotor_ticks_total") {
		t.Errorf("metrics = %d, missing rotor_ticks_total", res.code)
	}
}

func TestDemoRotor(t *testing.T) {
	rc, err := demoDescriptor(config.DemoConfig{Bind: "0.0.0.0:4533", AzType: "180", MaxEl: 90})
	if err != nil {
		t.Fatal(err)
	}
	want := rotor.Config{Name: DemoRotor, Host: "127.0.0.1", Port: 4533, AzType: rotor.PlusMinus180, MinAz: -180, MaxAz: 180, MaxEl: 90}
	if diff := cmp.Diff(rc, want); diff != "" {
		t.Errorf("descriptor got(-)/want(+)\n%s", diff)
	}

	if _, err := demoDescriptor(config.DemoConfig{Bind: "nope", AzType: "360", MaxEl: 90}); err == nil {
		t.Error("bad bind accepted")
	}

	a := newTestApp(t, func(c *config.Config) {
		c.Demo.Enabled = true
		c.Demo.Bind = "127.0.0.1:45330"
	})
	if rc, ok := a.engine.Rotor(); !ok || rc.Name != DemoRotor {
		t.Errorf("demo rotor not selected: %+v", rc)
	}
	names, err := a.rotors.List()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(names, []string{DemoRotor, "g5500"}); diff != "" {
		t.Errorf("rotors got(-)/want(+)\n%s", diff)
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		engaged, tracking, target bool
		want                      string
	}{
		{false, true, true, StateIdle},
		{true, false, true, StateEngaged},
		{true, true, false, StateEngaged},
		{true, true, true, StateTracking},
	}
	for _, tt := range tests {
		if got := stateOf(tt.engaged, tt.tracking, tt.target); got != tt.want {
			t.Errorf("stateOf(%v, %v, %v) = %s, want %s", tt.engaged, tt.tracking, tt.target, got, tt.want)
		}
	}
}
