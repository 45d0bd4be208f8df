package ctl

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// capture redirects command output for the duration of a test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := out
	out = &buf
	t.Cleanup(func() { out = old })
	return &buf
}

type request struct {
	method, path, query string
	body                map[string]any
}

// daemon serves canned replies and records requests.
func daemon(t *testing.T, replies map[string]string, status int) (*httptest.Server, func() []request) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &req.body)
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		reply, ok := replies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), seen...)
	}
}

func TestControlRequests(t *testing.T) {
	capture(t)
	ok := `{"ok":true,"message":"done"}`
	srv, seen := daemon(t, map[string]string{
		"/api/engage":      ok,
		"/api/tracking":    ok,
		"/api/queue":       ok,
		"/api/queue/25544": ok,
		"/api/setpoint":    ok,
	}, http.StatusOK)

	steps := []func() error{
		func() error { return Engage(srv.URL, false) },
		func() error { return Tracking(srv.URL, false, false) },
		func() error { return Enqueue(srv.URL, 25544, false) },
		func() error { return Dequeue(srv.URL, 25544, false) },
		func() error { return Setpoint(srv.URL, 90, 30, false) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := []request{
		{method: http.MethodPost, path: "/api/engage"},
		{method: http.MethodPost, path: "/api/tracking", body: map[string]any{"enabled": false}},
		{method: http.MethodPost, path: "/api/queue", body: map[string]any{"norad_id": float64(25544)}},
		{method: http.MethodDelete, path: "/api/queue/25544"},
		{method: http.MethodPost, path: "/api/setpoint", body: map[string]any{"az": float64(90), "el": float64(30)}},
	}
	reqs := seen()
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d", len(reqs), len(want))
	}
	for i, got := range reqs {
		w := want[i]
		if got.method != w.method || got.path != w.path {
			t.Errorf("request %d = %s %s, want %s %s", i, got.method, got.path, w.method, w.path)
		}
		for k, v := range w.body {
			if got.body[k] != v {
				t.Errorf("request %d body[%s] = %v, want %v", i, k, got.body[k], v)
			}
		}
	}
}

func TestControlReportsDaemonError(t *testing.T) {
	capture(t)
	srv, _ := daemon(t, map[string]string{
		"/api/engage": `{"ok":false,"error":"no rotor selected"}`,
	}, http.StatusConflict)

	err := Engage(srv.URL, false)
	if err == nil || !strings.Contains(err.Error(), "no rotor selected") {
		t.Errorf("Engage error = %v, want daemon message", err)
	}
}

func TestStatus(t *testing.T) {
	buf := capture(t)
	srv, _ := daemon(t, map[string]string{"/api/status": `{
		"name": "rotortrack",
		"state": "TRACKING",
		"uptime_seconds": 3725,
		"control": {
			"tracking": true, "engaged": true, "tolerance": 5, "period": 1000000000,
			"rotor": "g5500", "norad_id": 25544, "has_target": true, "queue": [25544, 43017],
			"writes": 12, "reads": 30,
			"last_frame": {"time": "2026-03-01T12:00:00Z", "set_az": 350, "set_el": 20,
				"read_ok": true, "read_az": 349.5, "read_el": 19.8,
				"countdown": "09:00", "countdown_event": "LOS"}
		},
		"station": {"lat": 46.8, "lon": -71.2, "alt": 100}
	}`}, http.StatusOK)

	if err := Status(srv.URL, false); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"TRACKING", "1h 2m 5s", "g5500", "NORAD 25544", "[25544, 43017]", "LOS in:", "09:00", "12 writes, 30 reads"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
}

func TestPassesQuery(t *testing.T) {
	buf := capture(t)
	srv, seen := daemon(t, map[string]string{"/api/passes": `{
		"passes": [{"satellite": "ISS (ZARYA)", "norad_id": 25544,
			"aos": "2026-03-01T12:00:00Z", "los": "2026-03-01T12:10:00Z",
			"aos_azimuth": 220, "los_azimuth": 45, "max_elev": 62.5, "duration_s": 600}],
		"station": {"lat": 46.8, "lon": -71.2, "alt": 100}
	}`}, http.StatusOK)

	err := Passes(srv.URL, PassesOptions{Count: 3, NoradIDs: []int{25544, 43017}, Hours: 12})
	if err != nil {
		t.Fatal(err)
	}
	if q := seen()[0].query; q != "count=3&hours=12&norad_id=25544%2C43017" {
		t.Errorf("query = %q", q)
	}
	for _, want := range []string{"ISS (ZARYA)", "62.5°", "10m 0s"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("passes output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestRenderEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   string
		want []string
	}{
		{
			name: "rotor",
			ev: `{"type":"rotor","ts":"2026-03-01T12:00:00Z","engaged":true,"tracking":true,"has_target":true,
				"norad_id":25544,"set_az":-10,"set_el":20,"read_ok":false,"read_err":"rotctld: empty reply",
				"countdown":"09:00","countdown_event":"LOS","error_count":2,"lead_seconds":4}`,
			want: []string{"ROTOR", "live", "25544", "-10.00°", "rotctld: empty reply", "LOS 09:00", "lead 4s", "errors 2"},
		},
		{
			name: "idle rotor",
			ev:   `{"type":"rotor","ts":"2026-03-01T12:00:00Z","tracking":false,"set_az":90,"set_el":30}`,
			want: []string{"idle", "manual", "90.00°"},
		},
		{
			name: "state",
			ev:   `{"type":"state","ts":"2026-03-01T12:00:00Z","from":"IDLE","to":"ENGAGED"}`,
			want: []string{"STATE", "IDLE -> ENGAGED"},
		},
		{
			name: "queue",
			ev:   `{"type":"queue","ts":"2026-03-01T12:00:00Z","queue":[25544,43017]}`,
			want: []string{"QUEUE", "[25544, 43017]"},
		},
		{
			name: "log",
			ev:   `{"type":"log","ts":"2026-03-01T12:00:00Z","level":"error","component":"scheduler","message":"TLE refresh failed"}`,
			want: []string{"ERROR", "[scheduler]", "TLE refresh failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			renderEvent([]byte(tt.ev))
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		base, want string
		wantErr    bool
	}{
		{base: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws"},
		{base: "https://station.local/", want: "wss://station.local/ws"},
		{base: "http://host:8080/api?x=1", want: "ws://host:8080/ws"},
		{base: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		got, err := wsURL(tt.base)
		if (err != nil) != tt.wantErr {
			t.Errorf("wsURL(%q) error = %v, wantErr %v", tt.base, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestEventType(t *testing.T) {
	if got := eventType([]byte(`{"type":"rotor","set_az":1}`)); got != "rotor" {
		t.Errorf("eventType = %q, want rotor", got)
	}
	if got := eventType([]byte(`not json`)); got != "" {
		t.Errorf("eventType on garbage = %q, want empty", got)
	}
}

func TestSkewed(t *testing.T) {
	tests := []struct {
		cli, daemon string
		want        bool
	}{
		{"dev", "v0.3.0", false},
		{"v0.3.0", "dev", false},
		{"v0.3.0", "0.3.0", false},
		{"v0.3.0", "v0.4.0", true},
	}
	for _, tt := range tests {
		if got := skewed(tt.cli, tt.daemon); got != tt.want {
			t.Errorf("skewed(%q, %q) = %v, want %v", tt.cli, tt.daemon, got, tt.want)
		}
	}
}
