package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.ObserveTick(10*time.Millisecond, false, 0)
	c.ObserveTick(20*time.Millisecond, true, 1)
	c.MissedDeadline()
	c.ForcedDisengage()
	c.AddOps(3, 2)
	c.SoftReply(1)
	c.SoftReply(1)
	c.SetEngaged(true)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"ticks", testutil.ToFloat64(c.Ticks), 2},
		{"errored", testutil.ToFloat64(c.ErroredTicks), 1},
		{"missed", testutil.ToFloat64(c.MissedDeadlines), 1},
		{"disengages", testutil.ToFloat64(c.Disengages), 1},
		{"writes", testutil.ToFloat64(c.RotctldOps.WithLabelValues("write")), 3},
		{"reads", testutil.ToFloat64(c.RotctldOps.WithLabelValues("read")), 2},
		{"soft", testutil.ToFloat64(c.SoftReplies.WithLabelValues("1")), 2},
		{"engaged", testutil.ToFloat64(c.Engaged), 1},
		{"errcount", testutil.ToFloat64(c.ErrorCount), 1},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestRegisterTwiceReuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.MissedDeadline()
	if got := testutil.ToFloat64(b.MissedDeadlines); got != 1 {
		t.Errorf("shared counter = %v, want 1", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveTick(time.Second, true, 3)
	c.MissedDeadline()
	c.SetEngaged(true)
	c.AddOps(1, 1)
	c.SoftReply(-1)
	c.ObserveLead(time.Second)
	c.ForcedDisengage()
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveLead(5 * time.Second)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, name := range []string{"rotor_lead_seconds_count 1", "rotor_ticks_total 0"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
