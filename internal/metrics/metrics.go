// Package metrics exposes control loop counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the control loop metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks           prometheus.Counter
	MissedDeadlines prometheus.Counter
	ErroredTicks    prometheus.Counter
	Disengages      prometheus.Counter
	RotctldOps      *prometheus.CounterVec
	SoftReplies     *prometheus.CounterVec
	LeadSeconds     prometheus.Histogram
	TickDuration    prometheus.Histogram
	Engaged         prometheus.Gauge
	ErrorCount      prometheus.Gauge
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}

	var err error
	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Ticks, "rotor_ticks_total", "Control ticks run to completion."},
		{&c.MissedDeadlines, "rotor_missed_deadlines_total", "Ticks skipped because the previous tick was still running."},
		{&c.ErroredTicks, "rotor_errored_ticks_total", "Ticks with a rotctld transport failure."},
		{&c.Disengages, "rotor_forced_disengages_total", "Disengages forced by consecutive errored ticks."},
	}
	for _, ct := range counters {
		*ct.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name)
		if err != nil {
			return nil, err
		}
	}

	c.RotctldOps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotctld_ops_total",
		Help: "Completed rotctld writes and reads.",
	}, []string{"op"}), "rotctld_ops_total")
	if err != nil {
		return nil, err
	}
	c.SoftReplies, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotctld_soft_errors_total",
		Help: "Non-zero RPRT replies and unparsable replies, by code.",
	}, []string{"code"}), "rotctld_soft_errors_total")
	if err != nil {
		return nil, err
	}

	c.LeadSeconds, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rotor_lead_seconds",
		Help:    "Lead time chosen when the rotor was out of tolerance.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	}), "rotor_lead_seconds")
	if err != nil {
		return nil, err
	}
	c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rotor_tick_duration_seconds",
		Help:    "Wall time of one control tick.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "rotor_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.Engaged, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_engaged",
		Help: "1 while the rotor is engaged.",
	}), "rotor_engaged")
	if err != nil {
		return nil, err
	}
	c.ErrorCount, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotor_consecutive_errors",
		Help: "Consecutive errored ticks since the last clean one.",
	}), "rotor_consecutive_errors")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one completed tick.
func (c *Collector) ObserveTick(d time.Duration, errored bool, errCount int) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	if errored {
		c.ErroredTicks.Inc()
	}
	c.ErrorCount.Set(float64(errCount))
}

// MissedDeadline records a tick dropped because the loop was busy.
func (c *Collector) MissedDeadline() {
	if c == nil {
		return
	}
	c.MissedDeadlines.Inc()
}

// ForcedDisengage records a fail-safe disengage.
func (c *Collector) ForcedDisengage() {
	if c == nil {
		return
	}
	c.Disengages.Inc()
}

// SetEngaged mirrors the engaged flag.
func (c *Collector) SetEngaged(on bool) {
	if c == nil {
		return
	}
	if on {
		c.Engaged.Set(1)
	} else {
		c.Engaged.Set(0)
	}
}

// AddOps adds completed rotctld writes and reads.
func (c *Collector) AddOps(writes, reads int64) {
	if c == nil {
		return
	}
	if writes > 0 {
		c.RotctldOps.WithLabelValues("write").Add(float64(writes))
	}
	if reads > 0 {
		c.RotctldOps.WithLabelValues("read").Add(float64(reads))
	}
}

// SoftReply records a soft rotctld error; code is the RPRT value or -1 for
// an unparsable reply.
func (c *Collector) SoftReply(code int) {
	if c == nil {
		return
	}
	c.SoftReplies.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveLead records a chosen lead time.
func (c *Collector) ObserveLead(d time.Duration) {
	if c == nil {
		return
	}
	c.LeadSeconds.Observe(d.Seconds())
}

// register adds col to reg, reusing an already registered collector of the
// same type.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
