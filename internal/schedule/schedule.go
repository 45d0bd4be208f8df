// Package schedule decides which queued satellite the rotor follows.
//
// Satellites are queued in operator priority order. Every control tick the
// head of the queue is the default target; a later candidate takes over when
// its whole pass (longer than its minimum contact time) ends before the
// running choice rises. The scan is greedy and single-pass: it is not an
// optimal interval schedule and is not meant to be one.
package schedule

import (
	"errors"
	"log/slog"
	"time"

	"github.com/large-farva/rotortrack/internal/predict"
)

const (
	// passHorizon bounds the search for a next pass.
	passHorizon = 72 * time.Hour
	// stationMoveKm is how far the station may drift before the active pass
	// is recomputed for the new position.
	stationMoveKm = 1.0
)

// ErrNoTarget is returned by Refresh when nothing is queued.
var ErrNoTarget = errors.New("no target selected")

// Propagator is the subset of orbit prediction the schedule needs.
type Propagator interface {
	Predict(id int, t time.Time) (predict.Snapshot, error)
	CurrentPass(id int, t time.Time) (*predict.Pass, error)
	NextPass(id int, t time.Time, horizon time.Duration) (*predict.Pass, error)
	Station() predict.Location
}

// Schedule is the ordered candidate queue plus the current choice of target
// and its active pass. It is not safe for concurrent use; the control engine
// serialises access.
type Schedule struct {
	prop Propagator
	log  *slog.Logger

	queue      []int
	slot       map[int]int
	minContact map[int]float64

	target    int
	hasTarget bool
	pass      *predict.Pass
}

// New returns an empty schedule.
func New(prop Propagator, logger *slog.Logger) *Schedule {
	if logger == nil {
		logger = slog.Default()
	}
	return &Schedule{
		prop:       prop,
		log:        logger.With("component", "schedule"),
		slot:       make(map[int]int),
		minContact: make(map[int]float64),
	}
}

// Enqueue appends id to the queue. The first queued satellite becomes the
// target. Queuing an id twice is logged and ignored.
func (s *Schedule) Enqueue(id int, now time.Time) {
	if _, ok := s.slot[id]; ok {
		s.log.Warn("satellite already queued", "norad_id", id)
		return
	}
	s.slot[id] = len(s.queue)
	s.queue = append(s.queue, id)
	if len(s.queue) == 1 {
		s.retarget(id, now)
	}
}

// Dequeue removes id and compacts the queue. Removing an unqueued id is
// logged and ignored. An emptied queue clears the target; otherwise slot 0
// becomes the target.
func (s *Schedule) Dequeue(id int, now time.Time) {
	i, ok := s.slot[id]
	if !ok {
		s.log.Error("dequeue of unqueued satellite", "norad_id", id)
		return
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	delete(s.slot, id)
	for j := i; j < len(s.queue); j++ {
		s.slot[s.queue[j]] = j
	}

	if len(s.queue) == 0 {
		s.target, s.hasTarget, s.pass = 0, false, nil
		return
	}
	s.retarget(s.queue[0], now)
}

// SetMinContact sets the shortest pass worth switching to for id, then
// re-runs selection.
func (s *Schedule) SetMinContact(id int, seconds float64, now time.Time) {
	s.minContact[id] = seconds
	s.Reselect(now)
}

// MinContact returns the minimum contact time for id in seconds.
func (s *Schedule) MinContact(id int) float64 {
	return s.minContact[id]
}

// Reselect scans the queue and picks the target for now. The active pass is
// recomputed only when the choice changes. It reports whether it did.
func (s *Schedule) Reselect(now time.Time) bool {
	if len(s.queue) == 0 {
		return false
	}

	chosen := s.queue[0]
	var aosOld time.Time
	if snap, err := s.prop.Predict(chosen, now); err != nil {
		s.log.Warn("predict failed for queue head", "norad_id", chosen, "err", err)
	} else {
		aosOld = snap.AOS
	}

	for _, id := range s.queue[1:] {
		snap, err := s.prop.Predict(id, now)
		if err != nil {
			s.log.Debug("predict failed for candidate", "norad_id", id, "err", err)
			continue
		}
		if snap.AOS.IsZero() || snap.LOS.IsZero() {
			continue
		}
		dt := snap.LOS.Sub(snap.AOS).Seconds()
		if dt > s.minContact[id] && aosOld.After(snap.LOS) {
			chosen = id
			aosOld = snap.AOS
		}
	}

	if s.hasTarget && chosen == s.target {
		return false
	}
	s.retarget(chosen, now)
	return true
}

// Refresh keeps the active pass current for the target and returns the
// target's snapshot at now. period is the control period; a target rise
// more than a quarter period after the active pass's rise means a new pass.
func (s *Schedule) Refresh(now time.Time, period time.Duration) (predict.Snapshot, error) {
	if !s.hasTarget {
		return predict.Snapshot{}, ErrNoTarget
	}
	snap, err := s.prop.Predict(s.target, now)
	if err != nil {
		return predict.Snapshot{}, err
	}

	if s.pass != nil && predict.Distance(s.prop.Station(), s.pass.Station) > stationMoveKm {
		s.log.Info("station moved, recomputing pass", "norad_id", s.target)
		s.pass = s.next(now)
	}

	switch {
	case s.pass == nil:
		if snap.El > 0 {
			s.pass = s.current(now)
		} else {
			s.pass = s.next(now)
		}
	case !s.pass.Contains(now):
		if snap.El >= 0 {
			s.log.Info("target up outside predicted pass", "norad_id", s.target)
			s.pass = s.current(now)
		} else if snap.AOS.Sub(s.pass.AOS) > period/4 {
			s.pass = s.next(now)
		}
	case snap.El < 0:
		s.pass = s.next(now)
	}
	return snap, nil
}

// Targeting returns the targeted id, if any.
func (s *Schedule) Targeting() (int, bool) {
	return s.target, s.hasTarget
}

// Pass returns the active pass of the target, or nil. The pointer is
// replaced, never mutated, when the pass changes.
func (s *Schedule) Pass() *predict.Pass {
	return s.pass
}

// Queue returns a copy of the queued ids in priority order.
func (s *Schedule) Queue() []int {
	return append([]int(nil), s.queue...)
}

// SlotOf returns the queue slot of id.
func (s *Schedule) SlotOf(id int) (int, bool) {
	i, ok := s.slot[id]
	return i, ok
}

// Len returns the number of queued satellites.
func (s *Schedule) Len() int { return len(s.queue) }

func (s *Schedule) retarget(id int, now time.Time) {
	s.target, s.hasTarget = id, true
	snap, err := s.prop.Predict(id, now)
	if err == nil && snap.El > 0 {
		s.pass = s.current(now)
	} else {
		s.pass = s.next(now)
	}
	s.log.Info("targeting", "norad_id", id)
}

func (s *Schedule) current(now time.Time) *predict.Pass {
	p, err := s.prop.CurrentPass(s.target, now)
	if err != nil {
		s.log.Warn("current pass unavailable", "norad_id", s.target, "err", err)
		return nil
	}
	return p
}

func (s *Schedule) next(now time.Time) *predict.Pass {
	p, err := s.prop.NextPass(s.target, now, passHorizon)
	if err != nil {
		s.log.Warn("next pass unavailable", "norad_id", s.target, "err", err)
		return nil
	}
	return p
}
