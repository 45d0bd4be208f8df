// Package lead finds how far ahead of a moving target to aim a rotor so that
// it arrives in step with the satellite instead of always trailing it.
package lead

import (
	"errors"
	"math"
	"time"

	"github.com/large-farva/rotortrack/internal/predict"
)

// defaultHorizon is searched when no pass bounds the lead.
const defaultHorizon = 20 * time.Minute

// PositionFunc returns the sky position of the target at t in degrees.
type PositionFunc func(t time.Time) (az, el float64, err error)

// Request is the input to Solve.
type Request struct {
	Now       time.Time
	Tolerance float64       // degrees, per axis
	Pass      *predict.Pass // bounds the search at LOS when set
	SetAz     float64       // current setpoint in rotor coordinates
	SetEl     float64
	Period    time.Duration // command period
	// Correct maps sky coordinates to rotor coordinates (flip and wrap).
	// Nil leaves them unchanged.
	Correct func(az, el float64) (float64, float64)
}

// Result is the aiming point chosen by Solve.
type Result struct {
	Lead time.Duration
	Az   float64
	El   float64
}

// Solve bisects for the furthest time ahead at which the corrected target
// is still above the horizon and within tolerance of the setpoint. The step
// starts at half the horizon (never below one period) and halves until it
// drops under a quarter period. The result never leads by less than zero or
// by more than the horizon; with no acceptable point it aims at now.
func Solve(pos PositionFunc, req Request) (Result, error) {
	if pos == nil {
		return Result{}, errors.New("lead: nil position func")
	}
	if req.Period <= 0 {
		return Result{}, errors.New("lead: period must be positive")
	}
	correct := req.Correct
	if correct == nil {
		correct = func(az, el float64) (float64, float64) { return az, el }
	}

	horizon := defaultHorizon
	if req.Pass != nil {
		horizon = req.Pass.LOS.Sub(req.Now)
	}
	if horizon < 0 {
		horizon = 0
	}

	dt := horizon
	step := horizon / 2
	if step < req.Period {
		step = req.Period
	}

	var (
		best  Result
		found bool
	)
	for step > req.Period/4 {
		dt = clamp(dt, 0, horizon)
		az, el, err := pos(req.Now.Add(dt))
		if err != nil {
			return Result{}, err
		}
		az, el = correct(az, el)

		if el < 0 || el > 180 ||
			math.Abs(req.SetAz-az) > req.Tolerance ||
			math.Abs(req.SetEl-el) > req.Tolerance {
			dt -= step
		} else {
			best, found = Result{Lead: dt, Az: az, El: el}, true
			dt += step
		}
		step /= 2
	}

	if !found {
		az, el, err := pos(req.Now)
		if err != nil {
			return Result{}, err
		}
		az, el = correct(az, el)
		best = Result{Az: az, El: el}
	}
	best.El = math.Max(0, math.Min(180, best.El))
	return best, nil
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
