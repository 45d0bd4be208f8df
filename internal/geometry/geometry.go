// Package geometry maps satellite look angles onto what a rotor can reach:
// normalising azimuth into the rotor's window, spotting passes whose track
// crosses the wrap boundary, and folding such passes over zenith.
package geometry

import (
	"math"

	"github.com/large-farva/rotortrack/internal/predict"
	"github.com/large-farva/rotortrack/internal/rotor"
)

// Normalize brings az into the half-open window of t by whole turns.
func Normalize(az float64, t rotor.AzType) float64 {
	lo, hi := 0.0, 360.0
	if t == rotor.PlusMinus180 {
		lo, hi = -180, 180
	}
	for az >= hi {
		az -= 360
	}
	for az < lo {
		az += 360
	}
	return az
}

// IsFlipped reports whether following pass would force the rotor across its
// azimuth wrap: some consecutive pair of normalised azimuths along the rise,
// the samples and the set differs by more than 180 degrees.
func IsFlipped(pass *predict.Pass, t rotor.AzType) bool {
	if pass == nil {
		return false
	}
	last := Normalize(pass.AOSAz, t)
	step := func(az float64) bool {
		cur := Normalize(az, t)
		jump := math.Abs(cur-last) > 180
		last = cur
		return jump
	}

	flipped := false
	for _, s := range pass.Samples {
		if step(s.Az) {
			flipped = true
		}
	}
	if step(pass.LOSAz) {
		flipped = true
	}
	return flipped
}

// ApplyFlip points at the same sky position from the other side of zenith.
func ApplyFlip(az, el float64) (float64, float64) {
	el = 180 - el
	if az <= 180 {
		az += 180
	} else {
		az -= 180
	}
	return az, el
}

// Wrap maps az into the range the rotor addresses. Only PlusMinus180 rotors
// need it.
func Wrap(az float64, t rotor.AzType) float64 {
	if t == rotor.PlusMinus180 && az > 180 {
		return az - 360
	}
	return az
}

// Corrector applies the flip and wrap corrections for one rotor and pass.
type Corrector struct {
	Flipped bool
	Rotor   rotor.Config
}

// NewCorrector classifies pass for r.
func NewCorrector(pass *predict.Pass, r rotor.Config) Corrector {
	return Corrector{Flipped: IsFlipped(pass, r.AzType), Rotor: r}
}

// Apply returns the rotor coordinates for a sky position.
func (c Corrector) Apply(az, el float64) (float64, float64) {
	if c.Flipped && c.Rotor.CanInvert() {
		az, el = ApplyFlip(az, el)
	}
	return Wrap(az, c.Rotor.AzType), el
}
