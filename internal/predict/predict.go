// Package predict turns a TLE catalog and a ground station into the pointing
// data the tracking engine consumes: instantaneous look angles, the rise and
// set of the pass a satellite is in (or will be in next), and a sampled pass
// timeline used for flip classification.
//
// Look angles come from go-satellite. Pass windows are found with a coarse
// forward scan followed by bisection on the elevation crossing, and cached
// per satellite so a control tick does not rescan the orbit.
package predict

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/akhenakh/sgp4"
	lru "github.com/hashicorp/golang-lru/v2"
	satellite "github.com/joshuaferrara/go-satellite"
)

var (
	// ErrUnknownSatellite is returned for a NORAD id missing from the catalog.
	ErrUnknownSatellite = errors.New("satellite not in catalog")
	// ErrNoPass is returned when the satellite never rises inside the
	// search horizon.
	ErrNoPass = errors.New("no pass within search horizon")
)

const (
	// coarseStep is the scan step used to bracket a horizon crossing.
	coarseStep = 60 * time.Second
	// lookBack bounds the backward search for the rise of a pass in progress.
	lookBack = 24 * time.Hour
	// DefaultHorizon is how far ahead a next pass is searched.
	DefaultHorizon = 72 * time.Hour
	// passSamples is the number of timeline points between rise and set.
	passSamples = 60
)

// Sample is one time-stamped point of a pass timeline.
type Sample struct {
	Time time.Time `json:"time"`
	Az   float64   `json:"az"`
	El   float64   `json:"el"`
}

// Pass is a single visibility window from rise (AOS) to set (LOS) together
// with the station it was computed for.
type Pass struct {
	NoradID   int       `json:"norad_id"`
	AOS       time.Time `json:"aos"`
	LOS       time.Time `json:"los"`
	AOSAz     float64   `json:"aos_az"`
	LOSAz     float64   `json:"los_az"`
	MaxEl     float64   `json:"max_el"`
	MaxElTime time.Time `json:"max_el_time"`
	Samples   []Sample  `json:"samples"`
	Station   Location  `json:"station"`
}

// Contains reports whether t falls inside the pass window.
func (p *Pass) Contains(t time.Time) bool {
	return !t.Before(p.AOS) && !t.After(p.LOS)
}

// Snapshot is the state of a satellite at one instant. When the satellite is
// up, AOS/LOS bound the pass in progress; otherwise they bound the next pass.
// Both are zero when no pass exists within the search horizon.
type Snapshot struct {
	Az  float64   `json:"az"`
	El  float64   `json:"el"`
	AOS time.Time `json:"aos"`
	LOS time.Time `json:"los"`
}

// window is a cached rise/set pair computed at From for Station. None marks
// a negative result, kept until LOS so the horizon is not rescanned each tick.
type window struct {
	From    time.Time
	AOS     time.Time
	LOS     time.Time
	Station Location
	None    bool
}

func (w window) validAt(t time.Time, station Location) bool {
	return w.Station == station && !t.Before(w.From) && !t.After(w.LOS)
}

// Predictor resolves look angles and pass windows for catalog satellites
// seen from the current station. It is safe for concurrent use.
type Predictor struct {
	mu       sync.RWMutex
	elements map[int]*Element
	station  Location

	windows *lru.Cache[int, window]
	log     *slog.Logger
}

// NewPredictor creates a predictor with an empty catalog.
func NewPredictor(station Location, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	windows, err := lru.New[int, window](256)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Predictor{
		elements: make(map[int]*Element),
		station:  station,
		windows:  windows,
		log:      logger.With("component", "predict"),
	}
}

// SetCatalog replaces the satellite catalog and drops cached pass windows.
func (p *Predictor) SetCatalog(c Catalog) {
	p.mu.Lock()
	p.elements = make(map[int]*Element, len(c))
	for id, e := range c {
		p.elements[id] = e
	}
	p.mu.Unlock()
	p.windows.Purge()
	p.log.Info("catalog loaded", "satellites", len(c))
}

// Catalog returns a copy of the loaded catalog.
func (p *Predictor) Catalog() Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := make(Catalog, len(p.elements))
	for id, e := range p.elements {
		c[id] = e
	}
	return c
}

// SetStation moves the ground station. Cached windows for the old station
// are no longer valid and are discarded lazily.
func (p *Predictor) SetStation(loc Location) {
	p.mu.Lock()
	old := p.station
	p.station = loc
	p.mu.Unlock()
	if old != loc {
		p.log.Info("station updated", "lat", loc.Lat, "lon", loc.Lon, "alt", loc.Alt)
	}
}

// Station returns the current ground station.
func (p *Predictor) Station() Location {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.station
}

func (p *Predictor) element(id int) (*Element, Location, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.elements[id]
	if !ok {
		return nil, p.station, fmt.Errorf("norad %d: %w", id, ErrUnknownSatellite)
	}
	return e, p.station, nil
}

// Position returns the azimuth and elevation in degrees of satellite id at t.
func (p *Predictor) Position(id int, t time.Time) (az, el float64, err error) {
	e, loc, err := p.element(id)
	if err != nil {
		return 0, 0, err
	}
	return e.lookAt(t, loc)
}

// Predict returns the snapshot of satellite id at t.
func (p *Predictor) Predict(id int, t time.Time) (Snapshot, error) {
	e, loc, err := p.element(id)
	if err != nil {
		return Snapshot{}, err
	}
	az, el, err := e.lookAt(t, loc)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Az: az, El: el}

	w, err := p.window(id, e, loc, t)
	switch {
	case errors.Is(err, ErrNoPass):
		return snap, nil
	case err != nil:
		return Snapshot{}, err
	}
	snap.AOS, snap.LOS = w.AOS, w.LOS
	return snap, nil
}

func (p *Predictor) window(id int, e *Element, loc Location, t time.Time) (window, error) {
	if w, ok := p.windows.Get(id); ok && w.validAt(t, loc) {
		if w.None {
			return window{}, ErrNoPass
		}
		return w, nil
	}
	aos, los, err := e.findWindow(t, loc, DefaultHorizon)
	if errors.Is(err, ErrNoPass) {
		p.windows.Add(id, window{From: t, LOS: t.Add(10 * time.Minute), Station: loc, None: true})
		return window{}, err
	}
	if err != nil {
		return window{}, err
	}
	w := window{From: t, AOS: aos, LOS: los, Station: loc}
	p.windows.Add(id, w)
	return w, nil
}

// CurrentPass returns the pass in progress at t. When the satellite is below
// the horizon it returns the next pass instead.
func (p *Predictor) CurrentPass(id int, t time.Time) (*Pass, error) {
	e, loc, err := p.element(id)
	if err != nil {
		return nil, err
	}
	aos, los, err := e.findWindow(t, loc, DefaultHorizon)
	if err != nil {
		return nil, fmt.Errorf("norad %d: %w", id, err)
	}
	return e.samplePass(aos, los, loc)
}

// NextPass returns the first pass rising after t, searching at most horizon
// ahead. A pass in progress at t is skipped.
func (p *Predictor) NextPass(id int, t time.Time, horizon time.Duration) (*Pass, error) {
	e, loc, err := p.element(id)
	if err != nil {
		return nil, err
	}
	end := t.Add(horizon)
	aos, los, err := e.findWindow(t, loc, horizon)
	if err == nil && !aos.After(t) {
		from := los.Add(coarseStep)
		if !from.Before(end) {
			err = ErrNoPass
		} else {
			aos, los, err = e.findWindow(from, loc, end.Sub(from))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("norad %d: %w", id, err)
	}
	return e.samplePass(aos, los, loc)
}

// Element is one catalog satellite: the raw TLE lines plus the initialised
// SGP4 record.
type Element struct {
	Name    string `json:"name"`
	NoradID int    `json:"norad_id"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`

	sat satellite.Satellite
	tle *sgp4.TLE
}

// NewElement initialises an SGP4 record from TLE lines. The lines must have
// been validated already; go-satellite does not return parse errors.
func NewElement(name string, id int, line1, line2 string) (*Element, error) {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init for norad %d: code=%d %s", id, sat.Error, sat.ErrorStr)
	}
	return &Element{Name: name, NoradID: id, Line1: line1, Line2: line2, sat: sat}, nil
}

// lookAt interpolates between whole-second propagations, which is the
// resolution go-satellite accepts.
func (e *Element) lookAt(t time.Time, loc Location) (az, el float64, err error) {
	t = t.UTC()
	base := t.Truncate(time.Second)
	az0, el0, err := e.lookAtSecond(base, loc)
	if err != nil {
		return 0, 0, err
	}
	frac := t.Sub(base).Seconds()
	if frac == 0 {
		return az0, el0, nil
	}
	az1, el1, err := e.lookAtSecond(base.Add(time.Second), loc)
	if err != nil {
		return 0, 0, err
	}
	daz := az1 - az0
	if daz > 180 {
		daz -= 360
	} else if daz < -180 {
		daz += 360
	}
	az = math.Mod(az0+daz*frac+360, 360)
	el = el0 + (el1-el0)*frac
	return az, el, nil
}

func (e *Element) lookAtSecond(t time.Time, loc Location) (az, el float64, err error) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(e.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return 0, 0, fmt.Errorf("sgp4 propagation failed for norad %d at %s", e.NoradID, t.Format(time.RFC3339))
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	obs := satellite.LatLong{
		Latitude:  loc.Lat * math.Pi / 180,
		Longitude: loc.Lon * math.Pi / 180,
	}
	look := satellite.ECIToLookAngles(pos, obs, loc.Alt/1000, jd)
	return look.Az * 180 / math.Pi, look.El * 180 / math.Pi, nil
}

func (e *Element) elevation(t time.Time, loc Location) float64 {
	_, el, err := e.lookAt(t, loc)
	if err != nil {
		return math.Inf(-1)
	}
	return el
}

// findWindow returns the rise and set bounding the first pass that has not
// ended by t. A satellite that never sets inside the horizon gets the
// horizon edge as its LOS.
func (e *Element) findWindow(t time.Time, loc Location, horizon time.Duration) (aos, los time.Time, err error) {
	end := t.Add(horizon)

	if e.elevation(t, loc) >= 0 {
		aos = t.Add(-lookBack)
		for s := t.Add(-coarseStep); !s.Before(t.Add(-lookBack)); s = s.Add(-coarseStep) {
			if e.elevation(s, loc) < 0 {
				aos = e.crossing(s, s.Add(coarseStep), loc, true)
				break
			}
		}
	} else {
		found := false
		for s := t; s.Before(end); s = s.Add(coarseStep) {
			next := s.Add(coarseStep)
			if e.elevation(next, loc) >= 0 {
				aos = e.crossing(s, next, loc, true)
				found = true
				break
			}
		}
		if !found {
			return time.Time{}, time.Time{}, ErrNoPass
		}
	}

	los = end
	for s := maxTime(aos, t); s.Before(end); s = s.Add(coarseStep) {
		next := s.Add(coarseStep)
		if e.elevation(next, loc) < 0 {
			los = e.crossing(s, next, loc, false)
			break
		}
	}
	return aos, los, nil
}

// crossing bisects [t1, t2] for the instant elevation crosses zero.
func (e *Element) crossing(t1, t2 time.Time, loc Location, rising bool) time.Time {
	for i := 0; i < 40 && t2.Sub(t1) > 100*time.Millisecond; i++ {
		mid := t1.Add(t2.Sub(t1) / 2)
		up := e.elevation(mid, loc) >= 0
		if up == rising {
			t2 = mid
		} else {
			t1 = mid
		}
	}
	return t1.Add(t2.Sub(t1) / 2)
}

func (e *Element) samplePass(aos, los time.Time, loc Location) (*Pass, error) {
	pass := &Pass{
		NoradID: e.NoradID,
		AOS:     aos,
		LOS:     los,
		MaxEl:   math.Inf(-1),
		Station: loc,
		Samples: make([]Sample, 0, passSamples+1),
	}
	step := los.Sub(aos) / passSamples
	if step < time.Second {
		step = time.Second
	}
	for t := aos; !t.After(los); t = t.Add(step) {
		az, el, err := e.lookAt(t, loc)
		if err != nil {
			return nil, err
		}
		pass.Samples = append(pass.Samples, Sample{Time: t, Az: az, El: el})
		if el > pass.MaxEl {
			pass.MaxEl, pass.MaxElTime = el, t
		}
	}

	var err error
	if pass.AOSAz, _, err = e.lookAt(aos, loc); err != nil {
		return nil, err
	}
	if pass.LOSAz, _, err = e.lookAt(los, loc); err != nil {
		return nil, err
	}
	return pass, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
