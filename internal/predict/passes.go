package predict

import (
	"fmt"
	"sort"
	"time"
)

// PassSummary is one row of the operator pass listing.
type PassSummary struct {
	Name        string        `json:"name"`
	NoradID     int           `json:"norad_id"`
	AOS         time.Time     `json:"aos"`
	LOS         time.Time     `json:"los"`
	AOSAzimuth  float64       `json:"aos_azimuth"`
	LOSAzimuth  float64       `json:"los_azimuth"`
	MaxElev     float64       `json:"max_elev"`
	MaxElevTime time.Time     `json:"max_elev_time"`
	Duration    time.Duration `json:"duration"`
}

// ListPasses computes the passes of the given satellites over the current
// station between start and start+lookahead, dropping those that peak below
// minElev. Results are sorted by AOS.
func (p *Predictor) ListPasses(ids []int, start time.Time, lookahead time.Duration, minElev float64) ([]PassSummary, error) {
	loc := p.Station()
	end := start.Add(lookahead)

	var out []PassSummary
	for _, id := range ids {
		e, _, err := p.element(id)
		if err != nil {
			p.log.Warn("pass listing skipped", "norad_id", id, "err", err)
			continue
		}
		if e.tle == nil {
			continue
		}

		raw, err := e.tle.GeneratePasses(loc.Lat, loc.Lon, loc.Alt, start, end, 10)
		if err != nil {
			return nil, fmt.Errorf("passes for norad %d: %w", id, err)
		}
		for _, rp := range raw {
			if rp.MaxElevation < minElev {
				continue
			}
			out = append(out, PassSummary{
				Name:        e.Name,
				NoradID:     id,
				AOS:         rp.AOS,
				LOS:         rp.LOS,
				AOSAzimuth:  rp.AOSAzimuth,
				LOSAzimuth:  rp.LOSAzimuth,
				MaxElev:     rp.MaxElevation,
				MaxElevTime: rp.MaxElevationTime,
				Duration:    rp.Duration,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AOS.Before(out[j].AOS) })
	return out, nil
}
