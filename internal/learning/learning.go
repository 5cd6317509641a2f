// Package learning maintains per-zone heating duration samples and predicts
// how long a zone needs to reach a target. The fit is an ordinary
// least-squares plane over (temperature deficit, outdoor temperature),
// computed as a pure function of the sample slice so tests never need a
// clock.
package learning

import (
	"math"
	"time"

	"github.com/heatctl/heatctl/internal/model"
)

type Model struct {
	minSamples int
	maxSamples int
	maxAge     time.Duration
	samples    map[string][]model.LearningSample
}

type Stats struct {
	ZoneID      string        `json:"zone_id"`
	SampleCount int           `json:"sample_count"`
	Ready       bool          `json:"ready"`
	MeanPerDeg  time.Duration `json:"mean_per_degree"`
}

func New(minSamples, maxSamples int, maxAge time.Duration) *Model {
	return &Model{
		minSamples: minSamples,
		maxSamples: maxSamples,
		maxAge:     maxAge,
		samples:    make(map[string][]model.LearningSample),
	}
}

// Record appends a completed heating run and prunes retention bounds.
func (m *Model) Record(zoneID string, s model.LearningSample) {
	list := append(m.samples[zoneID], s)

	cutoff := s.RecordedAt.Add(-m.maxAge)
	kept := list[:0]
	for _, old := range list {
		if old.RecordedAt.After(cutoff) {
			kept = append(kept, old)
		}
	}
	if len(kept) > m.maxSamples {
		kept = kept[len(kept)-m.maxSamples:]
	}
	m.samples[zoneID] = kept
}

// Predict estimates the duration to heat the zone from current to target at
// the given outdoor temperature. The second return is false when too few
// samples exist or the fit degenerates; callers must treat that as "do not
// guess".
func (m *Model) Predict(zoneID string, current, target, outdoor float64) (time.Duration, bool) {
	list := m.samples[zoneID]
	if len(list) < m.minSamples {
		return 0, false
	}
	a, b, c, ok := fit(list)
	if !ok {
		return 0, false
	}

	deficit := target - current
	if deficit <= 0 {
		return 0, true
	}
	minutes := a*deficit + b*outdoor + c
	if minutes <= 0 || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, false
	}
	return time.Duration(minutes * float64(time.Minute)), true
}

// Samples returns the retained samples for a zone.
func (m *Model) Samples(zoneID string) []model.LearningSample {
	return m.samples[zoneID]
}

// Restore replaces the in-memory samples, used when loading persisted state.
func (m *Model) Restore(all map[string][]model.LearningSample) {
	if all == nil {
		return
	}
	m.samples = all
}

// Snapshot returns the full sample map for persistence.
func (m *Model) Snapshot() map[string][]model.LearningSample {
	return m.samples
}

// DropZone removes a deleted zone's samples.
func (m *Model) DropZone(zoneID string) {
	delete(m.samples, zoneID)
}

// ZoneStats summarizes the model for the API.
func (m *Model) ZoneStats(zoneID string) Stats {
	list := m.samples[zoneID]
	st := Stats{
		ZoneID:      zoneID,
		SampleCount: len(list),
		Ready:       len(list) >= m.minSamples,
	}
	var totalMinutes, totalDeficit float64
	for _, s := range list {
		totalMinutes += s.Duration.Minutes()
		totalDeficit += s.TargetTemp - s.StartTemp
	}
	if totalDeficit > 0 {
		st.MeanPerDeg = time.Duration(totalMinutes / totalDeficit * float64(time.Minute))
	}
	return st
}

// fit solves the normal equations for minutes = a*deficit + b*outdoor + c.
func fit(list []model.LearningSample) (a, b, c float64, ok bool) {
	var n, sx, sy, sxx, syy, sxy, sz, sxz, syz float64
	for _, s := range list {
		x := s.TargetTemp - s.StartTemp
		y := s.OutdoorTemp
		z := s.Duration.Minutes()
		n++
		sx += x
		sy += y
		sxx += x * x
		syy += y * y
		sxy += x * y
		sz += z
		sxz += x * z
		syz += y * z
	}

	// 3x3 system via Cramer's rule:
	// | sxx sxy sx | |a|   | sxz |
	// | sxy syy sy | |b| = | syz |
	// | sx  sy  n  | |c|   | sz  |
	det := sxx*(syy*n-sy*sy) - sxy*(sxy*n-sy*sx) + sx*(sxy*sy-syy*sx)
	if math.Abs(det) < 1e-9 {
		// Degenerate spread, fall back to a single-variable fit on deficit.
		det1 := sxx*n - sx*sx
		if math.Abs(det1) < 1e-9 {
			return 0, 0, 0, false
		}
		a = (sxz*n - sx*sz) / det1
		c = (sxx*sz - sx*sxz) / det1
		return a, 0, c, true
	}

	a = (sxz*(syy*n-sy*sy) - sxy*(syz*n-sy*sz) + sx*(syz*sy-syy*sz)) / det
	b = (sxx*(syz*n-sy*sz) - sxz*(sxy*n-sy*sx) + sx*(sxy*sz-syz*sx)) / det
	c = (sxx*(syy*sz-syz*sy) - sxy*(sxy*sz-syz*sx) + sxz*(sxy*sy-syy*sx)) / det
	return a, b, c, true
}
