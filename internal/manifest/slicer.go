package manifest

import (
	"fmt"
	"sort"

	"github.com/vodgrab/vodgrab/internal/utils"
)

// Slice maps a requested time window onto an inclusive segment index range
// [lo, hi]. Boundary segments are included whole: a segment belongs to the
// range if any portion of it overlaps the window, so each edge may carry up
// to one extra segment duration of content.
func Slice(m *Manifest, r *utils.TimeRange) (lo, hi int, err error) {
	last := len(m.Segments) - 1
	if last < 0 {
		return 0, 0, fmt.Errorf("%w: manifest has no segments", utils.ErrRangeInvalid)
	}
	if r == nil {
		return 0, last, nil
	}
	if r.Start >= r.End {
		return 0, 0, fmt.Errorf("%w: start %.2fs is not before end %.2fs", utils.ErrRangeInvalid, r.Start, r.End)
	}
	if r.Start < 0 {
		return 0, 0, fmt.Errorf("%w: negative start %.2fs", utils.ErrRangeInvalid, r.Start)
	}
	if m.TotalDuration > 0 && r.Start >= m.TotalDuration {
		return 0, 0, fmt.Errorf("%w: start %.2fs is beyond stream duration %.2fs", utils.ErrRangeInvalid, r.Start, m.TotalDuration)
	}
	if r.Total > 0 {
		if err := crossCheckTotal(m, r.Total); err != nil {
			return 0, 0, err
		}
	}

	lo, hi = -1, -1
	var cumStart float64
	for i, seg := range m.Segments {
		cumEnd := cumStart + seg.Duration
		if lo < 0 && cumEnd > r.Start {
			lo = i
		}
		if cumStart < r.End {
			hi = i
		}
		cumStart = cumEnd
	}
	if lo < 0 || hi < 0 || lo > hi {
		return 0, 0, fmt.Errorf("%w: window [%.2fs, %.2fs) selects no segments", utils.ErrRangeInvalid, r.Start, r.End)
	}
	return lo, hi, nil
}

// crossCheckTotal verifies the asserted full duration roughly matches what
// the manifest declares. Tolerance is one median segment duration or 5% of
// the manifest total, whichever is larger; the check guards against slicing
// the wrong video, it is never the slicing basis.
func crossCheckTotal(m *Manifest, total float64) error {
	tolerance := medianDuration(m)
	if fivePct := m.TotalDuration * 0.05; fivePct > tolerance {
		tolerance = fivePct
	}
	diff := total - m.TotalDuration
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("%w: asserted total %.2fs disagrees with manifest total %.2fs (tolerance %.2fs)",
			utils.ErrRangeInvalid, total, m.TotalDuration, tolerance)
	}
	return nil
}

func medianDuration(m *Manifest) float64 {
	durations := make([]float64, len(m.Segments))
	for i, seg := range m.Segments {
		durations[i] = seg.Duration
	}
	sort.Float64s(durations)
	return durations[len(durations)/2]
}
