package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgrab/vodgrab/internal/utils"
)

func uniformManifest(n int, duration float64) *Manifest {
	m := &Manifest{}
	for i := range n {
		m.Segments = append(m.Segments, SegmentRef{
			Index:    i,
			Duration: duration,
			URL:      fmt.Sprintf("https://host/seg_%03d.ts", i),
		})
		m.TotalDuration += duration
	}
	return m
}

func TestSliceWholeStreamWhenNoRange(t *testing.T) {
	m := uniformManifest(30, 60)
	lo, hi, err := Slice(m, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 29, hi)
}

func TestSliceTenMinuteWindow(t *testing.T) {
	// thirty 60-second segments, window 600s..1500s: segment 10 starts at
	// 600s, segment 24 spans 1440..1500s and fully overlaps the window edge
	m := uniformManifest(30, 60)
	lo, hi, err := Slice(m, &utils.TimeRange{Start: 600, End: 1500, Total: 1800})
	require.NoError(t, err)
	assert.Equal(t, 10, lo)
	assert.Equal(t, 24, hi)
}

func TestSliceIncludesBoundarySegmentsWhole(t *testing.T) {
	m := uniformManifest(10, 10)
	// window straddles the middle of segments 2 and 7: both included whole
	lo, hi, err := Slice(m, &utils.TimeRange{Start: 25, End: 75})
	require.NoError(t, err)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 7, hi)
}

func TestSliceBoundsAlwaysValid(t *testing.T) {
	m := uniformManifest(7, 5.5)
	ranges := []*utils.TimeRange{
		nil,
		{Start: 0, End: 1},
		{Start: 0.1, End: 38.5},
		{Start: 17, End: 18},
		{Start: 30, End: 1000}, // end past total clamps to last segment
	}
	for _, r := range ranges {
		lo, hi, err := Slice(m, r)
		require.NoError(t, err, "range %+v", r)
		assert.LessOrEqual(t, lo, hi, "range %+v", r)
		assert.GreaterOrEqual(t, lo, 0, "range %+v", r)
		assert.LessOrEqual(t, hi, len(m.Segments)-1, "range %+v", r)
	}
}

func TestSliceRangeInvalid(t *testing.T) {
	m := uniformManifest(30, 60)
	tests := []struct {
		name string
		r    *utils.TimeRange
	}{
		{"start equals end", &utils.TimeRange{Start: 600, End: 600}},
		{"start after end", &utils.TimeRange{Start: 900, End: 600}},
		{"start beyond total", &utils.TimeRange{Start: 2000, End: 2100}},
		{"negative start", &utils.TimeRange{Start: -10, End: 60}},
	}
	for _, test := range tests {
		_, _, err := Slice(m, test.r)
		assert.ErrorIs(t, err, utils.ErrRangeInvalid, test.name)
	}
}

func TestSliceTotalCrossCheck(t *testing.T) {
	m := uniformManifest(30, 60) // 1800s
	// within tolerance: one median segment duration
	_, _, err := Slice(m, &utils.TimeRange{Start: 0, End: 100, Total: 1845})
	require.NoError(t, err)
	// far off: asserted total belongs to a different video
	_, _, err = Slice(m, &utils.TimeRange{Start: 0, End: 100, Total: 3600})
	assert.ErrorIs(t, err, utils.ErrRangeInvalid)
	// zero total skips the check
	_, _, err = Slice(m, &utils.TimeRange{Start: 0, End: 100})
	require.NoError(t, err)
}

func TestSliceEmptyManifest(t *testing.T) {
	_, _, err := Slice(&Manifest{}, nil)
	assert.ErrorIs(t, err, utils.ErrRangeInvalid)
}
