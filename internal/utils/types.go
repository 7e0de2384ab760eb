package utils

import "fmt"

// Mode selects how the scheduler spreads work across jobs.
type Mode string

const (
	ModeParallel Mode = "parallel"
	ModeSeries   Mode = "series"
	ModeHybrid   Mode = "hybrid"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeParallel, ModeSeries, ModeHybrid:
		return Mode(s), nil
	case "":
		return ModeParallel, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected parallel, series or hybrid)", s)
}

// TimeRange is a requested window of the stream in seconds. Total is the
// asserted full duration, used only as a sanity cross-check against the
// manifest, never as the slicing basis.
type TimeRange struct {
	Start float64
	End   float64
	Total float64
}

// Job is one requested video download. Immutable after construction.
type Job struct {
	ID               string
	URL              string
	OutputPath       string
	Range            *TimeRange
	HTTPClientConfig HTTPClientConfig
}

// JobEntry is one item of a YAML job-list file.
type JobEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
	Start      string `yaml:"start,omitempty"`
	End        string `yaml:"end,omitempty"`
	Total      string `yaml:"total,omitempty"`
}

// JobList is the YAML job-list file: a shared credential header block
// applied to every request of every job, plus the job entries.
type JobList struct {
	Header map[string]string `yaml:"header,omitempty"`
	Jobs   []JobEntry        `yaml:"jobs"`
}
