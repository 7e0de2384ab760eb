package resume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vodgrab/vodgrab/internal/utils"
)

// SegmentState is the per-segment lifecycle:
// pending -> downloading -> done | failed.
type SegmentState string

const (
	StatePending     SegmentState = "pending"
	StateDownloading SegmentState = "downloading"
	StateDone        SegmentState = "done"
	StateFailed      SegmentState = "failed"
)

type SegmentRecord struct {
	State SegmentState `yaml:"state"`
	Size  int64        `yaml:"size,omitempty"`
}

type progressFile struct {
	URL      string                 `yaml:"url"`
	Lo       int                    `yaml:"lo"`
	Hi       int                    `yaml:"hi"`
	Segments map[int]*SegmentRecord `yaml:"segments"`
}

// Store owns the on-disk resume state root. Each job gets a directory named
// deterministically from its output artifact, holding the segment files and
// a progress.yaml mapping segment index to state.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// JobKey derives the durable job identity from the output artifact name, so
// re-running the same job configuration resumes the same state.
func JobKey(job utils.Job) string {
	base := filepath.Base(job.OutputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, base)
}

// Open loads (or initializes) the progress record for a job and reconciles
// it against what is actually on disk: done records whose files are missing
// or mis-sized roll back to pending, interrupted downloads roll back to
// pending, and failed segments are re-dispatched.
func (s *Store) Open(job utils.Job) (*JobProgress, error) {
	log := utils.GetLogger("resume").With().Str("job", JobKey(job)).Logger()
	dir := filepath.Join(s.root, JobKey(job))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating state directory: %v", err)
	}
	p := &JobProgress{
		dir:      dir,
		path:     filepath.Join(dir, "progress.yaml"),
		segments: make(map[int]*SegmentRecord),
	}
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading progress file: %v", err)
	}
	var pf progressFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		log.Warn().Err(err).Msg("Progress file unreadable, starting fresh")
		return p, nil
	}
	// the output name can collide across different videos; state recorded
	// for another source must never satisfy this job's segments
	if pf.URL != "" && pf.URL != job.URL {
		log.Warn().Str("recorded", pf.URL).Str("requested", job.URL).Msg("Progress record belongs to a different source, starting fresh")
		return p, nil
	}
	p.url = pf.URL
	p.lo, p.hi = pf.Lo, pf.Hi
	if pf.Segments != nil {
		p.segments = pf.Segments
	}
	for idx, rec := range p.segments {
		switch rec.State {
		case StateDone:
			if err := verifyOnDisk(p.segmentPath(idx), rec.Size); err != nil {
				log.Warn().Int("index", idx).Err(fmt.Errorf("%w: %v", utils.ErrResumeCorruption, err)).Msg("Rolling segment back to pending")
				rec.State = StatePending
				rec.Size = 0
			}
		case StateDownloading, StateFailed:
			rec.State = StatePending
		}
	}
	done := 0
	for _, rec := range p.segments {
		if rec.State == StateDone {
			done++
		}
	}
	log.Debug().Int("known", len(p.segments)).Int("done", done).Msg("Loaded progress record")
	return p, nil
}

func verifyOnDisk(path string, expectedSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("segment file missing: %v", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("segment file %s is empty", filepath.Base(path))
	}
	if expectedSize > 0 && info.Size() != expectedSize {
		return fmt.Errorf("segment file %s has %d bytes, recorded %d", filepath.Base(path), info.Size(), expectedSize)
	}
	return nil
}

// JobProgress is the single source of truth for which segments of one job
// are already on disk. All transitions go through its mutex; workers claim
// an index (pending->downloading) before touching the network so no two
// workers ever write the same segment.
type JobProgress struct {
	mu       sync.Mutex
	dir      string
	path     string
	url      string
	lo, hi   int
	segments map[int]*SegmentRecord
}

// SetRange binds the progress record to the sliced index range, creating
// pending records for indices not seen before, and persists.
func (p *JobProgress) SetRange(url string, lo, hi int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.lo, p.hi = lo, hi
	for idx := lo; idx <= hi; idx++ {
		if _, ok := p.segments[idx]; !ok {
			p.segments[idx] = &SegmentRecord{State: StatePending}
		}
	}
	return p.save()
}

func (p *JobProgress) Range() (lo, hi int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lo, p.hi
}

// SegmentPath is the deterministic on-disk name for a segment index.
func (p *JobProgress) SegmentPath(idx int) string {
	return p.segmentPath(idx)
}

func (p *JobProgress) segmentPath(idx int) string {
	return filepath.Join(p.dir, fmt.Sprintf("segment_%05d.ts", idx))
}

// Claim atomically transitions pending->downloading. A false return means
// another worker owns the index or it is already settled.
func (p *JobProgress) Claim(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.segments[idx]
	if !ok || rec.State != StatePending {
		return false
	}
	rec.State = StateDownloading
	return true
}

// Release rolls downloading->pending, used when a claimed segment was never
// attempted (cancellation, job abort).
func (p *JobProgress) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.segments[idx]; ok && rec.State == StateDownloading {
		rec.State = StatePending
	}
}

func (p *JobProgress) MarkDone(idx int, size int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.segments[idx]
	if !ok {
		return fmt.Errorf("segment %d not tracked", idx)
	}
	rec.State = StateDone
	rec.Size = size
	return p.save()
}

func (p *JobProgress) MarkFailed(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.segments[idx]
	if !ok {
		return fmt.Errorf("segment %d not tracked", idx)
	}
	rec.State = StateFailed
	return p.save()
}

func (p *JobProgress) State(idx int) SegmentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.segments[idx]; ok {
		return rec.State
	}
	return ""
}

// Outstanding lists indices in [lo, hi] not yet done, in increasing order.
func (p *JobProgress) Outstanding() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for idx := p.lo; idx <= p.hi; idx++ {
		if rec, ok := p.segments[idx]; !ok || rec.State != StateDone {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Complete reports whether every index in [lo, hi] is done.
func (p *JobProgress) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx := p.lo; idx <= p.hi; idx++ {
		rec, ok := p.segments[idx]
		if !ok || rec.State != StateDone {
			return false
		}
	}
	return true
}

// DoneFiles returns the segment file paths for [lo, hi] in strict
// increasing index order, failing on any gap.
func (p *JobProgress) DoneFiles() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	files := make([]string, 0, p.hi-p.lo+1)
	for idx := p.lo; idx <= p.hi; idx++ {
		rec, ok := p.segments[idx]
		if !ok || rec.State != StateDone {
			return nil, fmt.Errorf("gap at segment %d: not done", idx)
		}
		files = append(files, p.segmentPath(idx))
	}
	return files, nil
}

// save persists the progress record atomically (temp write then rename).
// Callers hold p.mu.
func (p *JobProgress) save() error {
	pf := progressFile{URL: p.url, Lo: p.lo, Hi: p.hi, Segments: p.segments}
	data, err := yaml.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("error encoding progress: %v", err)
	}
	tempPath := p.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("error writing progress file: %v", err)
	}
	if err := os.Rename(tempPath, p.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("error finalizing progress file: %v", err)
	}
	return nil
}
