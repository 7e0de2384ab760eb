package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/vodgrab/vodgrab/internal/assemble"
	"github.com/vodgrab/vodgrab/internal/manifest"
	"github.com/vodgrab/vodgrab/internal/output"
	"github.com/vodgrab/vodgrab/internal/resume"
	"github.com/vodgrab/vodgrab/internal/segment"
	"github.com/vodgrab/vodgrab/internal/utils"
)

type Config struct {
	Mode        utils.Mode
	Workers     int // segment pool size: shared in parallel mode, per job in series mode
	HostWorkers int // per-group segment pool size in hybrid mode
	StateDir    string
	JournalPath string
	// MaxRetries and RetryBackoff tune the per-segment retry loop; zero
	// keeps the downloader defaults.
	MaxRetries   int
	RetryBackoff time.Duration
	Post         assemble.PostProcessor
	Progress     *output.Manager
	// GroupKey partitions jobs in hybrid mode. Defaults to the manifest
	// URL hostname; policy, not semantics.
	GroupKey func(utils.Job) string
}

// Result is the terminal outcome of one job. Failure of one job never
// touches another: partial artifacts stay on disk for a later resume and
// Outstanding names what is still missing.
type Result struct {
	Job          utils.Job
	Err          error
	Outstanding  []int
	ArtifactPath string
	Bytes        int64
}

func (r Result) Status() string {
	switch {
	case r.Err == nil:
		return "COMPLETE"
	case errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded):
		return "ABORTED"
	}
	return "FAILED"
}

// HostGroupKey is the default hybrid partition: jobs sharing a manifest
// host share a group.
func HostGroupKey(job utils.Job) string {
	if parsed, err := url.Parse(job.URL); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return "default"
}

// Run executes all jobs under the configured mode and returns an error if
// any job finished in a non-complete state.
func Run(ctx context.Context, jobs []utils.Job, cfg Config) error {
	log := utils.GetLogger("scheduler")
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.HostWorkers <= 0 {
		cfg.HostWorkers = cfg.Workers
	}
	if cfg.Post == nil {
		cfg.Post = assemble.Noop{}
	}
	if cfg.GroupKey == nil {
		cfg.GroupKey = HostGroupKey
	}
	store := resume.NewStore(cfg.StateDir)
	disp := display{cfg.Progress}
	for _, job := range jobs {
		disp.register(jobName(job))
	}

	results := make([]Result, len(jobs))
	switch cfg.Mode {
	case utils.ModeSeries:
		log.Debug().Int("jobs", len(jobs)).Int("workers", cfg.Workers).Msg("Series mode")
		for i, job := range jobs {
			results[i] = runJobPooled(ctx, job, store, cfg, disp, cfg.Workers)
		}
	case utils.ModeHybrid:
		groups := make(map[string][]int)
		var keys []string
		for i, job := range jobs {
			key := cfg.GroupKey(job)
			if _, seen := groups[key]; !seen {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], i)
		}
		log.Debug().Int("jobs", len(jobs)).Int("groups", len(keys)).Int("hostWorkers", cfg.HostWorkers).Msg("Hybrid mode")
		var wg sync.WaitGroup
		for _, key := range keys {
			wg.Add(1)
			go func(indices []int) {
				defer wg.Done()
				for _, i := range indices {
					results[i] = runJobPooled(ctx, jobs[i], store, cfg, disp, cfg.HostWorkers)
				}
			}(groups[key])
		}
		wg.Wait()
	default: // parallel: all jobs' segments share one bounded pool
		log.Debug().Int("jobs", len(jobs)).Int("workers", cfg.Workers).Msg("Parallel mode")
		pool := newPool(cfg.Workers)
		var wg sync.WaitGroup
		for i, job := range jobs {
			wg.Add(1)
			go func(i int, job utils.Job) {
				defer wg.Done()
				results[i] = runJob(ctx, job, store, cfg, disp, pool.submit)
			}(i, job)
		}
		wg.Wait()
		pool.close()
	}

	failed := 0
	for _, res := range results {
		if cfg.JournalPath != "" {
			if err := appendJournal(cfg.JournalPath, res); err != nil {
				log.Warn().Err(err).Msg("Could not append outcome journal")
			}
		}
		if res.Err == nil {
			log.Info().Str("job", res.Job.ID).Str("artifact", res.ArtifactPath).Str("size", utils.FormatBytes(uint64(res.Bytes))).Msg("Job complete")
			continue
		}
		failed++
		log.Error().Str("job", res.Job.ID).Str("url", res.Job.URL).Err(res.Err).Ints("outstanding", res.Outstanding).Msg("Job did not complete; partial segments kept for resume")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

// runJobPooled runs one job against a dedicated segment pool (series and
// hybrid modes).
func runJobPooled(ctx context.Context, job utils.Job, store *resume.Store, cfg Config, disp display, workers int) Result {
	pool := newPool(workers)
	res := runJob(ctx, job, store, cfg, disp, pool.submit)
	pool.close()
	return res
}

func runJob(ctx context.Context, job utils.Job, store *resume.Store, cfg Config, disp display, submit func(func())) Result {
	log := utils.GetLogger("job").With().Str("id", job.ID).Logger()
	name := jobName(job)
	fail := func(err error, progress *resume.JobProgress) Result {
		disp.fail(name, err)
		res := Result{Job: job, Err: err}
		if progress != nil {
			res.Outstanding = progress.Outstanding()
		}
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err, nil)
	}
	client := utils.NewVodgrabHTTPClient(job.HTTPClientConfig)
	disp.message(name, "fetching manifest")
	m, err := manifest.NewFetcher(client).Fetch(job.URL)
	if err != nil {
		return fail(err, nil)
	}
	lo, hi, err := manifest.Slice(m, job.Range)
	if err != nil {
		return fail(err, nil)
	}
	log.Debug().Int("lo", lo).Int("hi", hi).Int("segments", len(m.Segments)).Msg("Range sliced")

	progress, err := store.Open(job)
	if err != nil {
		return fail(err, nil)
	}
	if err := progress.SetRange(job.URL, lo, hi); err != nil {
		return fail(err, progress)
	}
	outstanding := progress.Outstanding()
	if len(outstanding) < hi-lo+1 {
		log.Info().Int("satisfied", hi-lo+1-len(outstanding)).Int("remaining", len(outstanding)).Msg("Resuming: verified segments skipped")
	}
	disp.total(name, len(outstanding))

	dl := segment.NewDownloader(client)
	if cfg.MaxRetries > 0 {
		dl.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		dl.BackoffBase = cfg.RetryBackoff
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var jobErr error // first job-fatal or segment-terminal error
	abort := func(err error) {
		mu.Lock()
		if jobErr == nil {
			jobErr = err
		}
		mu.Unlock()
	}
	aborted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return jobErr != nil && errors.Is(jobErr, utils.ErrAuth)
	}

	for _, idx := range outstanding {
		ref := m.Segments[idx]
		wg.Add(1)
		submit(func() {
			defer wg.Done()
			if ctx.Err() != nil || aborted() {
				return
			}
			if !progress.Claim(ref.Index) {
				return
			}
			size, err := dl.Fetch(ctx, ref, progress.SegmentPath(ref.Index))
			if err != nil {
				if ctx.Err() != nil {
					// unwind the claim so resume picks it up cleanly
					progress.Release(ref.Index)
					return
				}
				if errors.Is(err, utils.ErrAuth) {
					progress.Release(ref.Index)
					abort(err)
					return
				}
				if markErr := progress.MarkFailed(ref.Index); markErr != nil {
					log.Warn().Err(markErr).Int("index", ref.Index).Msg("Could not persist failed state")
				}
				abort(err)
				return
			}
			if err := progress.MarkDone(ref.Index, size); err != nil {
				abort(fmt.Errorf("error persisting segment %d: %v", ref.Index, err))
				return
			}
			disp.advance(name, size)
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fail(err, progress)
	}
	if !progress.Complete() {
		mu.Lock()
		err := jobErr
		mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: %d segments outstanding", utils.ErrSegmentFailed, len(progress.Outstanding()))
		}
		return fail(err, progress)
	}

	bytes, err := assemble.Reassemble(progress, job.OutputPath)
	if err != nil {
		return fail(err, progress)
	}
	segmentFiles, err := progress.DoneFiles()
	if err != nil {
		return fail(err, progress)
	}
	if err := cfg.Post.Process(ctx, job, job.OutputPath, segmentFiles); err != nil {
		// post-processing is best-effort; the artifact itself is complete
		log.Warn().Err(err).Msg("Post-processing failed")
	}
	disp.complete(name, "complete")
	return Result{Job: job, ArtifactPath: job.OutputPath, Bytes: bytes}
}

func jobName(job utils.Job) string {
	return filepath.Base(job.OutputPath)
}

// pool is the worker-pool primitive every mode is built on: n workers
// draining a task channel.
type pool struct {
	taskCh chan func()
	wg     sync.WaitGroup
}

func newPool(n int) *pool {
	p := &pool{taskCh: make(chan func(), 256)}
	for range n {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.taskCh {
				task()
			}
		}()
	}
	return p
}

func (p *pool) submit(task func()) {
	p.taskCh <- task
}

func (p *pool) close() {
	close(p.taskCh)
	p.wg.Wait()
}

// display wraps the optional output manager so worker code never
// nil-checks.
type display struct {
	m *output.Manager
}

func (d display) register(name string) {
	if d.m != nil {
		d.m.Register(name)
	}
}
func (d display) message(name, msg string) {
	if d.m != nil {
		d.m.SetMessage(name, msg)
	}
}
func (d display) total(name string, total int) {
	if d.m != nil {
		d.m.SetTotal(name, total)
	}
}
func (d display) advance(name string, bytes int64) {
	if d.m != nil {
		d.m.Advance(name, bytes)
	}
}
func (d display) complete(name, msg string) {
	if d.m != nil {
		d.m.Complete(name, msg)
	}
}
func (d display) fail(name string, err error) {
	if d.m != nil {
		d.m.Fail(name, err)
	}
}
