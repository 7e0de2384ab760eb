package resume

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgrab/vodgrab/internal/utils"
)

func testJob(outputPath string) utils.Job {
	return utils.Job{ID: "run-1", URL: "https://host/vod/play.m3u8", OutputPath: outputPath}
}

func TestJobKeyDeterministic(t *testing.T) {
	job := testJob("/downloads/show episode#3.ts")
	key := JobKey(job)
	assert.Equal(t, "show_episode_3", key)
	assert.Equal(t, key, JobKey(job), "same config must map to the same state")
}

func TestClaimDiscipline(t *testing.T) {
	store := NewStore(t.TempDir())
	job := testJob("a.ts")
	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 4))

	assert.True(t, p.Claim(2))
	assert.False(t, p.Claim(2), "second claim of the same index must lose")
	assert.Equal(t, StateDownloading, p.State(2))

	p.Release(2)
	assert.Equal(t, StatePending, p.State(2))
	assert.True(t, p.Claim(2))

	require.NoError(t, p.MarkDone(2, 100))
	assert.False(t, p.Claim(2), "done segments are never re-claimed")
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	store := NewStore(t.TempDir())
	job := testJob("a.ts")
	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 0))

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Claim(0) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestReloadSkipsVerifiedDoneSegments(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	job := testJob("a.ts")

	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 2))
	payload := []byte("segment-bytes")
	require.NoError(t, os.WriteFile(p.SegmentPath(1), payload, 0644))
	require.True(t, p.Claim(1))
	require.NoError(t, p.MarkDone(1, int64(len(payload))))

	reloaded, err := store.Open(job)
	require.NoError(t, err)
	assert.Equal(t, StateDone, reloaded.State(1))
	assert.Equal(t, []int{0, 2}, reloaded.Outstanding())
	assert.False(t, reloaded.Complete())
}

func TestReloadRollsBackCorruptDoneSegment(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	job := testJob("a.ts")

	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 1))
	require.NoError(t, os.WriteFile(p.SegmentPath(0), []byte("full-segment"), 0644))
	require.True(t, p.Claim(0))
	require.NoError(t, p.MarkDone(0, int64(len("full-segment"))))

	// truncate behind the store's back
	require.NoError(t, os.WriteFile(p.SegmentPath(0), []byte("x"), 0644))

	reloaded, err := store.Open(job)
	require.NoError(t, err)
	assert.Equal(t, StatePending, reloaded.State(0), "corrupt done segment must roll back to pending")
}

func TestReloadRollsBackMissingDoneSegment(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	job := testJob("a.ts")

	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 0))
	require.NoError(t, os.WriteFile(p.SegmentPath(0), []byte("data"), 0644))
	require.True(t, p.Claim(0))
	require.NoError(t, p.MarkDone(0, 4))
	require.NoError(t, os.Remove(p.SegmentPath(0)))

	reloaded, err := store.Open(job)
	require.NoError(t, err)
	assert.Equal(t, StatePending, reloaded.State(0))
}

func TestReloadRedispatchesFailedAndInterrupted(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	job := testJob("a.ts")

	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 1))
	require.True(t, p.Claim(0))
	require.NoError(t, p.MarkFailed(0))
	require.True(t, p.Claim(1))
	require.NoError(t, p.MarkFailed(1))

	reloaded, err := store.Open(job)
	require.NoError(t, err)
	assert.Equal(t, StatePending, reloaded.State(0))
	assert.Equal(t, StatePending, reloaded.State(1))
	assert.Equal(t, []int{0, 1}, reloaded.Outstanding())
}

func TestReloadRejectsStateFromDifferentSource(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	// two distinct videos whose manifest paths derive the same output name
	jobA := utils.Job{ID: "a", URL: "https://host-a/show-x/playlist.m3u8", OutputPath: "playlist.ts"}
	jobB := utils.Job{ID: "b", URL: "https://host-b/show-y/playlist.m3u8", OutputPath: "playlist.ts"}

	p, err := store.Open(jobA)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(jobA.URL, 0, 1))
	payload := []byte("bytes-of-video-a")
	require.NoError(t, os.WriteFile(p.SegmentPath(0), payload, 0644))
	require.True(t, p.Claim(0))
	require.NoError(t, p.MarkDone(0, int64(len(payload))))

	reloaded, err := store.Open(jobB)
	require.NoError(t, err)
	assert.NotEqual(t, StateDone, reloaded.State(0), "another video's segments must never satisfy this job")
	require.NoError(t, reloaded.SetRange(jobB.URL, 0, 1))
	assert.Equal(t, StatePending, reloaded.State(0))
	assert.Equal(t, []int{0, 1}, reloaded.Outstanding())
}

func TestCompleteAndDoneFiles(t *testing.T) {
	store := NewStore(t.TempDir())
	job := testJob("a.ts")
	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 2, 4))

	for idx := 2; idx <= 4; idx++ {
		require.NoError(t, os.WriteFile(p.SegmentPath(idx), []byte{byte(idx)}, 0644))
		require.True(t, p.Claim(idx))
		require.NoError(t, p.MarkDone(idx, 1))
	}
	assert.True(t, p.Complete())
	files, err := p.DoneFiles()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, p.SegmentPath(2), files[0])
	assert.Equal(t, p.SegmentPath(4), files[2])
}

func TestDoneFilesRefusesGaps(t *testing.T) {
	store := NewStore(t.TempDir())
	job := testJob("a.ts")
	p, err := store.Open(job)
	require.NoError(t, err)
	require.NoError(t, p.SetRange(job.URL, 0, 2))
	require.NoError(t, os.WriteFile(p.SegmentPath(0), []byte("x"), 0644))
	require.True(t, p.Claim(0))
	require.NoError(t, p.MarkDone(0, 1))

	_, err = p.DoneFiles()
	assert.Error(t, err)
	assert.False(t, p.Complete())
	assert.Equal(t, []int{1, 2}, p.Outstanding())
}
