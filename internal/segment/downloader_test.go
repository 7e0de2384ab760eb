package segment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodgrab/vodgrab/internal/manifest"
	"github.com/vodgrab/vodgrab/internal/utils"
)

func testDownloader(retries int) *Downloader {
	d := NewDownloader(utils.NewVodgrabHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second}))
	d.MaxRetries = retries
	d.BackoffBase = time.Millisecond
	d.RateLimitWait = time.Millisecond
	return d
}

func ref(url string) manifest.SegmentRef {
	return manifest.SegmentRef{Index: 3, Duration: 6, URL: url}
}

func TestFetchWritesSegmentAtomically(t *testing.T) {
	payload := []byte("segment-bytes-0123456789")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	size, err := testDownloader(3).Fetch(context.Background(), ref(server.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful fetch")
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	size, err := testDownloader(5).Fetch(context.Background(), ref(server.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), size)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchRetryCeiling(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(4).Fetch(context.Background(), ref(server.URL), dest)
	assert.ErrorIs(t, err, utils.ErrSegmentFailed)
	// exactly ceiling attempts, never ceiling+1
	assert.Equal(t, int32(4), hits.Load())
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchAuthFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(5).Fetch(context.Background(), ref(server.URL), dest)
	assert.ErrorIs(t, err, utils.ErrAuth)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchExpiredLinkIsTerminal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(5).Fetch(context.Background(), ref(server.URL), dest)
	assert.ErrorIs(t, err, utils.ErrSegmentFailed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRateLimitIsTransient(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(3).Fetch(context.Background(), ref(server.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchEmptyBodyIsTransient(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			return // 200 with empty body
		}
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(3).Fetch(context.Background(), ref(server.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	dest := filepath.Join(t.TempDir(), "segment_00003.ts")
	_, err := testDownloader(3).Fetch(ctx, ref(server.URL), dest)
	assert.ErrorIs(t, err, context.Canceled)
}
