package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vodgrab/vodgrab/internal/manifest"
	"github.com/vodgrab/vodgrab/internal/utils"
)

const bufferSize = 256 * 1024

// errExpired marks an upstream 410: the session's segment links are gone
// and retrying the same URL cannot succeed.
var errExpired = errors.New("download link expired")

type rateLimitedError struct{ err error }

func (e *rateLimitedError) Error() string { return e.err.Error() }
func (e *rateLimitedError) Unwrap() error { return e.err }

// Downloader fetches single segments with retry and backoff. Transient
// failures (timeouts, 5xx, resets, size mismatches) are absorbed up to
// MaxRetries; authentication rejections surface immediately because they
// doom every subsequent segment of the job.
type Downloader struct {
	Client        utils.HTTPDoer
	MaxRetries    int
	BackoffBase   time.Duration
	RateLimitWait time.Duration
}

func NewDownloader(client utils.HTTPDoer) *Downloader {
	return &Downloader{
		Client:        client,
		MaxRetries:    5,
		BackoffBase:   500 * time.Millisecond,
		RateLimitWait: 100 * time.Millisecond,
	}
}

// Fetch downloads one segment to destPath. The write is atomic: bytes go to
// a temporary name, are verified, then renamed into place, so a crash
// mid-write never leaves a corrupt file at destPath.
func (d *Downloader) Fetch(ctx context.Context, ref manifest.SegmentRef, destPath string) (int64, error) {
	log := utils.GetLogger("segment").With().Int("index", ref.Index).Logger()
	var lastErr error
	for attempt := range d.MaxRetries {
		if attempt > 0 {
			wait := d.BackoffBase << (attempt - 1)
			var rle *rateLimitedError
			if errors.As(lastErr, &rle) {
				wait = d.RateLimitWait
			}
			log.Debug().Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying segment download")
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(wait):
			}
		}
		size, err := d.fetchOnce(ctx, ref, destPath)
		if err == nil {
			return size, nil
		}
		if errors.Is(err, utils.ErrAuth) {
			return 0, err
		}
		if errors.Is(err, errExpired) {
			return 0, fmt.Errorf("%w: segment %d: %v", utils.ErrSegmentFailed, ref.Index, err)
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Segment download failed")
		lastErr = err
	}
	return 0, fmt.Errorf("%w: segment %d after %d attempts: %v", utils.ErrSegmentFailed, ref.Index, d.MaxRetries, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, ref manifest.SegmentRef, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", ref.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating segment request: %v", err)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: segment request returned status %d", utils.ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusGone:
		return 0, fmt.Errorf("%w: status %d", errExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, &rateLimitedError{fmt.Errorf("rate limited: status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tempPath := destPath + ".part"
	outFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("error creating temp file: %v", err)
	}
	written, err := copyBody(outFile, resp.Body)
	closeErr := outFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("error closing temp file: %v", closeErr)
	}
	if written == 0 {
		os.Remove(tempPath)
		return 0, errors.New("empty segment body")
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tempPath)
		return 0, fmt.Errorf("size mismatch: expected %d bytes, got %d", resp.ContentLength, written)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("error finalizing segment file: %v", err)
	}
	return written, nil
}

func copyBody(dst io.Writer, src io.Reader) (int64, error) {
	buffer := make([]byte, bufferSize)
	var written int64
	for {
		bytesRead, err := src.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := dst.Write(buffer[:bytesRead]); writeErr != nil {
				return written, writeErr
			}
			written += int64(bytesRead)
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
