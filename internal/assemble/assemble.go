package assemble

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vodgrab/vodgrab/internal/resume"
	"github.com/vodgrab/vodgrab/internal/utils"
)

// PostProcessor consumes a completed, ordered segment set plus job
// metadata. Implementations own remux, thumbnails, output organization and
// temp cleanup; the engine guarantees it is never invoked before every
// segment in range is done.
type PostProcessor interface {
	Process(ctx context.Context, job utils.Job, artifactPath string, segmentFiles []string) error
}

// Noop is the default PostProcessor: the concatenated artifact is the
// final output and segment files are left in place for inspection.
type Noop struct{}

func (Noop) Process(ctx context.Context, job utils.Job, artifactPath string, segmentFiles []string) error {
	return nil
}

// Reassemble concatenates a job's segment files into the output artifact in
// strict increasing index order. It refuses to produce an artifact with
// gaps and verifies each copied segment against its on-disk size. The
// artifact appears atomically (temp write then rename).
func Reassemble(progress *resume.JobProgress, outputPath string) (int64, error) {
	log := utils.GetLogger("assemble")
	segmentFiles, err := progress.DoneFiles()
	if err != nil {
		return 0, fmt.Errorf("refusing to assemble: %v", err)
	}
	tempPath := outputPath + ".assembling"
	destFile, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %v", err)
	}

	var totalWritten int64
	for _, segmentPath := range segmentFiles {
		segFile, err := os.Open(segmentPath)
		if err != nil {
			destFile.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("error opening segment file %s: %v", segmentPath, err)
		}
		info, err := segFile.Stat()
		if err != nil {
			segFile.Close()
			destFile.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("error getting segment file info: %v", err)
		}
		written, err := io.Copy(destFile, segFile)
		segFile.Close()
		if err != nil {
			destFile.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("error copying segment data: %v", err)
		}
		if written != info.Size() {
			destFile.Close()
			os.Remove(tempPath)
			return 0, fmt.Errorf("wrote %d bytes but segment size is %d", written, info.Size())
		}
		totalWritten += written
	}
	if err := destFile.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("error closing output file: %v", err)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("error finalizing output file: %v", err)
	}
	log.Debug().Int("segments", len(segmentFiles)).Int64("totalBytes", totalWritten).Str("outputFile", outputPath).Msg("Artifact assembled")
	return totalWritten, nil
}
