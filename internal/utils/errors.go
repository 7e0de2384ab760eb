package utils

import "errors"

// Error kinds surfaced by the acquisition engine. Job-fatal kinds
// (ErrAuth, ErrManifestUnavailable, ErrRangeInvalid) mark one job failed
// without affecting others; ErrSegmentFailed is terminal for a segment
// after retry exhaustion; ErrResumeCorruption is recoverable (the segment
// is rolled back to pending and downloaded again).
var (
	ErrAuth                = errors.New("authentication rejected")
	ErrManifestUnavailable = errors.New("manifest unavailable")
	ErrRangeInvalid        = errors.New("invalid time range")
	ErrSegmentFailed       = errors.New("segment failed after retries")
	ErrResumeCorruption    = errors.New("resume state does not match disk")
)
