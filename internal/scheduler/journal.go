package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// JournalEntry is one appended record of a job outcome. The journal is an
// append-only log: entries are never rewritten, so interrupted runs still
// leave a trail.
type JournalEntry struct {
	Timestamp   time.Time `yaml:"timestamp"`
	JobID       string    `yaml:"job_id"`
	URL         string    `yaml:"url"`
	Artifact    string    `yaml:"artifact,omitempty"`
	Status      string    `yaml:"status"`
	Outstanding int       `yaml:"outstanding,omitempty"`
	Error       string    `yaml:"error,omitempty"`
}

func appendJournal(path string, res Result) error {
	entry := JournalEntry{
		Timestamp:   time.Now(),
		JobID:       res.Job.ID,
		URL:         res.Job.URL,
		Artifact:    res.ArtifactPath,
		Status:      res.Status(),
		Outstanding: len(res.Outstanding),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	// each record is a one-element YAML list, so appends concatenate into
	// a valid list document
	data, err := yaml.Marshal([]JournalEntry{entry})
	if err != nil {
		return fmt.Errorf("error encoding journal entry: %v", err)
	}
	// the journal may default into the state dir before any job created it
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating journal directory: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening journal: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("error writing journal: %v", err)
	}
	return nil
}
