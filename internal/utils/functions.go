package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseClock converts a clock-style offset ("SS", "MM:SS" or "HH:MM:SS",
// raw seconds may be fractional) into seconds.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time value")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time value %q", s)
	}
	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid time value %q", s)
		}
		if len(parts) > 1 && v >= 60 && part != parts[0] {
			return 0, fmt.Errorf("invalid time value %q: component %q out of range", s, part)
		}
		total = total*60 + v
	}
	return total, nil
}

// ParseJobSpec parses one job input line: a source locator optionally
// suffixed with ",START,END,TOTAL".
func ParseJobSpec(spec string) (string, *TimeRange, error) {
	parts := strings.Split(spec, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", nil, fmt.Errorf("empty job spec")
		}
		return parts[0], nil, nil
	case 4:
		start, err := ParseClock(parts[1])
		if err != nil {
			return "", nil, fmt.Errorf("bad START in %q: %w", spec, err)
		}
		end, err := ParseClock(parts[2])
		if err != nil {
			return "", nil, fmt.Errorf("bad END in %q: %w", spec, err)
		}
		total, err := ParseClock(parts[3])
		if err != nil {
			return "", nil, fmt.Errorf("bad TOTAL in %q: %w", spec, err)
		}
		return parts[0], &TimeRange{Start: start, End: end, Total: total}, nil
	}
	return "", nil, fmt.Errorf("job spec %q must be URL or URL,START,END,TOTAL", spec)
}

// ReadJobList loads a YAML job-list file and validates every entry has a
// source link.
func ReadJobList(filePath string) (*JobList, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	var list JobList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	for i, entry := range list.Jobs {
		if entry.Link == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(list.Jobs)).Msg("Entries loaded from YAML")
	return &list, nil
}

func ParseHeaderArgs(headers []string) map[string]string {
	parsed := make(map[string]string)
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			continue
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed
}

// DeriveOutputPath infers an artifact name from the manifest URL when the
// user didn't give one.
func DeriveOutputPath(rawURL, outputDir string) string {
	name := "video"
	if parsed, err := url.Parse(rawURL); err == nil {
		base := filepath.Base(parsed.Path)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if base != "" && base != "." && base != "/" {
			name = base
		}
	}
	return filepath.Join(outputDir, name+".ts")
}

// RenewOutputPath picks "name-(N).ext" that doesn't collide with an
// existing file.
func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
