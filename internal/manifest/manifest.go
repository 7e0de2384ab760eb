package manifest

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vodgrab/vodgrab/internal/utils"
)

// SegmentRef is one addressable chunk of the stream. Immutable.
type SegmentRef struct {
	Index    int
	Duration float64
	URL      string
}

// Manifest is the parsed segment listing for one job. Segment order is the
// upstream order and is authoritative; it is never re-sorted.
type Manifest struct {
	Segments      []SegmentRef
	TotalDuration float64
	KeyMethod     string
	KeyURI        string
}

type Fetcher struct {
	client utils.HTTPDoer
}

func NewFetcher(client utils.HTTPDoer) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves and parses the manifest at manifestURL, following one
// level of master-playlist indirection (preferring the NAME=max variant the
// way the upstream listing marks its best quality).
func (f *Fetcher) Fetch(manifestURL string) (*Manifest, error) {
	log := utils.GetLogger("manifest")
	content, err := f.get(manifestURL)
	if err != nil {
		return nil, err
	}
	master, variantURL, err := masterVariant(content, manifestURL)
	if err != nil {
		return nil, err
	}
	if master {
		log.Debug().Str("variant", variantURL).Msg("Master playlist, fetching variant")
		content, err = f.get(variantURL)
		if err != nil {
			return nil, err
		}
		manifestURL = variantURL
	}
	m, err := parseMediaPlaylist(content, manifestURL)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("segments", len(m.Segments)).Float64("duration", m.TotalDuration).Msg("Manifest parsed")
	return m, nil
}

func (f *Fetcher) get(manifestURL string) (string, error) {
	req, err := http.NewRequest("GET", manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating manifest request: %v", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrManifestUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: manifest request returned status %d", utils.ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: manifest request returned status %d", utils.ErrManifestUnavailable, resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: error reading manifest content: %v", utils.ErrManifestUnavailable, err)
	}
	return string(content), nil
}

// masterVariant reports whether content is a master playlist and, if so,
// which variant to use. The NAME=max variant wins when present, otherwise
// the first listed variant.
func masterVariant(content, manifestURL string) (bool, string, error) {
	if !strings.Contains(content, "#EXT-X-STREAM-INF") {
		return false, "", nil
	}
	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return false, "", fmt.Errorf("%w: error parsing manifest URL: %v", utils.ErrManifestUnavailable, err)
	}
	var first, max string
	wantNext := false
	isMax := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			wantNext = true
			isMax = strings.Contains(line, "NAME=max") || strings.Contains(line, `NAME="max"`)
			continue
		}
		if strings.HasPrefix(line, "#") || !wantNext {
			continue
		}
		wantNext = false
		resolved, err := resolveURL(baseURL, line)
		if err != nil {
			return false, "", fmt.Errorf("%w: error resolving variant URL: %v", utils.ErrManifestUnavailable, err)
		}
		if first == "" {
			first = resolved
		}
		if isMax {
			max = resolved
		}
	}
	if max != "" {
		return true, max, nil
	}
	if first == "" {
		return false, "", fmt.Errorf("%w: master playlist lists no variants", utils.ErrManifestUnavailable)
	}
	return true, first, nil
}

func parseMediaPlaylist(content, manifestURL string) (*Manifest, error) {
	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing manifest URL: %v", utils.ErrManifestUnavailable, err)
	}
	m := &Manifest{}
	var duration float64
	haveDuration := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			duration, err = parseExtInf(line)
			if err != nil {
				return nil, err
			}
			haveDuration = true
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-KEY:") {
			m.KeyMethod, m.KeyURI = parseKeyLine(line)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		segmentURL, err := resolveURL(baseURL, line)
		if err != nil {
			return nil, fmt.Errorf("%w: error resolving segment URL: %v", utils.ErrManifestUnavailable, err)
		}
		if !haveDuration {
			duration = 0
		}
		m.Segments = append(m.Segments, SegmentRef{
			Index:    len(m.Segments),
			Duration: duration,
			URL:      segmentURL,
		})
		m.TotalDuration += duration
		haveDuration = false
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: error scanning manifest content: %v", utils.ErrManifestUnavailable, err)
	}
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments in manifest", utils.ErrManifestUnavailable)
	}
	return m, nil
}

func parseExtInf(line string) (float64, error) {
	value := strings.TrimPrefix(line, "#EXTINF:")
	if idx := strings.Index(value, ","); idx >= 0 {
		value = value[:idx]
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || duration < 0 {
		return 0, fmt.Errorf("%w: malformed EXTINF %q", utils.ErrManifestUnavailable, line)
	}
	return duration, nil
}

func parseKeyLine(line string) (method, uri string) {
	attrs := strings.TrimPrefix(line, "#EXT-X-KEY:")
	for _, attr := range strings.Split(attrs, ",") {
		kv := strings.SplitN(attr, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "METHOD":
			method = strings.TrimSpace(kv[1])
		case "URI":
			uri = strings.Trim(strings.TrimSpace(kv[1]), `"`)
		}
	}
	return method, uri
}

func resolveURL(baseURL *url.URL, urlStr string) (string, error) {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr, nil // Already an absolute URL
	}
	relURL, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(relURL).String(), nil
}
