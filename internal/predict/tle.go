package predict

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akhenakh/sgp4"
)

const tleCacheFile = "catalog_tle.txt"

// Catalog maps NORAD ids to their elements.
type Catalog map[int]*Element

// TLEStore fetches and caches the element set the tracker works from. It
// tries a fresh disk cache first, then the network, then a stale cache.
type TLEStore struct {
	url      string
	cacheDir string
	maxAge   time.Duration
	client   *http.Client
}

// NewTLEStore returns a store that fetches from tleURL and caches under
// cacheDir.
func NewTLEStore(tleURL, cacheDir string, refreshHours int) *TLEStore {
	return &TLEStore{
		url:      tleURL,
		cacheDir: cacheDir,
		maxAge:   time.Duration(refreshHours) * time.Hour,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch returns the catalog, preferring the cache while it is fresh.
func (s *TLEStore) Fetch(ctx context.Context) (Catalog, error) {
	raw, err := s.loadOrFetch(ctx, s.cachePath())
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

// ForceRefresh bypasses the fresh-cache tier and goes to the network.
func (s *TLEStore) ForceRefresh(ctx context.Context) (Catalog, error) {
	body, err := s.fetchFromNetwork(ctx)
	if err != nil {
		return nil, err
	}
	c, err := ParseCatalog(body)
	if err != nil {
		return nil, err
	}
	_ = s.writeCache(s.cachePath(), body)
	return c, nil
}

// CacheInfo describes the on-disk cache for status reporting.
type CacheInfo struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	AgeS   int    `json:"age_s,omitempty"`
	Fresh  bool   `json:"fresh"`
	URL    string `json:"url"`
}

// CacheInfo reports the cache file's presence and age.
func (s *TLEStore) CacheInfo() CacheInfo {
	info := CacheInfo{Path: s.cachePath(), URL: s.url}
	st, err := os.Stat(info.Path)
	if err != nil {
		return info
	}
	age := time.Since(st.ModTime())
	info.Exists = true
	info.AgeS = int(age.Seconds())
	info.Fresh = age < s.maxAge
	return info
}

func (s *TLEStore) cachePath() string {
	return filepath.Join(s.cacheDir, tleCacheFile)
}

func (s *TLEStore) loadOrFetch(ctx context.Context, cachePath string) (string, error) {
	info, err := os.Stat(cachePath)
	if err == nil && time.Since(info.ModTime()) < s.maxAge {
		if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
			return string(b), nil
		}
	}

	body, fetchErr := s.fetchFromNetwork(ctx)
	if fetchErr == nil {
		// The data is already in memory; a failed cache write only costs a
		// refetch next time.
		_ = s.writeCache(cachePath, body)
		return body, nil
	}

	if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
		return string(b), nil
	}

	return "", fmt.Errorf("all TLE sources exhausted: %w", fetchErr)
}

func (s *TLEStore) fetchFromNetwork(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("TLE fetch returned HTTP %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeCache writes through a temp file and rename so readers never see a
// partial file.
func (s *TLEStore) writeCache(cachePath, data string) error {
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tle-*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), cachePath)
}

// ParseCatalog reads a 3-line TLE dump (name, line 1, line 2) as served by
// CelesTrak. Groups that fail validation are skipped.
func ParseCatalog(raw string) (Catalog, error) {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(raw), "\n") {
		if l = strings.TrimRight(l, "\r \t"); l != "" {
			lines = append(lines, l)
		}
	}

	c := make(Catalog)
	for i := 0; i+2 < len(lines); i += 3 {
		name := strings.TrimSpace(lines[i])
		l1 := strings.TrimSpace(lines[i+1])
		l2 := strings.TrimSpace(lines[i+2])

		// go-satellite has no error path for malformed lines, so validate
		// with sgp4 before handing them over.
		tle, err := sgp4.ParseTLE(name + "\n" + l1 + "\n" + l2)
		if err != nil {
			continue
		}
		e, err := NewElement(name, tle.SatelliteNumber, l1, l2)
		if err != nil {
			continue
		}
		e.tle = tle
		c[e.NoradID] = e
	}

	if len(c) == 0 {
		return nil, fmt.Errorf("no valid TLEs found in %d lines of input", len(lines))
	}
	return c, nil
}
