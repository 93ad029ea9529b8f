package preview

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const storeVersion = 1

const (
	// Unix seconds for 2000-01-01T00:00:00Z. Numeric timestamps below this
	// cannot be recent Unix times and are reinterpreted.
	unixEpochThreshold = 946684800
	// Offset of the 2001-01-01 reference epoch some legacy entries used.
	altEpochOffset = 978307200
)

type diskPayload struct {
	Version int                  `json:"version"`
	Entries map[string]diskEntry `json:"entries"`
}

type diskEntry struct {
	PreviewText string          `json:"previewText"`
	FetchedAt   json.RawMessage `json:"fetchedAt"`
}

type diskWritePayload struct {
	Version int                       `json:"version"`
	Entries map[string]diskWriteEntry `json:"entries"`
}

type diskWriteEntry struct {
	PreviewText string `json:"previewText"`
	FetchedAt   int64  `json:"fetchedAt"`
}

// Store persists positive preview entries as a single versioned JSON
// document. All failures are non-fatal: the cache degrades to memory-only.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore builds a Store writing to path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the persisted payload, tolerating legacy timestamp encodings.
// Any read failure yields an empty map.
func (s *Store) Load() map[string]Entry {
	entries := make(map[string]Entry)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read preview cache failed", zap.String("path", s.path), zap.Error(err))
		}
		return entries
	}

	var payload diskPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("decode preview cache failed", zap.String("path", s.path), zap.Error(err))
		return entries
	}
	if payload.Version != storeVersion {
		s.logger.Warn("preview cache version mismatch",
			zap.Int("got", payload.Version),
			zap.Int("want", storeVersion),
		)
		return entries
	}

	for key, raw := range payload.Entries {
		if raw.PreviewText == "" {
			continue
		}
		fetchedAt, err := decodeFetchedAt(raw.FetchedAt)
		if err != nil {
			s.logger.Debug("skip cache entry with bad timestamp", zap.String("url", key), zap.Error(err))
			continue
		}
		entries[key] = Entry{Text: raw.PreviewText, FetchedAt: fetchedAt}
	}
	return entries
}

// Save atomically rewrites the payload with the positive, unexpired entries.
func (s *Store) Save(entries map[string]Entry, now time.Time, ttl time.Duration) error {
	payload := diskWritePayload{
		Version: storeVersion,
		Entries: make(map[string]diskWriteEntry),
	}
	for key, entry := range entries {
		if entry.Text == "" {
			continue
		}
		if now.Sub(entry.FetchedAt) > ttl {
			continue
		}
		payload.Entries[key] = diskWriteEntry{
			PreviewText: entry.Text,
			FetchedAt:   entry.FetchedAt.Unix(),
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode preview cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".previews-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// decodeFetchedAt accepts integer or floating Unix seconds, RFC-3339 strings,
// and legacy floats counted from the 2001-01-01 reference epoch.
func decodeFetchedAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing fetchedAt")
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		if seconds < unixEpochThreshold {
			seconds += altEpochOffset
		}
		sec, frac := math.Modf(seconds)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse fetchedAt %q: %w", value, err)
		}
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unsupported fetchedAt encoding %s", raw)
}
