package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Watermark persists the timestamp through which the index is known to be
// current. It survives process restarts and is monotonically non-decreasing.
type Watermark struct {
	path string
}

// NewWatermark creates a watermark store backed by the given state file.
func NewWatermark(path string) *Watermark {
	return &Watermark{path: path}
}

type watermarkState struct {
	LastSync time.Time `json:"last_sync"`
}

// Load reads the persisted watermark. A missing or corrupt state file is an
// error; callers fall back to a default window rather than aborting.
func (w *Watermark) Load() (time.Time, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("read state file: %w", err)
	}

	var state watermarkState
	if err := json.Unmarshal(data, &state); err != nil {
		return time.Time{}, fmt.Errorf("parse state file: %w", err)
	}
	if state.LastSync.IsZero() {
		return time.Time{}, fmt.Errorf("state file has no last_sync")
	}

	return state.LastSync.UTC(), nil
}

// Store persists a new watermark. Values older than the current one are
// ignored, keeping the watermark monotonically non-decreasing.
func (w *Watermark) Store(t time.Time) error {
	if current, err := w.Load(); err == nil && t.Before(current) {
		return nil
	}

	data, err := json.Marshal(watermarkState{LastSync: t.UTC()})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the state file.
	tmp := w.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}
