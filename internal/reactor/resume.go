// internal/reactor/resume.go
package reactor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultResumeWindow is how long a saved session reference stays valid.
const DefaultResumeWindow = time.Hour

// ResumeRecord points a returning player back at their in-flight session.
type ResumeRecord struct {
	GameID  string `json:"gameId"`
	Role    string `json:"role"`
	SavedAt int64  `json:"savedAt"`
}

// ResumeFile stores the record as a small JSON file, the client-side
// equivalent of a browser's local storage.
type ResumeFile struct {
	path   string
	window time.Duration
	now    func() int64
}

func NewResumeFile(path string, window time.Duration) *ResumeFile {
	if window <= 0 {
		window = DefaultResumeWindow
	}
	return &ResumeFile{
		path:   path,
		window: window,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Save records the session reference with the current time.
func (f *ResumeFile) Save(gameID string, role string) error {
	rec := ResumeRecord{GameID: gameID, Role: role, SavedAt: f.now()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("resume save: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o644); err != nil {
		return fmt.Errorf("resume save: %w", err)
	}
	return nil
}

// Load returns the saved record if it is still inside the freshness window.
// A missing, unreadable or stale record yields (nil, nil): staleness is not
// an error, the player just starts fresh. Stale files are cleared in
// passing.
func (f *ResumeFile) Load() (*ResumeRecord, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resume load: %w", err)
	}
	var rec ResumeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		f.Clear()
		return nil, nil
	}
	if f.now()-rec.SavedAt > f.window.Milliseconds() {
		f.Clear()
		return nil, nil
	}
	return &rec, nil
}

// Clear removes the record; resuming a finished or abandoned session is
// pointless.
func (f *ResumeFile) Clear() {
	_ = os.Remove(f.path)
}
