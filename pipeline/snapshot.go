// ABOUTME: Whole-snapshot JSON persistence for session state.
// ABOUTME: Atomic replace via temp file and rename; load creates an empty state on first touch.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the snapshot filename inside every session directory.
const StateFileName = "state.json"

// LoadState reads the snapshot from sessionDir. When no snapshot exists yet
// an empty state named after the directory is created, persisted and
// returned. A snapshot that exists but cannot be decoded is a hard error;
// the session is not silently reset.
func LoadState(sessionDir string) (*SessionState, error) {
	path := filepath.Join(sessionDir, StateFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		state := NewSessionState(filepath.Base(sessionDir))
		if err := SaveState(sessionDir, state); err != nil {
			return nil, err
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt state snapshot %s: %w", path, err)
	}
	state.normalize()
	return &state, nil
}

// SaveState writes the full snapshot, replacing the previous one only once
// the new file is completely on disk.
func SaveState(sessionDir string, state *SessionState) error {
	path := filepath.Join(sessionDir, StateFileName)
	return writeJSONAtomic(path, state)
}

// writeJSONAtomic writes v as indented JSON to a temp file in the target
// directory, then renames it over path.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
