// ABOUTME: Session identity and directory layout under the data dir.
// ABOUTME: Session ids are ULIDs; ids coming from requests are validated before touching disk.
package pipeline

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
)

// NewSessionID generates a sortable unique session id.
func NewSessionID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// ValidSessionID reports whether id is safe to use as a directory name:
// non-empty, bounded, and limited to unambiguous filename characters.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// SessionDir resolves a session id to its directory under baseDir without
// creating it. Invalid ids and ids with no directory are NotFoundError.
func SessionDir(baseDir, id string) (string, error) {
	if !ValidSessionID(id) {
		return "", notFound("session", id)
	}
	dir := filepath.Join(baseDir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", notFound("session", id)
	}
	return dir, nil
}

// CreateSession allocates a fresh session: a new id, its directory, and a
// persisted empty state snapshot.
func CreateSession(baseDir string) (string, string, error) {
	id := NewSessionID()
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create session dir: %w", err)
	}
	if _, err := LoadState(dir); err != nil {
		return "", "", err
	}
	return id, dir, nil
}
