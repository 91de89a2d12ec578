// Package store writes received messages durably to the local spool.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store writes raw messages under a single spool directory. The zero
// value is not usable; construct with New.
type Store struct {
	dir string
}

// New returns a Store rooted at basePath/incoming.
func New(basePath, incoming string) *Store {
	return &Store{dir: filepath.Join(basePath, incoming)}
}

// Dir returns the spool directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists raw exactly as received and returns the file path. The
// filename combines a timestamp with a fresh UUID so concurrent sessions
// never collide. The directory is created on demand so a freshly
// provisioned host works without manual setup.
func (s *Store) Write(raw string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory %s: %w", s.dir, err)
	}

	name := fmt.Sprintf("%s_%s.eml", time.Now().Format("20060102_150405"), uuid.New())
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("write message file %s: %w", path, err)
	}
	return path, nil
}
