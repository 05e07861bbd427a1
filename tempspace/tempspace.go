// Package tempspace manages the set of temporary run files owned by a
// single engine instance: a unique per-engine filename prefix (a
// process-stable id plus a monotonic counter) and best-effort cleanup
// on teardown.
package tempspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
)

// Space owns a directory subtree for one engine's spilled runs.
type Space struct {
	dir    string
	prefix string
	seq    uint64
	paths  []string
}

// New creates a Space rooted at dir (which must already exist) with a
// prefix unique to this instantiation, grounded in a process-stable
// UUID rather than a PID/timestamp combination that could collide
// across restarts within the same second.
func New(dir string) *Space {
	return &Space{
		dir:    dir,
		prefix: "aggcore-" + uuid.NewString(),
	}
}

// Dir returns the directory this Space writes into.
func (s *Space) Dir() string { return s.dir }

// Prefix returns the unique filename prefix for this Space.
func (s *Space) Prefix() string { return s.prefix }

// NextPath returns the path for the next run file, without creating it.
func (s *Space) NextPath() string {
	n := atomic.AddUint64(&s.seq, 1)
	name := fmt.Sprintf("%s-%06d.run", s.prefix, n)
	path := filepath.Join(s.dir, name)
	s.paths = append(s.paths, path)
	return path
}

// Create opens a new run file for writing and returns it along with its
// path.
func (s *Space) Create() (*os.File, string, error) {
	path := s.NextPath()
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// Paths returns every path handed out by NextPath/Create so far.
func (s *Space) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Cleanup removes every file this Space created. It is safe to call
// multiple times and tolerates files that are already gone; the first
// unexpected error (if any) is returned after all paths are attempted.
func (s *Space) Cleanup() error {
	var firstErr error
	remaining := s.paths[:0]
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			remaining = append(remaining, p)
			continue
		}
	}
	s.paths = remaining
	return firstErr
}
