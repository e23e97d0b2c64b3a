// Package source provides the frame source: an ordered list of image file
// paths gathered once at startup, with cyclic indexed access.
//
// The scan is one-shot. Files added to the directory after Load are not
// picked up; re-scanning is intentionally not supported.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrPathNotFound is returned when the image directory does not exist.
	// Non-fatal: the returned Source is empty and the publish loop runs idle.
	ErrPathNotFound = errors.New("source: image directory not found")

	// ErrNoFrames is returned when the directory exists but contains no
	// image files. Non-fatal, same idle behavior as ErrPathNotFound.
	ErrNoFrames = errors.New("source: no image files found")
)

// imageExts is the extension allow-list, matched case-insensitively.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Source holds the ordered frame paths and the playback cursor.
//
// The path list is immutable after Load. The cursor is only mutated by
// Next, which the publish loop calls from a single serialized tick, so
// Source itself needs no locking.
type Source struct {
	paths  []string
	cursor int
}

// Load scans dir non-recursively for jpg/jpeg/png files and returns them
// sorted lexicographically for deterministic playback order.
//
// On ErrPathNotFound or ErrNoFrames the returned Source is non-nil and
// empty, so callers can degrade to an idle loop instead of failing.
func Load(dir string) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Source{}, fmt.Errorf("%w: %s", ErrPathNotFound, dir)
		}
		return &Source{}, fmt.Errorf("source: reading %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if imageExts[ext] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(paths)

	if len(paths) == 0 {
		return &Source{}, fmt.Errorf("%w: %s", ErrNoFrames, dir)
	}

	return &Source{paths: paths}, nil
}

// Next returns the path at the current cursor and advances it, wrapping to
// zero at the end of the sequence.
//
// Calling Next on an empty source panics; the publish loop guards with Len.
func (s *Source) Next() string {
	path := s.paths[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.paths)
	return path
}

// Len returns the number of frames discovered at load time.
func (s *Source) Len() int {
	return len(s.paths)
}

// Cursor returns the index of the next frame to emit.
func (s *Source) Cursor() int {
	return s.cursor
}
