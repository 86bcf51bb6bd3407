// Package cache is the on-disk audio cache. Final entries live at
// <dir>/<id>.mp3 and in-progress downloads at <dir>/<id>.download; readers
// only ever open the final path.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

const (
	finalExt = ".mp3"
	tempExt  = ".download"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrNotCached is returned by Open for ids without a final entry.
var ErrNotCached = errors.New("not cached")

// ValidID reports whether id is safe to use as a cache key.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Store is a cache directory.
type Store struct {
	dir string
}

// New creates dir if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("creating cache directory: %w", err))
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string { return s.dir }

// Path is the final location of id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+finalExt)
}

// TempPathFor is where fetches for id write before publishing.
func (s *Store) TempPathFor(id string) string {
	return filepath.Join(s.dir, id+tempExt)
}

// Has reports whether a final entry exists for id.
func (s *Store) Has(id string) bool {
	info, err := os.Stat(s.Path(id))
	return err == nil && info.Mode().IsRegular()
}

// Reader streams a cached entry or a byte range of it. Size is the file size
// observed when the entry was opened.
type Reader struct {
	io.Reader
	file    *os.File
	Size    int64
	Start   int64
	End     int64
	Partial bool
	ModTime time.Time
}

// Length is the number of bytes the reader yields.
func (r *Reader) Length() int64 {
	return r.End - r.Start + 1
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Open opens the final entry of id. With a nil rng the whole file is
// returned; otherwise rng is resolved against the current size and a
// *RangeError is returned when it cannot be satisfied.
func (s *Store) Open(id string, rng *Range) (*Reader, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotCached
		}
		return nil, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("opening cache entry: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("stat cache entry: %w", err))
	}
	size := info.Size()
	r := &Reader{file: f, Size: size, ModTime: info.ModTime()}
	if rng == nil {
		r.Reader = io.LimitReader(f, size)
		r.End = size - 1
		return r, nil
	}
	start, end, err := rng.Resolve(size)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.Reader = io.NewSectionReader(f, start, end-start+1)
	r.Start, r.End, r.Partial = start, end, true
	return r, nil
}

// Publish atomically moves src to the final path of id and returns the
// published size. src must be on the same filesystem as the cache.
func (s *Store) Publish(id, src string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("temp file for %s missing: %w", id, err))
	}
	if !info.Mode().IsRegular() {
		return 0, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("temp file for %s is not a regular file", id))
	}
	if err := os.Rename(src, s.Path(id)); err != nil {
		_ = os.Remove(src)
		return 0, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("publishing %s: %w", id, err))
	}
	return info.Size(), nil
}

// Discard removes the temp file of id, if any.
func (s *Store) Discard(id string) {
	_ = os.Remove(s.TempPathFor(id))
}

// Entry describes one published file.
type Entry struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// List returns the published entries sorted by id.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, downloader.Wrap(downloader.CategoryCache, fmt.Errorf("listing cache: %w", err))
	}
	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, finalExt) {
			continue
		}
		id := strings.TrimSuffix(name, finalExt)
		if !ValidID(id) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{ID: id, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RemoveStaleTemps deletes leftover temp files from an earlier run and
// reports how many were removed.
func (s *Store) RemoveStaleTemps() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+tempExt))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}
