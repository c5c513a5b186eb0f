package filesystem

import (
	"time"
)

// FileScanner is an iterator over the entries of a directory tree.
type FileScanner interface {
	// Next advances to the next entry and returns its info.
	// Returns (FileInfo{}, false) when done or on error; check Err afterwards.
	Next() (FileInfo, bool)

	// Err returns any error that occurred during scanning.
	Err() error
}

// FileInfo contains metadata about a scanned entry.
type FileInfo struct {
	// RelativePath is the path relative to the scan root, using the
	// separator of the filesystem that produced it.
	RelativePath string

	Size    int64
	ModTime time.Time
	IsDir   bool
}

// sliceScanner serves a pre-collected listing. All scanners in this package
// collect eagerly on the first Next call and then iterate.
type sliceScanner struct {
	collect func() ([]FileInfo, error)
	files   []FileInfo
	index   int
	err     error
	scanned bool
}

func newSliceScanner(collect func() ([]FileInfo, error)) *sliceScanner {
	return &sliceScanner{collect: collect, index: -1}
}

// Err returns any error that occurred during scanning.
func (s *sliceScanner) Err() error {
	return s.err
}

// Next advances to the next entry.
func (s *sliceScanner) Next() (FileInfo, bool) {
	if !s.scanned {
		s.files, s.err = s.collect()
		s.scanned = true
	}

	if s.err != nil {
		return FileInfo{}, false
	}

	s.index++
	if s.index >= len(s.files) {
		return FileInfo{}, false
	}

	return s.files[s.index], true
}
