package backup

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/juju/errors"
)

// FileFilter decides which relative paths a job sees at all. Excluded paths
// are neither copied nor pruned.
type FileFilter interface {
	ShouldInclude(key string) bool
}

type includeAll struct{}

func (includeAll) ShouldInclude(string) bool { return true }

// GlobFilter excludes paths matching any of its patterns, case-insensitively.
// A pattern without a slash matches any single path segment, so "node_modules"
// hides that directory wherever it appears; a pattern with a slash matches
// the whole relative path from the root. Everything below an excluded
// directory is excluded too.
type GlobFilter struct {
	segment []string
	full    []string
}

// NewGlobFilter validates and normalizes patterns.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	f := &GlobFilter{}

	for _, raw := range patterns {
		pattern := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "/"))
		if pattern == "" {
			continue
		}

		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.NotValidf("exclude pattern %q", raw)
		}

		if strings.Contains(pattern, "/") {
			f.full = append(f.full, pattern)
		} else {
			f.segment = append(f.segment, pattern)
		}
	}

	return f, nil
}

// ShouldInclude implements FileFilter.
func (f *GlobFilter) ShouldInclude(key string) bool {
	if f == nil || len(f.segment)+len(f.full) == 0 {
		return true
	}

	segments := strings.Split(strings.ToLower(key), "/")

	for i, segment := range segments {
		prefix := strings.Join(segments[:i+1], "/")

		if matchAny(f.segment, segment) || matchAny(f.full, prefix) {
			return false
		}
	}

	return true
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}

	return false
}
