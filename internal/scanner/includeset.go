package scanner

import (
	"sort"

	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

// IncludeSet maps every include file reachable from a translation unit to
// the FileHash of its contents at scan time.
type IncludeSet struct {
	byPath map[string]ourhash.FileHash
}

func NewIncludeSet() *IncludeSet {
	return &IncludeSet{byPath: make(map[string]ourhash.FileHash)}
}

func (s *IncludeSet) Add(path string, fh ourhash.FileHash) {
	s.byPath[path] = fh
}

func (s *IncludeSet) Has(path string) bool {
	_, ok := s.byPath[path]
	return ok
}

func (s *IncludeSet) Get(path string) (ourhash.FileHash, bool) {
	fh, ok := s.byPath[path]
	return fh, ok
}

func (s *IncludeSet) Len() int {
	return len(s.byPath)
}

// AsSortedPaths returns the include paths in a deterministic order, so that
// manifest entries built from an IncludeSet are reproducible.
func (s *IncludeSet) AsSortedPaths() []string {
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
