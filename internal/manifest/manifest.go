package manifest

import (
	"bytes"
	"os"

	"github.com/ccwrap/ccwrap/internal/common"
	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

// IncludeHasher resolves the current contents of an include path to a
// FileHash, used by Get to decide whether a stored entry still matches the
// files on disk. In production the driver passes a wrapper around
// hash.HashFile; tests supply a fake.
type IncludeHasher func(path string) (ourhash.FileHash, error)

// Load reads a manifest file at path, returning an empty Manifest (not an
// error) if the file is absent or fails its structural checks — a
// corrupted or missing manifest is always just a cache miss.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, err
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return empty(), nil
	}
	return m, nil
}

// Save rewrites the manifest file at path atomically (temp file + rename).
func (m *Manifest) Save(path string) error {
	if err := common.MkdirForFile(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	if err := m.Encode(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get probes every entry's include set against the filesystem (via hashIt)
// and returns the object hash of the first entry whose every include file
// still matches. It returns found=false if no entry matches or the
// manifest is empty.
func (m *Manifest) Get(hashIt IncludeHasher) (obj ourhash.FileHash, found bool) {
	for _, e := range m.entries {
		if entryMatches(e, hashIt) {
			return e.Object, true
		}
	}
	return ourhash.FileHash{}, false
}

func entryMatches(e Entry, hashIt IncludeHasher) bool {
	for _, inc := range e.Includes {
		fh, err := hashIt(inc.path)
		if err != nil || !fh.Equal(inc.hash) {
			return false
		}
	}
	return true
}

// Put appends a new entry mapping includePaths (by path, with their FileHash
// taken from lookup) to objectHash, unless an identical entry already
// exists or the manifest's pools are already at capacity.
func (m *Manifest) Put(objectHash ourhash.FileHash, includePaths []string, lookup func(path string) ourhash.FileHash) (added bool, err error) {
	if m.poolEntryCount()+len(includePaths) > maxPoolEntries {
		return false, nil
	}

	entry := Entry{Object: objectHash, Includes: make([]pathRef, 0, len(includePaths))}
	for _, p := range includePaths {
		entry.Includes = append(entry.Includes, pathRef{path: p, hash: lookup(p)})
	}

	for _, existing := range m.entries {
		if entriesEqual(existing, entry) {
			return false, nil
		}
	}

	m.entries = append(m.entries, entry)
	return true, nil
}

func entriesEqual(a, b Entry) bool {
	if !a.Object.Equal(b.Object) || len(a.Includes) != len(b.Includes) {
		return false
	}
	for i := range a.Includes {
		if a.Includes[i].path != b.Includes[i].path || !a.Includes[i].hash.Equal(b.Includes[i].hash) {
			return false
		}
	}
	return true
}

// RoundTrip is a convenience used by tests to exercise Encode followed by
// Decode without touching the filesystem.
func RoundTrip(m *Manifest) (*Manifest, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return Decode(&buf)
}
