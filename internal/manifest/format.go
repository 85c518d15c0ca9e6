// Package manifest implements the direct-mode manifest: a persistent,
// gzip-compressed, bit-exact binary structure mapping a source file's
// common-hash to the set of (include-file digest ⇒ object digest)
// associations that were valid the last time it was compiled.
package manifest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

var magic = [4]byte{'c', 'C', 'm', 'F'}

const (
	formatVersion = 0
	hashSize      = 16

	maxPoolEntries = 16384
)

var errBadManifest = errors.New("manifest: not a valid manifest file")

// pathRef is an include path together with the FileHash of its expected
// contents.
type pathRef struct {
	path string
	hash ourhash.FileHash
}

// Entry is one manifest association: a set of include files (by path and
// expected contents) that, together, identify a single object.
type Entry struct {
	Includes []pathRef
	Object   ourhash.FileHash
}

// Manifest holds the decoded entries of one manifest file; Encode rebuilds
// the path and hash pools from them.
type Manifest struct {
	entries []Entry
}

func empty() *Manifest {
	return &Manifest{}
}

// Decode parses the gzip-wrapped bit-exact binary layout described in
// SPEC_FULL.md §6. Any structural problem (bad magic, bad version, short
// read, corrupt gzip stream) is reported by returning errBadManifest; the
// caller treats that exactly like "no manifest exists yet".
func Decode(r io.Reader) (*Manifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errBadManifest
	}
	defer gz.Close()

	br := bufio.NewReader(gz)

	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, errBadManifest
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] || hdr[3] != magic[3] {
		return nil, errBadManifest
	}
	version := hdr[4]
	hsize := hdr[5]
	if version != formatVersion || hsize != hashSize {
		return nil, errBadManifest
	}

	paths, err := readPathPool(br)
	if err != nil {
		return nil, errBadManifest
	}
	pool, err := readHashPool(br, paths)
	if err != nil {
		return nil, errBadManifest
	}
	entries, err := readEntries(br, pool)
	if err != nil {
		return nil, errBadManifest
	}

	return &Manifest{entries: entries}, nil
}

func readPathPool(br *bufio.Reader) ([]string, error) {
	n, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	paths := make([]string, n)
	for i := uint32(0); i < n; i++ {
		s, err := br.ReadString(0)
		if err != nil {
			return nil, err
		}
		paths[i] = s[:len(s)-1]
	}
	return paths, nil
}

func readHashPool(r io.Reader, paths []string) ([]pathRef, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	pool := make([]pathRef, n)
	for i := uint32(0); i < n; i++ {
		pathIndex, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if int(pathIndex) >= len(paths) {
			return nil, errBadManifest
		}
		var digest [hashSize]byte
		if _, err := io.ReadFull(r, digest[:]); err != nil {
			return nil, err
		}
		size, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		pool[i] = pathRef{path: paths[pathIndex], hash: ourhash.FileHash{Digest: digest, Size: size}}
	}
	return pool, nil
}

func readEntries(r io.Reader, pool []pathRef) ([]Entry, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, n)
	for i := uint32(0); i < n; i++ {
		m, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		includes := make([]pathRef, m)
		for j := uint32(0); j < m; j++ {
			idx, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			if int(idx) >= len(pool) {
				return nil, errBadManifest
			}
			includes[j] = pool[idx]
		}
		var digest [hashSize]byte
		if _, err := io.ReadFull(r, digest[:]); err != nil {
			return nil, err
		}
		size, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		entries[i] = Entry{Includes: includes, Object: ourhash.FileHash{Digest: digest, Size: size}}
	}
	return entries, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// Encode serializes m in the format Decode reads, gzip-compressed.
func (m *Manifest) Encode(w io.Writer) error {
	gz := gzip.NewWriter(w)

	var hdr [8]byte
	copy(hdr[0:4], magic[:])
	hdr[4] = formatVersion
	hdr[5] = hashSize
	if _, err := gz.Write(hdr[:]); err != nil {
		return err
	}

	pathIndex := map[string]uint32{}
	var paths []string
	for _, e := range m.entries {
		for _, inc := range e.Includes {
			if _, ok := pathIndex[inc.path]; !ok {
				pathIndex[inc.path] = uint32(len(paths))
				paths = append(paths, inc.path)
			}
		}
	}
	if err := writeUint32(gz, uint32(len(paths))); err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := gz.Write(append([]byte(p), 0)); err != nil {
			return err
		}
	}

	type poolKey struct {
		pathIdx uint32
		digest  [hashSize]byte
		size    uint32
	}
	poolIndex := map[poolKey]uint32{}
	var pool []pathRef
	keyFor := func(pr pathRef) poolKey {
		return poolKey{pathIdx: pathIndex[pr.path], digest: pr.hash.Digest, size: pr.hash.Size}
	}
	for _, e := range m.entries {
		for _, inc := range e.Includes {
			k := keyFor(inc)
			if _, ok := poolIndex[k]; !ok {
				poolIndex[k] = uint32(len(pool))
				pool = append(pool, inc)
			}
		}
	}
	if err := writeUint32(gz, uint32(len(pool))); err != nil {
		return err
	}
	for _, pr := range pool {
		if err := writeUint32(gz, pathIndex[pr.path]); err != nil {
			return err
		}
		if _, err := gz.Write(pr.hash.Digest[:]); err != nil {
			return err
		}
		if err := writeUint32(gz, pr.hash.Size); err != nil {
			return err
		}
	}

	if err := writeUint32(gz, uint32(len(m.entries))); err != nil {
		return err
	}
	for _, e := range m.entries {
		if err := writeUint32(gz, uint32(len(e.Includes))); err != nil {
			return err
		}
		for _, inc := range e.Includes {
			if err := writeUint32(gz, poolIndex[keyFor(inc)]); err != nil {
				return err
			}
		}
		if _, err := gz.Write(e.Object.Digest[:]); err != nil {
			return err
		}
		if err := writeUint32(gz, e.Object.Size); err != nil {
			return err
		}
	}

	return gz.Close()
}

// poolEntryCount counts the distinct (path, hash) pairs, i.e. the hash
// pool's size; the path pool never holds more entries than that, so a cap
// on this count caps both pools.
func (m *Manifest) poolEntryCount() int {
	seen := map[pathRef]bool{}
	for _, e := range m.entries {
		for _, inc := range e.Includes {
			seen[inc] = true
		}
	}
	return len(seen)
}
