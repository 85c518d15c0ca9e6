// Package store implements the content-addressed cache layer: deriving a
// CachePath from a FileHash, staging new artifacts atomically, and
// materializing cached artifacts at the location the compiler would have
// written them, by hardlink or by copy.
package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Store is the cache directory rooted at Dir, backed by an afero.Fs so
// tests can run against an in-memory filesystem instead of touching disk.
type Store struct {
	Fs      afero.Fs
	Dir     string
	NLevels int
	TempDir string // staging area for Stage's temp files; defaults to Dir/tmp when empty

	lastTempID int64 // atomic
}

func New(fs afero.Fs, dir string, nlevels int, tempDir string) *Store {
	return &Store{Fs: fs, Dir: dir, NLevels: nlevels, TempDir: tempDir}
}

// PathOf derives the CachePath for fh under Dir and creates its fan-out
// directories.
func (s *Store) PathOf(fh ourhash.FileHash, suffix string) CachePath {
	p := PathOf(s.Dir, fh, suffix, s.NLevels)
	_ = s.Fs.MkdirAll(p.Dir, os.ModePerm)
	return p
}

// Exists reports whether the cache already holds an artifact at p.
func (s *Store) Exists(p CachePath) bool {
	_, err := s.Fs.Stat(p.Full())
	return err == nil
}

// Stage writes src's contents into the cache at p, through a temp file and
// a rename so concurrent readers never observe a partial file.
func (s *Store) Stage(p CachePath, src io.Reader, compress bool) error {
	if err := s.Fs.MkdirAll(p.Dir, os.ModePerm); err != nil {
		return err
	}

	tmpPath := s.tempPath()
	if err := s.Fs.MkdirAll(filepath.Dir(tmpPath), os.ModePerm); err != nil {
		return err
	}
	tmp, err := s.Fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, os.ModePerm)
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = s.Fs.Remove(tmpPath)
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return s.Fs.Rename(tmpPath, p.Full())
}

// Materialize copies (or hardlinks, when allowed) the cached artifact at p
// to dst, the location the real compiler would have written it.
func (s *Store) Materialize(p CachePath, dst string, hardlink bool) error {
	if err := s.Fs.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}

	compressed, err := s.IsCompressed(p)
	if err != nil {
		return err
	}

	if hardlink && !compressed {
		if _, ok := s.Fs.(*afero.OsFs); ok {
			_ = os.Remove(dst)
			if err := os.Link(p.Full(), dst); err == nil {
				return nil
			}
		}
	}

	return s.copyDecompressing(p, dst, compressed)
}

func (s *Store) copyDecompressing(p CachePath, dst string, compressed bool) error {
	src, err := s.Fs.Open(p.Full())
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := s.Fs.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return err
	}
	defer out.Close()

	var r io.Reader = src
	if compressed {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	_, err = io.Copy(out, r)
	return err
}

func (s *Store) RefreshMtime(p CachePath) error {
	now := timeNow()
	return s.Fs.Chtimes(p.Full(), now, now)
}

// IsCompressed sniffs the gzip magic bytes at the start of the cached file.
func (s *Store) IsCompressed(p CachePath) (bool, error) {
	f, err := s.Fs.Open(p.Full())
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 2)
	n, _ := io.ReadFull(f, head)
	return n == 2 && bytes.Equal(head, gzipMagic), nil
}

func (s *Store) tempPath() string {
	id := atomic.AddInt64(&s.lastTempID, 1)
	dir := s.TempDir
	if dir == "" {
		dir = filepath.Join(s.Dir, "tmp")
	}
	return filepath.Join(dir, fmt.Sprintf("stage.%d.%s", id, uuid.NewString()))
}
