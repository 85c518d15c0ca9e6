package store

import (
	"path"
	"strconv"

	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

// CachePath is the location of one artifact under the cache root, derived
// from a FileHash and an artifact-kind suffix (".o", ".stderr", ".d",
// ".manifest"). Two equal FileHashes always yield the same CachePath.
type CachePath struct {
	Dir      string // directory components split off by nlevels
	FileName string // remaining hex digits + "-" + size + suffix
}

func (p CachePath) Full() string {
	return path.Join(p.Dir, p.FileName)
}

// PathOf derives the CachePath for fh under cacheDir, splitting the first
// nlevels hex characters of the digest into directory components.
func PathOf(cacheDir string, fh ourhash.FileHash, suffix string, nlevels int) CachePath {
	hex := fh.HexDigest()
	if nlevels < 1 {
		nlevels = 1
	}
	if nlevels > len(hex)-1 {
		nlevels = len(hex) - 1
	}

	dir := cacheDir
	i := 0
	for ; i < nlevels; i++ {
		dir = path.Join(dir, string(hex[i]))
	}

	fileName := hex[i:] + "-" + strconv.FormatUint(uint64(fh.Size), 10) + suffix
	return CachePath{Dir: dir, FileName: fileName}
}
