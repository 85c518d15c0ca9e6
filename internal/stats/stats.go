// Package stats implements the per-cache-bucket statistics counter file:
// a small set of named counters, guarded by an advisory lock so concurrent
// compiler-cache invocations sharing a bucket never corrupt it.
package stats

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Counter names, matching the original program's stats.c entries that are
// still meaningful without its LRU/cleanup machinery.
const (
	CacheMiss            = "cache_miss"
	DirectCacheHit       = "direct_cache_hit"
	PreprocessorCacheHit = "preprocessor_cache_hit"
	CompileFailed        = "compile_failed"
	PreprocessFailed     = "preprocess_failed"
	CacheIOError         = "cache_io_error"
	BadCompilerArgs      = "bad_compiler_args"
	UnsupportedCompiler  = "unsupported_compiler_invocation"
	CacheSizeKB          = "cache_size_kb"
	FilesInCache         = "files_in_cache"
)

var counterOrder = []string{
	CacheMiss, DirectCacheHit, PreprocessorCacheHit,
	CompileFailed, PreprocessFailed, CacheIOError,
	BadCompilerArgs, UnsupportedCompiler,
	CacheSizeKB, FilesInCache,
}

const statsFileName = "stats"
const lockFileName = ".lock"

// bucketChars enumerates the single hex character every bucket directory is
// named after, matching the first directory level of the digest sharding
// PathOf uses for cache entries themselves.
var bucketChars = []byte("0123456789abcdef")

// BucketDir returns the counter directory for an object digest's hex form,
// named after its first character the same way the cache store shards its
// own entries. Counters recorded before any object digest exists (argument
// or preprocessing failures) are not bucketed at all; callers pass the
// cache root directly for those, the same way the counter file this was
// ported from has no notion of a bucket until an object name is known.
func BucketDir(cacheDir, hexDigest string) string {
	if hexDigest == "" {
		return cacheDir
	}
	return filepath.Join(cacheDir, hexDigest[:1])
}

// Aggregate sums the global (unbucketed) counters together with every
// bucket's counters, giving the show-stats view across the whole cache.
func Aggregate(cacheDir string) (map[string]int64, error) {
	total := make(map[string]int64, len(counterOrder))
	dirs := append([]string{cacheDir}, bucketDirs(cacheDir)...)
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, statsFileName)); err != nil {
			continue
		}
		values, err := Snapshot(dir)
		if err != nil {
			return nil, err
		}
		for name, v := range values {
			total[name] += v
		}
	}
	return total, nil
}

// ZeroAll resets the global counters and every bucket's counters.
func ZeroAll(cacheDir string) error {
	if err := Zero(cacheDir); err != nil {
		return err
	}
	for _, dir := range bucketDirs(cacheDir) {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := Zero(dir); err != nil {
			return err
		}
	}
	return nil
}

func bucketDirs(cacheDir string) []string {
	dirs := make([]string, 0, len(bucketChars))
	for _, c := range bucketChars {
		dirs = append(dirs, filepath.Join(cacheDir, string(c)))
	}
	return dirs
}

// Increment adds delta to counter in the counter file under dir, taking an
// advisory flock on dir/.lock for the duration of the read-modify-write.
func Increment(dir, counter string, delta int64) error {
	return withLock(dir, func() error {
		values, err := readCounters(dir)
		if err != nil {
			return err
		}
		values[counter] += delta
		return writeCounters(dir, values)
	})
}

// Snapshot returns the current counter values under dir.
func Snapshot(dir string) (map[string]int64, error) {
	var values map[string]int64
	err := withLock(dir, func() error {
		v, err := readCounters(dir)
		values = v
		return err
	})
	return values, err
}

// Zero resets every counter under dir to 0.
func Zero(dir string) error {
	return withLock(dir, func() error {
		return writeCounters(dir, map[string]int64{})
	})
}

func withLock(dir string, fn func() error) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	return fn()
}

func readCounters(dir string) (map[string]int64, error) {
	values := make(map[string]int64, len(counterOrder))
	path := filepath.Join(dir, statsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	for i := 0; i+8 <= len(data) && i/8 < len(counterOrder); i += 8 {
		values[counterOrder[i/8]] = int64(binary.BigEndian.Uint64(data[i : i+8]))
	}
	return values, nil
}

func writeCounters(dir string, values map[string]int64) error {
	buf := make([]byte, 8*len(counterOrder))
	for i, name := range counterOrder {
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], uint64(values[name]))
	}
	tmp := filepath.Join(dir, statsFileName+".tmp")
	if err := os.WriteFile(tmp, buf, 0666); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, statsFileName))
}
