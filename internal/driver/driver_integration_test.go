package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ccwrap/ccwrap/internal/common"
	"github.com/ccwrap/ccwrap/internal/stats"
	"github.com/ccwrap/ccwrap/internal/store"
)

// fakeCompiler writes a tiny shell script standing in for a real compiler:
// on "-E" it echoes the source file back out as if it were already
// preprocessed (no #include lines, so no scanning surprises); otherwise it
// writes a fixed byte sequence to -o's argument and exits 0. This is
// enough to drive the driver through a real cold-miss-then-warm-hit cycle
// without depending on a real C/C++ toolchain being installed.
func fakeCompiler(t *testing.T, dir string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
input=""
for arg in "$@"; do
  case "$prev" in
    -o) out="$arg" ;;
  esac
  prev="$arg"
  case "$arg" in
    *.cpp) input="$arg" ;;
  esac
done
for arg in "$@"; do
  if [ "$arg" = "-E" ]; then
    echo '# 1 "'"$input"'"'
    cat "$input"
    exit 0
  fi
done
echo "object-bytes" > "$out"
exit 0
`
	path := filepath.Join(dir, "fakecxx")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake compiler: %v", err)
	}
	return path
}

func newTestDriver(t *testing.T, cacheDir string) *Driver {
	t.Helper()
	logger, err := common.MakeLogger("", -1, true, false)
	if err != nil {
		t.Fatalf("MakeLogger: %v", err)
	}
	cfg := common.DefaultConfiguration()
	cfg.CacheDir = cacheDir
	cfg.EnableDirect = false // the fake compiler's -E output carries no include markers worth direct-mode probing
	st := store.New(afero.NewOsFs(), cacheDir, 2, "")
	return New(cfg, st, logger)
}

func TestColdMissThenWarmHit(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	compiler := fakeCompiler(t, work)
	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	exit1 := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work)
	if exit1 != 0 {
		t.Fatalf("first compile: exit %d", exit1)
	}
	data1, err := os.ReadFile(obj)
	if err != nil {
		t.Fatalf("reading object after first compile: %v", err)
	}

	if err := os.Remove(obj); err != nil {
		t.Fatalf("removing object: %v", err)
	}

	exit2 := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work)
	if exit2 != 0 {
		t.Fatalf("second compile: exit %d", exit2)
	}
	data2, err := os.ReadFile(obj)
	if err != nil {
		t.Fatalf("reading object after second compile: %v", err)
	}

	if string(data1) != string(data2) {
		t.Errorf("expected identical object contents across cold and warm runs, got %q vs %q", data1, data2)
	}
}

func findCachedObject(t *testing.T, cacheDir string) string {
	t.Helper()
	var found string
	_ = filepath.Walk(cacheDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".o") {
			found = path
		}
		return nil
	})
	if found == "" {
		t.Fatalf("no cached object found under %s", cacheDir)
	}
	return found
}

func TestWarmHitRefreshesCachedObjectMtime(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	compiler := fakeCompiler(t, work)
	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	if exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work); exit != 0 {
		t.Fatalf("first compile: exit %d", exit)
	}

	cached := findCachedObject(t, cacheDir)
	stale := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(cached, stale, stale); err != nil {
		t.Fatalf("backdating cached object: %v", err)
	}

	if err := os.Remove(obj); err != nil {
		t.Fatalf("removing object: %v", err)
	}
	if exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work); exit != 0 {
		t.Fatalf("second compile: exit %d", exit)
	}

	info, err := os.Stat(cached)
	if err != nil {
		t.Fatalf("stat cached object after warm hit: %v", err)
	}
	if !info.ModTime().After(stale) {
		t.Errorf("expected the warm hit to refresh the cached object's mtime past %v, got %v", stale, info.ModTime())
	}
}

// recordingCompiler writes a shell script standing in for a real compiler
// that appends every argv it receives (one line per invocation) to logPath,
// then behaves like fakeCompiler for -E/-o so the driver's cache-miss path
// completes normally.
func recordingCompiler(t *testing.T, dir, logPath string) string {
	t.Helper()
	script := `#!/bin/sh
echo "$@" >> "` + logPath + `"
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then
    out="$arg"
  fi
  prev="$arg"
done
for arg in "$@"; do
  if [ "$arg" = "-E" ]; then
    last=""
    for a2 in "$@"; do
      case "$a2" in
        -*) ;;
        *) last="$a2" ;;
      esac
    done
    echo '# 1 "'"$last"'"'
    cat "$last"
    exit 0
  fi
done
echo "object-bytes" > "$out"
exit 0
`
	path := filepath.Join(dir, "recordcxx")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing recording compiler: %v", err)
	}
	return path
}

func TestCompilePreprocessedModeFeedsCompilerTheIntermediateFile(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")
	logPath := filepath.Join(work, "argv.log")

	compiler := recordingCompiler(t, work, logPath)

	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work)
	if exit != 0 {
		t.Fatalf("compile: exit %d", exit)
	}

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading argv log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(logged), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected both a preprocess and a compile invocation to be logged, got %q", logged)
	}
	compileLine := lines[len(lines)-1]
	if !strings.Contains(compileLine, "-x c++-cpp-output") {
		t.Errorf("expected the compile step to pass -x c++-cpp-output, got %q", compileLine)
	}
	if strings.Contains(compileLine, "main.cpp") {
		t.Errorf("expected the compile step to use the preprocessed temp file, not main.cpp directly, got %q", compileLine)
	}
	if !strings.Contains(compileLine, "-c ") {
		t.Errorf("expected the compile step to pass -c, got %q", compileLine)
	}
	if !strings.Contains(compileLine, "-o "+obj) {
		t.Errorf("expected the compile step to pass -o %s, got %q", obj, compileLine)
	}
}

func TestFailureTransparencyWhenCompilerFails(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	script := "#!/bin/sh\necho compile error 1>&2\nexit 1\n"
	compiler := filepath.Join(work, "failcxx")
	if err := os.WriteFile(compiler, []byte(script), 0755); err != nil {
		t.Fatalf("writing failing compiler: %v", err)
	}
	src := filepath.Join(work, "main.cpp")
	_ = os.WriteFile(src, []byte("broken"), 0644)

	d := newTestDriver(t, cacheDir)
	exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", filepath.Join(work, "main.o")}, work)
	if exit == 0 {
		t.Fatalf("expected non-zero exit when the real compiler fails")
	}
}

// stdoutCompiler behaves like fakeCompiler for -E, but on the actual compile
// step it writes something to stdout before producing the object, the way
// a compiler emitting an unexpected warning or diagnostic to stdout would.
func stdoutCompiler(t *testing.T, dir string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
input=""
for arg in "$@"; do
  case "$prev" in
    -o) out="$arg" ;;
  esac
  prev="$arg"
  case "$arg" in
    *.cpp) input="$arg" ;;
  esac
done
for arg in "$@"; do
  if [ "$arg" = "-E" ]; then
    echo '# 1 "'"$input"'"'
    cat "$input"
    exit 0
  fi
done
echo "unexpected diagnostic on stdout"
echo "object-bytes" > "$out"
exit 0
`
	path := filepath.Join(dir, "stdoutcxx")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing stdout-emitting compiler: %v", err)
	}
	return path
}

// emptyObjectCompiler behaves like fakeCompiler for -E, but the compile step
// always produces a zero-byte object file.
func emptyObjectCompiler(t *testing.T, dir string) string {
	t.Helper()
	script := `#!/bin/sh
out=""
input=""
for arg in "$@"; do
  case "$prev" in
    -o) out="$arg" ;;
  esac
  prev="$arg"
  case "$arg" in
    *.cpp) input="$arg" ;;
  esac
done
for arg in "$@"; do
  if [ "$arg" = "-E" ]; then
    echo '# 1 "'"$input"'"'
    cat "$input"
    exit 0
  fi
done
: > "$out"
exit 0
`
	path := filepath.Join(dir, "emptyobjcxx")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing empty-object compiler: %v", err)
	}
	return path
}

func countCachedObjects(t *testing.T, cacheDir string) int {
	t.Helper()
	count := 0
	_ = filepath.Walk(cacheDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".o") {
			count++
		}
		return nil
	})
	return count
}

func TestNonEmptyStdoutBypassesTheCacheInsteadOfStagingTheObject(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	compiler := stdoutCompiler(t, work)
	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work)
	if exit != 0 {
		t.Fatalf("compile: exit %d", exit)
	}
	data, err := os.ReadFile(obj)
	if err != nil {
		t.Fatalf("reading object: %v", err)
	}
	if string(data) != "object-bytes\n" {
		t.Errorf("expected the object the real compiler produced, got %q", data)
	}

	if n := countCachedObjects(t, cacheDir); n != 0 {
		t.Errorf("expected nothing staged into the cache when the compiler writes to stdout, found %d cached objects", n)
	}
}

func TestCompileAndStoreIncrementsCacheSizeAndFileCounters(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	compiler := fakeCompiler(t, work)
	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	if exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work); exit != 0 {
		t.Fatalf("compile: exit %d", exit)
	}

	counters, err := stats.Aggregate(cacheDir)
	if err != nil {
		t.Fatalf("aggregating stats: %v", err)
	}
	if counters[stats.FilesInCache] <= 0 {
		t.Errorf("expected files_in_cache to be incremented after a cold miss, got %d", counters[stats.FilesInCache])
	}
	if counters[stats.CacheSizeKB] < 0 {
		t.Errorf("expected cache_size_kb to be non-negative, got %d", counters[stats.CacheSizeKB])
	}
}

func TestEmptyObjectBypassesTheCacheInsteadOfStagingIt(t *testing.T) {
	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")

	compiler := emptyObjectCompiler(t, work)
	src := filepath.Join(work, "main.cpp")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	d := newTestDriver(t, cacheDir)
	obj := filepath.Join(work, "main.o")

	exit := d.Compile(filepath.Join(work, "ccwrap"), []string{compiler, "-c", src, "-o", obj}, work)
	if exit != 0 {
		t.Fatalf("compile: exit %d", exit)
	}
	info, err := os.Stat(obj)
	if err != nil {
		t.Fatalf("stat object: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected the fallback compiler's empty object to be left in place, got %d bytes", info.Size())
	}

	if n := countCachedObjects(t, cacheDir); n != 0 {
		t.Errorf("expected nothing staged into the cache when the compiler produces an empty object, found %d cached objects", n)
	}
}
