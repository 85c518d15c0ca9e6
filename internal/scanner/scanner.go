// Package scanner reads a preprocessed translation unit, held in memory,
// and extracts the set of include files it pulled in from the compiler's
// and HP's line-marker directives; include files are read memory-mapped.
package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ccwrap/ccwrap/internal/common"
	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

// Options configures one scan of a preprocessed translation unit.
type Options struct {
	InputFile        string // the original source file, never added to the IncludeSet
	BaseDir          string
	Cwd              string // invocation's working directory, used to relativize BaseDir-rooted include paths
	EnableDirect     bool
	Sloppiness       int
	CompileStartTime time.Time
}

// Scan feeds buf into h field by field (the raw bytes up to and including
// each line marker, then the rewritten include path as a delimited field)
// and, when EnableDirect is set, opens and hashes every include file it
// discovers, publishing the result as an IncludeSet. It never fails the
// compile: any problem disables direct mode for this invocation and returns
// a nil IncludeSet, letting the driver continue in preprocessor mode only.
func Scan(h *ourhash.Hasher, buf []byte, opts Options) (*IncludeSet, error) {
	includes := NewIncludeSet()
	directModeBroken := false

	lineStart := 0
	for lineStart < len(buf) {
		lineEnd := bytes.IndexByte(buf[lineStart:], '\n')
		var line []byte
		if lineEnd < 0 {
			line = buf[lineStart:]
		} else {
			line = buf[lineStart : lineStart+lineEnd+1]
		}

		if path, ok := parseLineMarker(line); ok {
			h.Update(buf[lineStart:lineStart+len(line)])
			rewritten := rewriteRelative(opts.BaseDir, opts.Cwd, path)
			h.Delimiter("includefile")
			h.UpdateString(rewritten)

			if opts.EnableDirect && !directModeBroken {
				if err := addInclude(includes, path, rewritten, opts); err != nil {
					directModeBroken = true
				}
			}
		} else {
			h.Update(buf[lineStart : lineStart+len(line)])
		}

		if lineEnd < 0 {
			break
		}
		lineStart += lineEnd + 1
	}

	if directModeBroken {
		return nil, nil
	}
	return includes, nil
}

// Unify canonicalizes a preprocessed translation unit for CCACHE_UNIFY:
// line-marker directives are dropped (so moving a function between files
// doesn't change the hash) and runs of spaces and tabs within a line
// collapse to a single space, so spacing-only changes don't either. Line
// breaks are kept, so adding or removing lines changes the output.
func Unify(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	lineStart := 0
	inSpaceRun := false
	for lineStart < len(buf) {
		lineEnd := bytes.IndexByte(buf[lineStart:], '\n')
		var line []byte
		if lineEnd < 0 {
			line = buf[lineStart:]
		} else {
			line = buf[lineStart : lineStart+lineEnd]
		}

		if _, ok := parseLineMarker(line); !ok {
			for _, b := range line {
				if b == ' ' || b == '\t' {
					inSpaceRun = true
					continue
				}
				if inSpaceRun {
					out = append(out, ' ')
					inSpaceRun = false
				}
				out = append(out, b)
			}
			out = append(out, '\n')
			inSpaceRun = false
		}

		if lineEnd < 0 {
			break
		}
		lineStart += lineEnd + 1
	}
	return out
}

// parseLineMarker recognizes the two line-marker forms ccache watches for:
// `# <digits> "path"` and `#line <digits> "path"`.
func parseLineMarker(line []byte) (path string, ok bool) {
	trimmed := bytes.TrimRight(line, "\r\n")
	s := string(trimmed)

	rest := ""
	switch {
	case strings.HasPrefix(s, "# "):
		rest = s[2:]
	case strings.HasPrefix(s, "#line "):
		rest = s[6:]
	default:
		return "", false
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", false
	}
	if _, err := strconv.Atoi(rest[:i]); err != nil {
		return "", false
	}
	rest = strings.TrimSpace(rest[i:])
	if len(rest) < 2 || rest[0] != '"' {
		return "", false
	}
	closing := strings.IndexByte(rest[1:], '"')
	if closing < 0 {
		return "", false
	}
	return rest[1 : 1+closing], true
}

// rewriteRelative mirrors classify.rewriteRelativeTo: an include path is
// only rewritten if it falls under baseDir, and the rewrite is computed
// relative to cwd rather than baseDir, so identical include graphs under a
// shared base_dir hash the same regardless of which project's directory
// cwd happens to be.
func rewriteRelative(baseDir, cwd, path string) string {
	if baseDir == "" || cwd == "" || !isUnderDir(baseDir, path) {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil {
		return path
	}
	return rel
}

func isUnderDir(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if dir == path {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func addInclude(includes *IncludeSet, path, rewritten string, opts Options) error {
	if path == opts.InputFile || includes.Has(rewritten) {
		return nil
	}
	if strings.HasPrefix(path, "<") && strings.HasSuffix(path, ">") {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	if opts.Sloppiness&common.SloppyIncludeFileMtime == 0 && !opts.CompileStartTime.IsZero() && !info.ModTime().Before(opts.CompileStartTime) {
		return errIncludeTooNew
	}

	contents, err := readWholeFileViaMmap(path)
	if err != nil {
		return err
	}

	if opts.Sloppiness&common.SloppyTimeMacros == 0 && (bytes.Contains(contents, []byte("__TIME__")) || bytes.Contains(contents, []byte("__DATE__"))) {
		return errTimeMacroPresent
	}

	fh, err := ourhash.HashReader(bytes.NewReader(contents))
	if err != nil {
		return err
	}
	includes.Add(rewritten, fh)
	return nil
}

func readWholeFileViaMmap(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unix.Munmap(mapped) }()

	out := make([]byte, len(mapped))
	copy(out, mapped)
	return out, nil
}
