// Package driver sequences the direct-mode lookup, the preprocessor-mode
// lookup, and the real compiler invocation that together decide whether a
// compilation is a cache hit or a cache miss, and materializes the result
// either way.
package driver

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccwrap/ccwrap/internal/classify"
	"github.com/ccwrap/ccwrap/internal/common"
	ourhash "github.com/ccwrap/ccwrap/internal/hash"
	"github.com/ccwrap/ccwrap/internal/manifest"
	"github.com/ccwrap/ccwrap/internal/scanner"
	"github.com/ccwrap/ccwrap/internal/stats"
	"github.com/ccwrap/ccwrap/internal/store"
)

// Driver owns the cache store and configuration shared by every
// compilation it runs; Configuration is immutable and threaded through
// read-only, matching the rest of the codebase's ownership style.
type Driver struct {
	Cfg    common.Configuration
	Store  *store.Store
	Logger *common.LoggerWrapper
}

func New(cfg common.Configuration, st *store.Store, logger *common.LoggerWrapper) *Driver {
	return &Driver{Cfg: cfg, Store: st, Logger: logger}
}

// Compile runs one compiler invocation through the cache. wrapperSelfPath
// is the path the wrapper binary was executed as (used for the recursive-
// invocation guard); invocation is [compilerName, arg...] exactly as given
// on the command line; cwd is the invocation's working directory.
func (d *Driver) Compile(wrapperSelfPath string, invocation []string, cwd string) int {
	if len(invocation) == 0 {
		return 1
	}
	compilerName, args := invocation[0], invocation[1:]
	startTime := time.Now()

	if d.Cfg.Disable {
		return d.fallback(compilerName, args, cwd)
	}

	compilerPath, err := ResolveCompiler(wrapperSelfPath, compilerName, d.Cfg.CompilerOverride)
	if err != nil {
		d.Logger.Error("cannot resolve real compiler", compilerName, err)
		return d.fallback(compilerName, args, cwd)
	}

	cls, bypass := classify.Classify(args, d.Cfg.BaseDir, cwd)
	if bypass != nil {
		d.Logger.Info(1, "bypass", bypass.Reason)
		// No object digest exists yet, so this counter has no bucket to live in.
		_ = stats.Increment(d.Cfg.CacheDir, stats.BadCompilerArgs, 1)
		return d.fallback(compilerPath, args, cwd)
	}

	lang := cls.ExplicitLang
	if lang == "" {
		if l, ok := classify.LanguageForFile(cls.InputFile); ok {
			lang = l
		}
	}

	useUnify := d.Cfg.EnableUnify && !cls.DisableUnify
	enableDirect := d.Cfg.EnableDirect && !useUnify && !cls.DisableDirect

	if enableDirect && !d.Cfg.Recache {
		if hit, digest := d.tryDirect(compilerPath, cwd, lang, cls); hit {
			_ = stats.Increment(stats.BucketDir(d.Cfg.CacheDir, digest.HexDigest()), stats.DirectCacheHit, 1)
			d.Logger.Info(0, "direct cache hit", cls.InputFile, digest.HexDigest())
			return 0
		}
	}

	preprocessed, cppStderr, cppOK := d.runPreprocessor(compilerPath, cwd, cls)
	if !cppOK {
		_ = stats.Increment(d.Cfg.CacheDir, stats.PreprocessFailed, 1)
		return d.fallback(compilerPath, args, cwd)
	}

	objDigest, directDigest, includeSet, err := d.objectDigestFromPreprocessed(compilerPath, cwd, lang, cls, preprocessed, cppStderr, enableDirect, useUnify, startTime)
	if err != nil {
		d.Logger.Error("failed hashing preprocessed output", err)
		_ = stats.Increment(d.Cfg.CacheDir, stats.CacheIOError, 1)
		return d.fallback(compilerPath, args, cwd)
	}

	if !d.Cfg.Recache {
		if d.tryFromCacheCPP(objDigest, cls) {
			_ = stats.Increment(stats.BucketDir(d.Cfg.CacheDir, objDigest.HexDigest()), stats.PreprocessorCacheHit, 1)
			if enableDirect && includeSet != nil {
				d.updateManifest(directDigest, objDigest, includeSet)
			}
			d.Logger.Info(0, "preprocessor cache hit", cls.InputFile, objDigest.HexDigest())
			return 0
		}
	}

	if d.Cfg.ReadOnly {
		return d.fallback(compilerPath, args, cwd)
	}

	exitCode, needsFallback := d.compileAndStore(compilerPath, cwd, lang, cls, preprocessed, objDigest, cppStderr)
	if needsFallback {
		return d.fallback(compilerPath, args, cwd)
	}
	if exitCode == 0 && enableDirect && includeSet != nil {
		d.updateManifest(directDigest, objDigest, includeSet)
	}
	bucket := stats.BucketDir(d.Cfg.CacheDir, objDigest.HexDigest())
	if exitCode == 0 {
		_ = stats.Increment(bucket, stats.CacheMiss, 1)
	} else {
		_ = stats.Increment(bucket, stats.CompileFailed, 1)
	}
	return exitCode
}

// tryDirect attempts the direct-mode lookup: hash the source file itself
// (no preprocessor run needed), look up a manifest by that digest, and if
// found, probe every one of its include files against the current
// filesystem.
func (d *Driver) tryDirect(compilerPath, cwd, lang string, cls *classify.Result) (hit bool, digest ourhash.FileHash) {
	h := ourhash.New()
	if err := applyCommonFields(h, d.Cfg, compilerPath, cwd, lang, cls, false); err != nil {
		return false, ourhash.FileHash{}
	}
	if err := applySourceCode(h, d.Cfg, cls.InputFile); err != nil {
		return false, ourhash.FileHash{}
	}
	digest = h.Finalize()

	manifestPath := d.Store.PathOf(digest, ".manifest")
	m, err := manifest.Load(manifestPath.Full())
	if err != nil {
		return false, digest
	}

	objHash, found := m.Get(func(path string) (ourhash.FileHash, error) {
		return ourhash.HashFile(path)
	})
	if !found {
		return false, digest
	}

	if !d.materializeFromStore(objHash, cls) {
		return false, digest
	}
	_ = d.Store.RefreshMtime(manifestPath)
	return true, digest
}

// runPreprocessor invokes the real compiler's preprocessing step (or, for
// an already-preprocessed input, reads it directly) and returns the output
// together with the preprocessor's captured stderr.
func (d *Driver) runPreprocessor(compilerPath, cwd string, cls *classify.Result) (preprocessed []byte, cppStderr []byte, ok bool) {
	if classify.LanguageIsPreprocessed(languageOrDefault(cls)) {
		data, err := os.ReadFile(absPath(cwd, cls.InputFile))
		if err != nil {
			return nil, nil, false
		}
		return data, nil, true
	}

	ppArgs := make([]string, 0, len(cls.PreprocessorArgs)+2)
	ppArgs = append(ppArgs, dropEmpty(cls.PreprocessorArgs)...)
	ppArgs = append(ppArgs, "-E", cls.InputFile)

	result := run(compilerPath, ppArgs, cwd)
	if result.ExitCode != 0 {
		return nil, result.Stderr, false
	}
	return result.Stdout, result.Stderr, true
}

func languageOrDefault(cls *classify.Result) string {
	if cls.ExplicitLang != "" {
		return cls.ExplicitLang
	}
	if l, ok := classify.LanguageForFile(cls.InputFile); ok {
		return l
	}
	return ""
}

// objectDigestFromPreprocessed computes the preprocessor-mode hash on a
// fresh Hasher: it applies the common fields, feeds the preprocessed bytes
// through the scanner (or through Unify when useUnify is set) and mixes in
// the captured stderr. It also returns the direct-mode digest so the manifest can be
// updated under that key once the scanner has produced an IncludeSet.
func (d *Driver) objectDigestFromPreprocessed(compilerPath, cwd, lang string, cls *classify.Result, preprocessed, cppStderr []byte, enableDirect, useUnify bool, startTime time.Time) (objDigest, directDigest ourhash.FileHash, includes *scanner.IncludeSet, err error) {
	h := ourhash.New()
	if err = applyCommonFields(h, d.Cfg, compilerPath, cwd, lang, cls, true); err != nil {
		return
	}

	if useUnify {
		h.Delimiter("unified")
		h.Update(scanner.Unify(preprocessed))
	} else {
		includes, err = scanner.Scan(h, preprocessed, scanner.Options{
			InputFile:        cls.InputFile,
			BaseDir:          d.Cfg.BaseDir,
			Cwd:              cwd,
			EnableDirect:     enableDirect,
			Sloppiness:       d.Cfg.Sloppiness,
			CompileStartTime: startTime,
		})
		if err != nil {
			return
		}
	}

	h.Delimiter("cppstderr")
	h.Update(cppStderr)

	objDigest = h.Finalize()

	if enableDirect {
		dh := ourhash.New()
		if derr := applyCommonFields(dh, d.Cfg, compilerPath, cwd, lang, cls, false); derr == nil {
			if derr := applySourceCode(dh, d.Cfg, cls.InputFile); derr == nil {
				directDigest = dh.Finalize()
			}
		}
	}

	return objDigest, directDigest, includes, nil
}

// tryFromCacheCPP checks whether the object for objDigest is already in
// the store and, if so, materializes it (and its dep/stderr siblings) at
// the locations the compiler invocation asked for.
func (d *Driver) tryFromCacheCPP(objDigest ourhash.FileHash, cls *classify.Result) bool {
	return d.materializeFromStore(objDigest, cls)
}

// materializeFromStore restores a cache hit's object (and, if generated,
// dependency) file into the invocation's output paths, and refreshes every
// touched cache entry's mtime so it reads as recently used to whatever LRU
// cleanup policy the cache eventually runs, matching original_source/
// ccache.c's from_cache() calling update_mtime() on every hit.
func (d *Driver) materializeFromStore(objDigest ourhash.FileHash, cls *classify.Result) bool {
	objPath := d.Store.PathOf(objDigest, ".o")
	if !d.Store.Exists(objPath) {
		return false
	}
	if cls.GeneratingDeps {
		depPath := d.Store.PathOf(objDigest, ".d")
		if !d.Store.Exists(depPath) {
			return false
		}
		if err := d.Store.Materialize(depPath, cls.OutputDep, false); err != nil {
			return false
		}
		_ = d.Store.RefreshMtime(depPath)
	}

	if err := d.Store.Materialize(objPath, cls.OutputObj, d.Cfg.Hardlink); err != nil {
		return false
	}
	_ = d.Store.RefreshMtime(objPath)

	stderrPath := d.Store.PathOf(objDigest, ".stderr")
	if d.Store.Exists(stderrPath) {
		if f, err := d.Store.Fs.Open(stderrPath.Full()); err == nil {
			if data, err := io.ReadAll(f); err == nil && len(data) > 0 {
				_, _ = os.Stderr.Write(data)
			}
			_ = f.Close()
		}
		_ = d.Store.RefreshMtime(stderrPath)
	}

	return true
}

// compileAndStore runs the real compiler, and on success stages its
// outputs into the store keyed by objDigest. When CompilePreprocessed is
// set (and -g3 hasn't forced it off), it compiles from the already-
// preprocessed bytes instead of re-reading the original source, saving a
// second preprocessing pass inside the real compiler. If the compiler
// produces unexpected output — anything on stdout, an empty object file, or
// no object file at all — the attempt is abandoned uncached and needsFallback is returned true so
// the caller reruns the original invocation directly, matching
// original_source/ccache.c's to_cache()/failed() pair.
func (d *Driver) compileAndStore(compilerPath, cwd, lang string, cls *classify.Result, preprocessed []byte, objDigest ourhash.FileHash, cppStderr []byte) (exitCode int, needsFallback bool) {
	compileArgs := make([]string, 0, len(cls.CompilerArgs)+6)
	if d.Cfg.Prefix != "" {
		compileArgs = append(compileArgs, strings.Fields(d.Cfg.Prefix)...)
	}
	compileArgs = append(compileArgs, dropEmpty(cls.CompilerArgs)...)
	compileArgs = append(compileArgs, "-c")

	sourceArg := cls.InputFile
	tmpSource := ""
	if d.Cfg.CompilePreprocessed && !cls.Debug3 && !classify.LanguageIsPreprocessed(lang) {
		if cppLang, ok := classify.CppOutputLanguageFor(lang); ok {
			ext := classify.PreprocessedExtensionForLanguage(lang)
			if d.Cfg.ExtensionOverride != "" {
				ext = d.Cfg.ExtensionOverride
			}
			if name, err := writePreprocessedToTemp(cwd, ext, preprocessed); err == nil {
				tmpSource = name
				sourceArg = tmpSource
				compileArgs = append(compileArgs, "-x", cppLang)
			}
		}
	}
	if tmpSource != "" {
		defer os.Remove(tmpSource)
	} else if cls.InputCharset != "" {
		compileArgs = append(compileArgs, cls.InputCharset)
	}
	compileArgs = append(compileArgs, sourceArg, "-o", cls.OutputObj)

	result := run(compilerPath, compileArgs, cwd)

	if len(result.Stdout) > 0 {
		d.Logger.Info(0, "compiler produced stdout, bypassing the cache for this compile", cls.InputFile)
		return 0, true
	}

	mergedStderr := append(append([]byte{}, cppStderr...), result.Stderr...)
	_, _ = os.Stderr.Write(mergedStderr)

	if result.ExitCode != 0 {
		return result.ExitCode, false
	}

	objAbs := absPath(cwd, cls.OutputObj)
	info, err := os.Stat(objAbs)
	if err != nil {
		d.Logger.Error("compiler exited 0 but produced no object file", objAbs)
		return 0, true
	}
	if info.Size() == 0 {
		d.Logger.Info(0, "compiler produced an empty object file, bypassing the cache for this compile", objAbs)
		return 0, true
	}

	var addedBytes int64
	var addedFiles int64

	objPath := d.Store.PathOf(objDigest, ".o")
	if f, err := os.Open(objAbs); err == nil {
		_ = d.Store.Stage(objPath, f, d.Cfg.EnableGzip)
		_ = f.Close()
		addedBytes += info.Size()
		addedFiles++
	}

	stderrPath := d.Store.PathOf(objDigest, ".stderr")
	_ = d.Store.Stage(stderrPath, strings.NewReader(string(mergedStderr)), false)
	addedBytes += int64(len(mergedStderr))
	addedFiles++

	if cls.GeneratingDeps {
		depAbs := absPath(cwd, cls.OutputDep)
		if depInfo, err := os.Stat(depAbs); err == nil {
			if f, err := os.Open(depAbs); err == nil {
				depPath := d.Store.PathOf(objDigest, ".d")
				_ = d.Store.Stage(depPath, f, d.Cfg.EnableGzip)
				_ = f.Close()
				addedBytes += depInfo.Size()
				addedFiles++
			}
		}
	}

	bucket := stats.BucketDir(d.Cfg.CacheDir, objDigest.HexDigest())
	_ = stats.Increment(bucket, stats.FilesInCache, addedFiles)
	_ = stats.Increment(bucket, stats.CacheSizeKB, addedBytes/1024)

	return 0, false
}

func (d *Driver) updateManifest(directDigest, objDigest ourhash.FileHash, includes *scanner.IncludeSet) {
	if directDigest.IsZero() {
		return
	}
	manifestPath := d.Store.PathOf(directDigest, ".manifest")
	m, err := manifest.Load(manifestPath.Full())
	if err != nil {
		return
	}

	paths := includes.AsSortedPaths()
	_, _ = m.Put(objDigest, paths, func(p string) ourhash.FileHash {
		fh, _ := includes.Get(p)
		return fh
	})

	if err := os.MkdirAll(manifestPath.Dir, os.ModePerm); err != nil {
		return
	}
	_ = m.Save(manifestPath.Full())
}

// fallback runs the real compiler exactly as invoked, stripping any
// --ccache-* arguments, and forwards its stdio and exit code. This is the
// universal error path: the cache must never make a compile fail that
// would otherwise succeed.
func (d *Driver) fallback(compilerPath string, args []string, cwd string) int {
	filtered := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "--ccache-") {
			continue
		}
		filtered = append(filtered, a)
	}

	result := run(compilerPath, filtered, cwd)
	_, _ = os.Stdout.Write(result.Stdout)
	_, _ = os.Stderr.Write(result.Stderr)
	return result.ExitCode
}

// writePreprocessedToTemp stages the preprocessor's output at a temp path
// beside cwd, carrying the intermediate extension the real compiler expects
// for that language, and returns its absolute path.
func writePreprocessedToTemp(cwd, ext string, data []byte) (string, error) {
	f, err := os.CreateTemp(cwd, "ccwrap-cpp-*"+ext)
	if err != nil {
		return "", err
	}
	name := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		_ = os.Remove(name)
		return "", werr
	}
	if cerr != nil {
		_ = os.Remove(name)
		return "", cerr
	}
	return name, nil
}

func absPath(cwd, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}
