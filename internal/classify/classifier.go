// Package classify implements the argument classifier: it turns a compiler
// invocation's argv into the preprocessor argument list, the compiler
// argument list, and the subset of arguments that participate in the hash,
// or signals that the cache should be bypassed entirely.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccwrap/ccwrap/internal/common"
)

// hashExcludedInPreprocessorMode holds the option prefixes that do NOT
// participate in the hash when running in preprocessor mode, because their
// effect is already captured by hashing the preprocessor's output. In
// direct mode these same options DO participate, since there is no
// preprocessed output to stand in for them.
var hashExcludedInPreprocessorMode = []string{
	"-D", "-I", "-U",
	"-idirafter", "-imacros", "-imultilib", "-include",
	"-iprefix", "-iquote", "-isysroot", "-isystem",
	"-iwithprefix", "-iwithprefixbefore",
	"-nostdinc", "-nostdinc++",
}

// pathRewriteOptions holds options whose following (or attached) path
// argument should be rewritten relative to BaseDir before being forwarded.
var pathRewriteOptions = []string{
	"-I", "-idirafter", "-imacros", "-include", "-iprefix", "-isystem",
}

// Bypass describes why the classifier refused to attempt caching at all;
// the driver must fall back to running the real compiler unmodified.
type Bypass struct {
	Reason string
}

func (b *Bypass) Error() string { return b.Reason }

// Result is the outcome of classifying one invocation's argv.
type Result struct {
	InputFile     string
	OutputObj     string
	OutputDep     string
	ExplicitLang  string
	InputCharset  string

	GeneratingDeps bool
	DepTargetSet   bool // -MT/-MQ given explicitly: suppress default -MT injection

	Debug3           bool // -g3 seen: forces CompilePreprocessed off
	DisableUnify     bool // any -g other than -g0 seen
	DisableDirect    bool // -Xpreprocessor or an unrecognized -Wp, form seen

	PreprocessorArgs []string
	CompilerArgs     []string
	HashArgs         []string // every option that must be part of some hash
	CppModeExcluded  []string // subset of HashArgs redundant once the preprocessed output is hashed

	SpecsFile string // --specs=FILE path, hashed by content instead of name
}

// Classify implements the rules of SPEC_FULL.md §4.2. argv excludes the
// compiler name itself (argv[0] of the real invocation). cwd is the
// invocation's working directory, used to relativize path arguments that
// fall under baseDir.
func Classify(argv []string, baseDir, cwd string) (*Result, *Bypass) {
	r := &Result{
		PreprocessorArgs: make([]string, 0, len(argv)),
		CompilerArgs:     make([]string, 0, len(argv)),
		HashArgs:         make([]string, 0, len(argv)),
	}

	hasC := false
	sawOutputDash := false
	nInputs := 0

	takeNext := func(i *int) (string, bool) {
		if *i+1 >= len(argv) {
			return "", false
		}
		*i++
		return argv[*i], true
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		switch {
		case arg == "-E", arg == "-M", arg == "-MM",
			arg == "--coverage", arg == "-fbranch-probabilities",
			arg == "-fprofile-arcs", arg == "-fprofile-generate", arg == "-fprofile-use",
			arg == "-ftest-coverage", arg == "-save-temps":
			return nil, &Bypass{Reason: fmt.Sprintf("unsupported option: %s", arg)}

		case strings.HasPrefix(arg, "@"):
			return nil, &Bypass{Reason: "response files are not supported"}

		case arg == "-arch":
			if _, ok := takeNext(&i); ok {
				return nil, &Bypass{Reason: "multi-arch compilation is not supported"}
			}
			return nil, &Bypass{Reason: "-arch with no argument"}

		case arg == "-Xpreprocessor":
			// Too hard to reason about in direct mode: the preprocessor sees
			// something the compiler's own hash args don't capture.
			// Preprocessor-mode caching still works, since the preprocessed
			// output itself ends up hashed either way.
			r.DisableDirect = true
			r.PreprocessorArgs = append(r.PreprocessorArgs, arg)
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.HashArgs = append(r.HashArgs, arg)
			continue

		case strings.HasPrefix(arg, "-Wp,"):
			if arg == "-Wp,-MD" || strings.HasPrefix(arg, "-Wp,-MD,") ||
				arg == "-Wp,-MMD" || strings.HasPrefix(arg, "-Wp,-MMD,") {
				r.GeneratingDeps = true
				r.CompilerArgs = append(r.CompilerArgs, arg)
				r.HashArgs = append(r.HashArgs, arg)
				continue
			}
			r.DisableDirect = true
			r.PreprocessorArgs = append(r.PreprocessorArgs, arg)
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.HashArgs = append(r.HashArgs, arg)
			continue

		case arg == "-c":
			hasC = true
			continue

		case arg == "-o" || (strings.HasPrefix(arg, "-o") && arg != "-o"):
			if arg == "-o" {
				val, ok := takeNext(&i)
				if !ok {
					return nil, &Bypass{Reason: "-o with no argument"}
				}
				r.OutputObj = val
			} else {
				r.OutputObj = strings.TrimPrefix(arg, "-o")
			}
			if r.OutputObj == "-" {
				sawOutputDash = true
			}
			continue

		case arg == "-x" || strings.HasPrefix(arg, "-x"):
			var val string
			var ok bool
			if arg == "-x" {
				val, ok = takeNext(&i)
			} else {
				val, ok = strings.TrimPrefix(arg, "-x"), true
			}
			if !ok {
				return nil, &Bypass{Reason: "-x with no argument"}
			}
			r.ExplicitLang = val
			continue

		case arg == "-MF":
			val, ok := takeNext(&i)
			if !ok {
				return nil, &Bypass{Reason: "-MF with no argument"}
			}
			r.OutputDep = val
			r.CompilerArgs = append(r.CompilerArgs, "-MF", val)
			continue

		case arg == "-MT" || arg == "-MQ":
			if _, ok := takeNext(&i); !ok {
				return nil, &Bypass{Reason: fmt.Sprintf("%s with no argument", arg)}
			}
			r.DepTargetSet = true
			r.CompilerArgs = append(r.CompilerArgs, arg, argv[i])
			r.HashArgs = append(r.HashArgs, arg, argv[i])
			continue

		case arg == "-MD" || arg == "-MMD":
			r.GeneratingDeps = true
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.HashArgs = append(r.HashArgs, arg)
			continue

		case strings.HasPrefix(arg, "-finput-charset="):
			r.InputCharset = arg
			continue

		case arg == "--specs" || strings.HasPrefix(arg, "--specs="):
			var val string
			var ok bool
			if arg == "--specs" {
				val, ok = takeNext(&i)
			} else {
				val, ok = strings.TrimPrefix(arg, "--specs="), true
			}
			if !ok {
				return nil, &Bypass{Reason: "--specs with no argument"}
			}
			r.SpecsFile = val
			r.CompilerArgs = append(r.CompilerArgs, "--specs="+val)
			continue

		case arg == "--ccache-skip":
			if _, ok := takeNext(&i); !ok {
				return nil, &Bypass{Reason: "--ccache-skip with no argument"}
			}
			r.CompilerArgs = append(r.CompilerArgs, argv[i])
			continue

		case arg == "-L":
			if _, ok := takeNext(&i); !ok {
				return nil, &Bypass{Reason: "-L with no argument"}
			}
			r.CompilerArgs = append(r.CompilerArgs, "-L", argv[i])
			r.PreprocessorArgs = append(r.PreprocessorArgs, "-L", argv[i])
			continue

		case strings.HasPrefix(arg, "-L"):
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.PreprocessorArgs = append(r.PreprocessorArgs, arg)
			continue

		case isPathRewriteOption(arg):
			opt, val, consumed := splitOptionAndPath(arg, argv, i)
			if consumed == 0 {
				return nil, &Bypass{Reason: fmt.Sprintf("%s with no argument", arg)}
			}
			i += consumed - 1
			rewritten := rewriteRelativeTo(baseDir, cwd, val)
			combined := opt + rewritten
			r.PreprocessorArgs = append(r.PreprocessorArgs, opt, rewritten)
			r.CompilerArgs = append(r.CompilerArgs, opt, rewritten)
			r.HashArgs = append(r.HashArgs, combined)
			if isHashExcludedInPreprocessorMode(opt) {
				r.CppModeExcluded = append(r.CppModeExcluded, combined)
			}
			continue

		case strings.HasPrefix(arg, "-g"):
			r.PreprocessorArgs = append(r.PreprocessorArgs, arg)
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.HashArgs = append(r.HashArgs, arg)
			if arg == "-g3" {
				r.Debug3 = true
			}
			if arg != "-g0" {
				r.DisableUnify = true
			}
			continue

		case isHashExcludedInPreprocessorMode(arg):
			// -D/-U and friends, given as one token ("-DFOO") or as the bare
			// option followed by its value ("-D FOO"): forwarded always, but
			// redundant in the preprocessor-mode hash since their effect is
			// already visible in the preprocessed output itself. Both forms
			// hash as the same combined token.
			tokens := []string{arg}
			switch arg {
			case "-D", "-U", "-imultilib", "-iquote", "-isysroot", "-iwithprefix", "-iwithprefixbefore":
				val, ok := takeNext(&i)
				if !ok {
					return nil, &Bypass{Reason: fmt.Sprintf("%s with no argument", arg)}
				}
				tokens = append(tokens, val)
			}
			combined := strings.Join(tokens, "")
			r.PreprocessorArgs = append(r.PreprocessorArgs, tokens...)
			r.CompilerArgs = append(r.CompilerArgs, tokens...)
			r.HashArgs = append(r.HashArgs, combined)
			r.CppModeExcluded = append(r.CppModeExcluded, combined)
			continue

		case looksLikeInputFile(arg, cwd):
			if r.InputFile != "" {
				return nil, &Bypass{Reason: "multiple input files are not supported"}
			}
			r.InputFile = arg
			nInputs++
			continue

		default:
			r.PreprocessorArgs = append(r.PreprocessorArgs, arg)
			r.CompilerArgs = append(r.CompilerArgs, arg)
			r.HashArgs = append(r.HashArgs, arg)
		}
	}

	if !hasC {
		return nil, &Bypass{Reason: "no -c option: not a compile-only invocation"}
	}
	if sawOutputDash {
		return nil, &Bypass{Reason: "-o - is not supported"}
	}
	if r.InputFile == "" {
		return nil, &Bypass{Reason: "no input file"}
	}
	if r.ExplicitLang == "" {
		if _, ok := LanguageForFile(r.InputFile); !ok {
			return nil, &Bypass{Reason: "unsupported source extension"}
		}
	}

	if r.GeneratingDeps && r.OutputDep == "" {
		r.OutputDep = common.ReplaceFileExt(filepath.Base(r.OutputObj), ".d")
		r.CompilerArgs = append(r.CompilerArgs, "-MF", r.OutputDep)
		if !r.DepTargetSet {
			r.CompilerArgs = append(r.CompilerArgs, "-MT", r.OutputObj)
		}
	}

	if r.InputCharset != "" {
		r.PreprocessorArgs = append(r.PreprocessorArgs, r.InputCharset)
	}
	if r.ExplicitLang != "" {
		r.PreprocessorArgs = append(r.PreprocessorArgs, "-x", r.ExplicitLang)
	}

	return r, nil
}

func isPathRewriteOption(arg string) bool {
	for _, opt := range pathRewriteOptions {
		if arg == opt || strings.HasPrefix(arg, opt) {
			return true
		}
	}
	return false
}

func isHashExcludedInPreprocessorMode(arg string) bool {
	for _, opt := range hashExcludedInPreprocessorMode {
		if strings.HasPrefix(arg, opt) {
			return true
		}
	}
	return false
}

// splitOptionAndPath handles both "-I dir" (two tokens) and "-Idir" (one
// token) forms, returning how many argv slots (1 or 2) were consumed.
func splitOptionAndPath(arg string, argv []string, i int) (opt string, val string, consumed int) {
	for _, o := range pathRewriteOptions {
		if arg == o {
			if i+1 >= len(argv) {
				return o, "", 0
			}
			return o, argv[i+1], 2
		}
		if strings.HasPrefix(arg, o) {
			return o, strings.TrimPrefix(arg, o), 1
		}
	}
	return "", "", 0
}

// rewriteRelativeTo mirrors ccache's make_relative_path: a path is only a
// candidate for rewriting if it falls under baseDir, and once it is, the
// rewrite is computed relative to cwd (not baseDir) so that two projects
// with identical layouts under a shared baseDir hash to the same relative
// paths regardless of which one cwd happens to be in.
func rewriteRelativeTo(baseDir, cwd, path string) string {
	if baseDir == "" || cwd == "" || path == "" || path[0] != '/' {
		return path
	}
	if !isUnderDir(baseDir, path) {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil {
		return path
	}
	return rel
}

// isUnderDir reports whether path is dir itself or lies inside it.
func isUnderDir(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if dir == path {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// looksLikeInputFile decides whether arg is a candidate input file: either
// it has a recognized source extension, or (failing that) it names a
// regular file that actually exists, mirroring ccache's stat(argv[i])
// fallback. The second case still goes on to fail classification with
// "unsupported source extension" once the language can't be determined,
// rather than silently being forwarded as an ordinary passthrough token.
func looksLikeInputFile(arg, cwd string) bool {
	if len(arg) == 0 || arg[0] == '-' {
		return false
	}
	if idx := strings.LastIndexByte(arg, '.'); idx >= 0 {
		if _, ok := languageForExtension[arg[idx:]]; ok {
			return true
		}
	}
	return isRegularFile(resolveAgainstCwd(cwd, arg))
}

func resolveAgainstCwd(cwd, path string) string {
	if cwd == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
