package driver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ccwrap/ccwrap/internal/classify"
	"github.com/ccwrap/ccwrap/internal/common"
	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

// errSourceTimeMacroPresent signals that the main source file itself
// expands __TIME__ or __DATE__: direct mode can't safely cache it, since
// the source's own bytes never change between builds even though the
// macro's value does. Every caller treats this exactly like any other
// applySourceCode error — a direct-mode miss, falling through to
// preprocessor mode for this invocation.
var errSourceTimeMacroPresent = errors.New("source file uses __TIME__ or __DATE__")

// applyCommonFields mixes in the fields calculate_common_hash mixes before
// the direct-mode and preprocessor-mode hashes diverge: the version tag,
// the intermediate extension, the compiler's identity, its basename, the
// cwd (if HashDir), every extra_files entry, then every hash-participating
// argument token.
func applyCommonFields(h *ourhash.Hasher, cfg common.Configuration, compilerPath string, cwd string, lang string, cls *classify.Result, cppMode bool) error {
	h.Delimiter("version")
	h.UpdateString("1")

	h.Delimiter("ext")
	h.UpdateString(classify.PreprocessedExtensionForLanguage(lang))

	if err := hashCompilerIdentity(h, cfg, compilerPath); err != nil {
		return err
	}

	h.Delimiter("cc_name")
	h.UpdateString(filepath.Base(compilerPath))

	if cfg.HashDir {
		h.Delimiter("cwd")
		h.UpdateString(cwd)
	}

	for _, extra := range cfg.ExtraFiles {
		fh, err := ourhash.HashFile(extra)
		if err != nil {
			return err
		}
		h.Delimiter("extrafile")
		h.Update(fh.Digest[:])
	}

	var excluded map[string]bool
	if cppMode && len(cls.CppModeExcluded) > 0 {
		excluded = make(map[string]bool, len(cls.CppModeExcluded))
		for _, a := range cls.CppModeExcluded {
			excluded[a] = true
		}
	}

	for _, a := range cls.HashArgs {
		if a == "" || excluded[a] {
			continue
		}
		h.Delimiter("arg")
		h.UpdateString(a)
	}

	if cls.SpecsFile != "" {
		fh, err := ourhash.HashFile(cls.SpecsFile)
		if err != nil {
			return err
		}
		h.Delimiter("specs")
		h.Update(fh.Digest[:])
	}

	return nil
}

func hashCompilerIdentity(h *ourhash.Hasher, cfg common.Configuration, compilerPath string) error {
	switch cfg.CompilerCheck {
	case "none":
		return nil
	case "content":
		h.Delimiter("cc_content")
		fh, err := ourhash.HashFile(compilerPath)
		if err != nil {
			return err
		}
		h.Update(fh.Digest[:])
		return nil
	default: // "mtime"
		h.Delimiter("cc_content")
		info, err := os.Stat(compilerPath)
		if err != nil {
			return err
		}
		h.UpdateString(info.ModTime().String())
		h.UpdateString(strconv.FormatInt(info.Size(), 10))
		return nil
	}
}

// applySourceCode mixes the direct-mode-only "inputfile"/"sourcecode"
// fields: the input file's name (unless SloppyFileMacro) and its contents,
// scanning those contents for __TIME__/__DATE__ the same way the scanner
// does for include files (subject to SloppyTimeMacros) so a source file
// that embeds the build time never gets a stale direct-mode hit.
func applySourceCode(h *ourhash.Hasher, cfg common.Configuration, inputFile string) error {
	if cfg.Sloppiness&common.SloppyFileMacro == 0 {
		h.Delimiter("inputfile")
		h.UpdateString(inputFile)
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		return err
	}

	if cfg.Sloppiness&common.SloppyTimeMacros == 0 &&
		(bytes.Contains(data, []byte("__TIME__")) || bytes.Contains(data, []byte("__DATE__"))) {
		return errSourceTimeMacroPresent
	}

	h.Delimiter("sourcecode")
	h.Update(data)
	return nil
}

func dropEmpty(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.TrimSpace(a) != "" {
			out = append(out, a)
		}
	}
	return out
}
