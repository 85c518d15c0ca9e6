package driver

import (
	"testing"
	"time"

	"github.com/ccwrap/ccwrap/internal/classify"
	"github.com/ccwrap/ccwrap/internal/common"
	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

func TestDirectModeHashChangesWithDefineEvenThoughCppModeExcludesIt(t *testing.T) {
	cfg := common.DefaultConfiguration()
	cfg.CompilerCheck = "none"

	clsFoo1, bypass := classify.Classify([]string{"-c", "testdata_missing.cpp", "-o", "a.o", "-DFOO=1"}, "", "")
	if bypass != nil {
		t.Fatalf("unexpected bypass: %v", bypass)
	}
	clsFoo2, bypass := classify.Classify([]string{"-c", "testdata_missing.cpp", "-o", "a.o", "-DFOO=2"}, "", "")
	if bypass != nil {
		t.Fatalf("unexpected bypass: %v", bypass)
	}

	h1 := ourhash.New()
	if err := applyCommonFields(h1, cfg, "/usr/bin/cc", "/work", "c", clsFoo1, false); err != nil {
		t.Fatalf("applyCommonFields: %v", err)
	}
	h2 := ourhash.New()
	if err := applyCommonFields(h2, cfg, "/usr/bin/cc", "/work", "c", clsFoo2, false); err != nil {
		t.Fatalf("applyCommonFields: %v", err)
	}
	if h1.Finalize().Equal(h2.Finalize()) {
		t.Errorf("expected direct-mode hash to change when -DFOO changes value")
	}

	h3 := ourhash.New()
	if err := applyCommonFields(h3, cfg, "/usr/bin/cc", "/work", "c", clsFoo1, true); err != nil {
		t.Fatalf("applyCommonFields: %v", err)
	}
	h4 := ourhash.New()
	if err := applyCommonFields(h4, cfg, "/usr/bin/cc", "/work", "c", clsFoo2, true); err != nil {
		t.Fatalf("applyCommonFields: %v", err)
	}
	if !h3.Finalize().Equal(h4.Finalize()) {
		t.Errorf("expected preprocessor-mode common hash to be unaffected by -DFOO's value, since the preprocessed output carries that difference instead")
	}
}

// TestDisableUnifyAffectsUnifyNotDirectMode pins down the distinction the
// classify.Result.DisableUnify field's own comment draws: a -g flag other
// than -g0 should turn off unified-source canonicalization, not direct
// mode. Compile derives useUnify and enableDirect from it and feeds
// useUnify into objectDigestFromPreprocessed, so this calls that function
// directly with both settings of DisableUnify and checks which behavior
// actually changes.
func TestDisableUnifyAffectsUnifyNotDirectMode(t *testing.T) {
	cfg := common.DefaultConfiguration()
	cfg.CompilerCheck = "none"
	cfg.EnableUnify = true
	cfg.EnableDirect = true

	cls, bypass := classify.Classify([]string{"-c", "testdata_missing.cpp", "-o", "a.o", "-g"}, "", "")
	if bypass != nil {
		t.Fatalf("unexpected bypass: %v", bypass)
	}
	if !cls.DisableUnify {
		t.Fatalf("expected -g to set DisableUnify")
	}

	useUnify := cfg.EnableUnify && !cls.DisableUnify
	enableDirect := cfg.EnableDirect && !useUnify
	if useUnify {
		t.Errorf("expected DisableUnify to suppress unify mode")
	}
	if !enableDirect {
		t.Errorf("expected DisableUnify to leave direct mode enabled, since it only governs unify mode")
	}

	d := &Driver{Cfg: cfg}
	preprocessed := []byte("# 1 \"testdata_missing.cpp\"\nint main(){return 0;}\n")

	objDigest, _, includes, err := d.objectDigestFromPreprocessed(
		"/usr/bin/cc", "/work", "c", cls, preprocessed, nil, enableDirect, useUnify, time.Time{})
	if err != nil {
		t.Fatalf("objectDigestFromPreprocessed: %v", err)
	}
	if includes == nil {
		t.Errorf("expected a non-nil IncludeSet once unify mode is suppressed and the scanner runs instead")
	}
	if objDigest.IsZero() {
		t.Errorf("expected a non-zero object digest")
	}
}

func TestAbsPathLeavesAbsoluteAlone(t *testing.T) {
	if got := absPath("/build", "/abs/main.o"); got != "/abs/main.o" {
		t.Errorf("got %q", got)
	}
}

func TestAbsPathJoinsRelative(t *testing.T) {
	if got := absPath("/build", "main.o"); got != "/build/main.o" {
		t.Errorf("got %q", got)
	}
}

func TestDropEmptyRemovesBlankArgs(t *testing.T) {
	got := dropEmpty([]string{"-Wall", "", "-O2", "  "})
	if len(got) != 2 || got[0] != "-Wall" || got[1] != "-O2" {
		t.Errorf("got %v", got)
	}
}

func TestResolveCompilerOverrideShortCircuitsResolution(t *testing.T) {
	_, err := ResolveCompiler("/usr/bin/ccwrap", "ccwrap", "/usr/bin/ccwrap")
	if err != nil {
		t.Fatalf("override should short-circuit resolution: %v", err)
	}
}
