package common

import "testing"

func TestLoadConfigurationAppliesEnvOverDefault(t *testing.T) {
	env := map[string]string{
		"CCACHE_DIR":     "/tmp/mycache",
		"CCACHE_NLEVELS": "4",
		"CCACHE_HARDLINK": "1",
	}
	cfg := LoadConfiguration(func(k string) string { return env[k] })

	if cfg.CacheDir != "/tmp/mycache" {
		t.Errorf("got cache dir %q", cfg.CacheDir)
	}
	if cfg.NLevels != 4 {
		t.Errorf("got nlevels %d", cfg.NLevels)
	}
	if !cfg.Hardlink {
		t.Errorf("expected hardlink to be enabled")
	}
}

func TestLoadConfigurationClampsNLevels(t *testing.T) {
	env := map[string]string{"CCACHE_NLEVELS": "99"}
	cfg := LoadConfiguration(func(k string) string { return env[k] })
	if cfg.NLevels != 8 {
		t.Errorf("expected nlevels clamped to 8, got %d", cfg.NLevels)
	}
}

func TestParseSloppinessRecognizesAllFlags(t *testing.T) {
	mask := parseSloppiness("file_macro,include_file_mtime time_macros")
	want := SloppyFileMacro | SloppyIncludeFileMtime | SloppyTimeMacros
	if mask != want {
		t.Errorf("got mask %d, want %d", mask, want)
	}
}
