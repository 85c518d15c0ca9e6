package common

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Sloppiness bits, see CCACHE_SLOPPINESS.
const (
	SloppyFileMacro = 1 << iota
	SloppyIncludeFileMtime
	SloppyTimeMacros
)

// Configuration is the immutable, fully-resolved set of knobs threaded
// through the driver for a single invocation. It is assembled once from
// defaults, an optional ini-style config file (CCACHE_CONFIGPATH, read via
// viper), and environment variables, in that order of increasing precedence.
type Configuration struct {
	CacheDir     string
	BaseDir      string
	TempDir      string
	LogFile      string
	ConfigPath   string
	NLevels      int
	EnableDirect bool
	EnableUnify  bool
	EnableGzip   bool
	CompilePreprocessed bool
	CompilerCheck       string // "none" | "mtime" | "content"
	HashDir             bool
	ExtraFiles          []string
	Sloppiness          int
	Recache             bool
	ReadOnly            bool
	Hardlink            bool
	Prefix              string
	Disable             bool
	CompilerOverride    string
	ExtensionOverride   string
	Umask               int
}

func DefaultConfiguration() Configuration {
	return Configuration{
		CacheDir:            defaultCacheDir(),
		NLevels:             2,
		EnableDirect:        true,
		CompilePreprocessed: true,
		CompilerCheck:       "mtime",
		Umask:               -1,
	}
}

// LoadConfiguration builds a Configuration by layering an optional config
// file beneath environment variables: env always wins over the file, and
// the file's values only fill in what the environment leaves unset.
func LoadConfiguration(getenv func(string) string) Configuration {
	cfg := DefaultConfiguration()

	v := viper.New()
	v.SetConfigType("ini")
	if configPath := getenv("CCACHE_CONFIGPATH"); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err == nil {
			cfg.applyViper(v)
		}
	}

	cfg.applyEnv(getenv)
	return cfg
}

func (cfg *Configuration) applyViper(v *viper.Viper) {
	if s := v.GetString("cache_dir"); s != "" {
		cfg.CacheDir = s
	}
	if s := v.GetString("base_dir"); s != "" {
		cfg.BaseDir = s
	}
	// max_files / max_size are not read: no cache size or file-count limit
	// is enforced by this build.
	if v.IsSet("compression") {
		cfg.EnableGzip = v.GetBool("compression")
	}
	if v.IsSet("hardlink") {
		cfg.Hardlink = v.GetBool("hardlink")
	}
}

func (cfg *Configuration) applyEnv(getenv func(string) string) {
	if s := getenv("CCACHE_DIR"); s != "" {
		cfg.CacheDir = s
	}
	if s := getenv("CCACHE_TEMPDIR"); s != "" {
		cfg.TempDir = s
	}
	if s := getenv("CCACHE_LOGFILE"); s != "" {
		cfg.LogFile = s
	}
	if s := getenv("CCACHE_BASEDIR"); s != "" && strings.HasPrefix(s, "/") {
		cfg.BaseDir = s
	}
	if getenv("CCACHE_CPP2") != "" {
		cfg.CompilePreprocessed = false
	}
	if getenv("CCACHE_DISABLE") != "" {
		cfg.Disable = true
	}
	if getenv("CCACHE_READONLY") != "" {
		cfg.ReadOnly = true
	}
	if getenv("CCACHE_RECACHE") != "" {
		cfg.Recache = true
	}
	if getenv("CCACHE_HARDLINK") != "" {
		cfg.Hardlink = true
	}
	if getenv("CCACHE_COMPRESS") != "" {
		cfg.EnableGzip = true
	}
	if getenv("CCACHE_NODIRECT") != "" {
		cfg.EnableDirect = false
	}
	if getenv("CCACHE_UNIFY") != "" {
		cfg.EnableUnify = true
		cfg.EnableDirect = false
	}
	if s := getenv("CCACHE_NLEVELS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			if n < 1 {
				n = 1
			}
			if n > 8 {
				n = 8
			}
			cfg.NLevels = n
		}
	}
	if s := getenv("CCACHE_COMPILERCHECK"); s != "" {
		cfg.CompilerCheck = s
	}
	if getenv("CCACHE_HASHDIR") != "" {
		cfg.HashDir = true
	}
	if s := getenv("CCACHE_EXTRAFILES"); s != "" {
		cfg.ExtraFiles = strings.Split(s, ":")
	}
	if s := getenv("CCACHE_SLOPPINESS"); s != "" {
		cfg.Sloppiness = parseSloppiness(s)
	}
	if s := getenv("CCACHE_CC"); s != "" {
		cfg.CompilerOverride = s
	}
	if s := getenv("CCACHE_EXTENSION"); s != "" {
		cfg.ExtensionOverride = s
	}
	if s := getenv("CCACHE_PREFIX"); s != "" {
		cfg.Prefix = s
	}
	if s := getenv("CCACHE_UMASK"); s != "" {
		if n, err := strconv.ParseInt(s, 8, 32); err == nil {
			cfg.Umask = int(n)
		}
	}
}

func parseSloppiness(s string) int {
	s = strings.ReplaceAll(s, ",", " ")
	mask := 0
	for _, field := range strings.Fields(s) {
		switch field {
		case "file_macro":
			mask |= SloppyFileMacro
		case "include_file_mtime":
			mask |= SloppyIncludeFileMtime
		case "time_macros":
			mask |= SloppyTimeMacros
		}
	}
	return mask
}

func defaultCacheDir() string {
	if home := envHome(); home != "" {
		return home + "/.ccache"
	}
	return "/tmp/.ccache"
}
