// Package admin implements the administrative command surface: showing and
// resetting statistics, and the cleanup/clear/max-files/max-size knobs,
// bound through cobra and viper the way jamesainslie-sweep's CLI binds its
// flags.
package admin

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ccwrap/ccwrap/internal/common"
	"github.com/ccwrap/ccwrap/internal/stats"
	"github.com/ccwrap/ccwrap/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ccwrap",
	Short: "A transparent compiler cache front-end",
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (default: $CCACHE_DIR or ~/.ccache)")
	_ = viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	rootCmd.AddCommand(versionCmd, showStatsCmd, zeroStatsCmd, cleanupCmd, clearCmd, maxFilesCmd, maxSizeCmd)
}

func initViper() {
	viper.SetEnvPrefix("CCACHE")
	viper.AutomaticEnv()
}

// Execute runs the administrative command tree; it is only reached when
// cmd/ccwrap decides the invocation is not a compiler stand-in.
func Execute() error {
	// cobra parses a leading "-s" or "--show-stats" as a flag, never as a
	// command name, so the dash forms are mapped to their commands here.
	if len(os.Args) >= 2 {
		for _, c := range rootCmd.Commands() {
			for _, alias := range append([]string{"--" + c.Name()}, c.Aliases...) {
				if os.Args[1] == alias {
					rootCmd.SetArgs(append([]string{c.Name()}, os.Args[2:]...))
				}
			}
		}
	}
	return rootCmd.Execute()
}

func resolveCacheDir() string {
	if dir := viper.GetString("cache_dir"); dir != "" {
		return dir
	}
	return common.LoadConfiguration(os.Getenv).CacheDir
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"-V"},
	Short:   "Show version and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(common.GetVersion())
		return nil
	},
}

var showStatsCmd = &cobra.Command{
	Use:     "show-stats",
	Aliases: []string{"-s"},
	Short:   "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveCacheDir()
		counters, err := stats.Aggregate(dir)
		if err != nil {
			return err
		}
		for _, name := range []string{
			stats.CacheMiss, stats.DirectCacheHit, stats.PreprocessorCacheHit,
			stats.CompileFailed, stats.PreprocessFailed, stats.CacheIOError,
			stats.BadCompilerArgs, stats.UnsupportedCompiler,
			stats.CacheSizeKB, stats.FilesInCache,
		} {
			fmt.Printf("%-32s %d\n", name, counters[name])
		}
		return nil
	},
}

var zeroStatsCmd = &cobra.Command{
	Use:     "zero-stats",
	Aliases: []string{"-z"},
	Short:   "Zero cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stats.ZeroAll(resolveCacheDir())
	},
}

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	Aliases: []string{"-c"},
	Short:   "Clean up the cache (size-based LRU eviction is not implemented by this build)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stderr, "cleanup: size-based LRU eviction is not implemented by this build")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	Aliases: []string{"-C"},
	Short:   "Clear the entire cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveCacheDir()
		st := store.New(afero.NewOsFs(), dir, 2, "")
		if err := st.Fs.RemoveAll(dir); err != nil {
			return err
		}
		return st.Fs.MkdirAll(dir, os.ModePerm)
	},
}

var maxFilesCmd = &cobra.Command{
	Use:     "max-files N",
	Aliases: []string{"-F"},
	Short:   "Report a requested maximum number of files (not enforced by this build)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stderr, "max-files: file-count limits are not enforced by this build; requested %s\n", args[0])
		return nil
	},
}

var maxSizeCmd = &cobra.Command{
	Use:     "max-size SIZE",
	Aliases: []string{"-M"},
	Short:   "Report a requested maximum cache size, e.g. 5G, 500M; a bare number means G (not enforced by this build)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size := args[0]
		if n := len(size); n > 0 && size[n-1] >= '0' && size[n-1] <= '9' {
			size += "G"
		}
		bytes, err := humanize.ParseBytes(size)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[0], err)
		}
		fmt.Fprintf(os.Stderr, "max-size: size limits are not enforced by this build; requested %s\n", humanize.Bytes(bytes))
		return nil
	},
}
