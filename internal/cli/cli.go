// Package cli implements the animcaptcha command-line interface.
//
// Commands:
//   - generate: render one captcha and print its ground truth
//   - batch: render many captchas concurrently and write a manifest
//   - serve: run the HTTP generation API
//   - config: write or show the effective configuration
//   - cache: manage the artifact cache
//
// All commands support --verbose (-v) for debug logging and --log-file to
// tee logs into a size-rotated file. Loggers are passed through
// context.Context.
package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/animcaptcha/pkg/buildinfo"
	"github.com/matzehuels/animcaptcha/pkg/cache"
	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "animcaptcha"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	stderr  io.Writer
	verbose bool
	logFile string
	closer  io.Closer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		stderr: w,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Animated CAPTCHA generator",
		Long: `animcaptcha renders animated CAPTCHAs: short looping clips in which the
characters only separate from drifting decoys or a scrolling noise field
through motion.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setupLogging(); err != nil {
				return err
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.Close()
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&c.logFile, "log-file", "", "also write logs to this file (rotated at 10 MB)")

	root.AddCommand(c.generateCommand())
	root.AddCommand(c.batchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setupLogging applies --verbose and --log-file.
func (c *CLI) setupLogging() error {
	level := LogInfo
	if c.verbose {
		level = LogDebug
	}
	if c.logFile == "" {
		c.SetLogLevel(level)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.logFile), 0o755); err != nil {
		return err
	}
	rotating := newRotatingWriter(c.logFile)
	c.closer = rotating
	c.Logger = newLogger(io.MultiWriter(c.stderr, rotating), level)
	return nil
}

// Close flushes and closes the log file, if any.
func (c *CLI) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner for CLI use.
func (c *CLI) newRunner(noCache bool) (*pipeline.Runner, error) {
	cc, err := newCache(noCache)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(cc, nil, c.Logger), nil
}

func newCache(noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(dir)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/animcaptcha/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// =============================================================================
// Config Helpers
// =============================================================================

// loadConfig reads path, or ./animcaptcha.toml when path is empty. A missing
// default file yields the defaults; a missing explicit file is an error.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Load(config.FileName)
	}
	if _, err := os.Stat(path); err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}
