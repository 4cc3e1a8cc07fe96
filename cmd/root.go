// Package cmd implements the matrixci command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/internal/config"
	"github.com/zacharyburnett/matrixci/pkg/logger"
)

// Version is the release version baked into the binary.
const Version = "0.1.0"

var (
	// global flags
	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd is the root command.
var rootCmd = &cobra.Command{
	Use:   "matrixci",
	Short: "Matrix CI workflow runner",
	Long: `matrixci runs YAML-defined CI workflows: trigger matching, matrix
expansion, dependency-ordered jobs and shell steps, either as a one-shot
command line run or as an HTTP service.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code for failures that are expected
// outcomes rather than usage mistakes. An empty message means everything
// worth saying has already been printed.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command and exits the process on failure.
// Exit codes: 0 success, 1 failed or untriggered runs, 2 usage and
// configuration errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func init() {
	// global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./matrixci.yaml, $MATRIXCI_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only print errors")

	// disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetVersionTemplate(fmt.Sprintf("matrixci %s\n", Version))
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig builds the effective configuration: discovered config file,
// then environment variables, then the given command line overrides.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	loader := config.NewLoader()
	if path := config.DiscoverPath(cfgFile); path != "" {
		loader = loader.WithConfigPath(path)
	}
	if len(overrides) > 0 {
		loader = loader.WithOverrides(overrides)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging initializes the global logger from the configuration and
// the global flags. --log-level wins over the config file, --quiet over
// both.
func setupLogging(cfg *config.Config) {
	lc := &logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if quiet {
		lc.Level = "error"
	}
	logger.Init(lc)
}
