// main.go sets up the command-line interface for the gantry pipeline engine
// using the Cobra library. It defines the root command, subcommands (run,
// validate, history, artifacts, approve, config) and the main entry point.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logging"
)

var version = "dev" // set by the linker

var (
	cfgFile string
	cfg     cliConfig
)

// cliConfig is the gantry.yaml shape. Engine settings translate into the
// library Config; Log only affects the CLI process.
type cliConfig struct {
	Workers  int    `mapstructure:"workers" yaml:"workers"`
	Interval string `mapstructure:"interval" yaml:"interval"`

	History struct {
		DSN string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"history" yaml:"history"`

	Artifacts struct {
		Root string `mapstructure:"root" yaml:"root"`
	} `mapstructure:"artifacts" yaml:"artifacts"`

	Log struct {
		Verbose bool `mapstructure:"verbose" yaml:"verbose"`
	} `mapstructure:"log" yaml:"log"`
}

// configDefaults feed viper before the config file and GANTRY_* environment
// variables are applied.
func configDefaults() map[string]any {
	defaults := map[string]any{
		"workers":  5,
		"interval": "20ms",
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		defaults["artifacts.root"] = filepath.Join(cacheDir, "gantry", "artifacts")
		defaults["history.dsn"] = filepath.Join(cacheDir, "gantry", "history.db")
	}
	return defaults
}

// engineConfig translates the CLI configuration into the library one.
func engineConfig(c cliConfig) (*gantry.Config, error) {
	engine := gantry.DefaultConfig()
	if c.Workers > 0 {
		engine.Processor.WorkerCount = c.Workers
	}
	if c.Interval != "" {
		interval, err := time.ParseDuration(c.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", c.Interval, err)
		}
		engine.Scheduler.PollingInterval = interval
	}
	engine.History.DSN = c.History.DSN
	if c.Artifacts.Root != "" {
		engine.Artifacts.BaseURL = c.Artifacts.Root
	}
	return engine, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command. Tests create
// fresh instances through it for isolation.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry runs declarative CI pipelines locally.",
		Long: `Gantry is a pipeline engine for declarative CI workflows.
A pipeline is a YAML (or JSONC) document of jobs with dependencies,
matrix strategies, conditions and retries. Gantry expands the matrix,
schedules jobs in dependency order and records the outcome.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load[cliConfig](cmd, configDefaults(), &cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				cfg.Log.Verbose = true
			}
			logging.SetVerbose(cfg.Log.Verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newArtifactsCmd())
	cmd.AddCommand(newApproveCmd())
	cmd.AddCommand(newConfigCmd())

	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is gantry.yaml in the user config directory)")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	return cmd
}
