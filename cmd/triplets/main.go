// Package main is the CLI entry point for sigma-cti-triplets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iyulab/sigma-cti-triplets/internal/config"
	"github.com/iyulab/sigma-cti-triplets/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	verbose    bool
	quiet      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "triplets",
		Short: "Build an EVTX × Sigma × CTI benchmark dataset",
		Long: `triplets runs a detection engine over a corpus of Windows event logs,
joins every detection with its Sigma rule metadata and classifies the rule
references as threat intelligence or not. The result is a dataset of
(log, rule, CTI) triplets with per-technique summaries.

Re-runs only scan log files that have no detection result yet.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Flags parsed fine: runtime errors should not print usage.
			cmd.SilenceUsage = true
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, orchestrator.Options{})
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "triplets.toml", "path to config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only log errors and skip the console report")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	addPipelineFlags(rootCmd, true)
	rootCmd.Flags().Bool("skip-detect", false, "build from existing detection results without running the engine")
	rootCmd.Flags().Bool("detect-only", false, "run detection and stop before building the dataset")
	rootCmd.MarkFlagsMutuallyExclusive("skip-detect", "detect-only")

	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.AddCommand(
		newDetectCmd(),
		newBuildCmd(),
		newRulesCmd(),
		newClassifyCmd(),
		newServeCmd(),
		newQueryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// addPipelineFlags registers the flags shared by the commands that run the
// pipeline. Mode flags only make sense when the engine runs.
func addPipelineFlags(cmd *cobra.Command, withMode bool) {
	cmd.Flags().Int("limit", 0, "process only the first N log files (0 = all)")
	if withMode {
		cmd.Flags().Bool("sigma", false, "pass the Sigma rule directory to the engine")
		cmd.Flags().Bool("compiled", false, "pass the compiled ruleset to the engine (default)")
		cmd.MarkFlagsMutuallyExclusive("sigma", "compiled")
	}
}

func runPipeline(cmd *cobra.Command, opts orchestrator.Options) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	opts.Limit, _ = flags.GetInt("limit")
	if opts.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if useSigma, _ := flags.GetBool("sigma"); useSigma {
		opts.Mode = orchestrator.ModeSigma
	} else {
		opts.Mode = orchestrator.ModeCompiled
	}
	if flags.Lookup("skip-detect") != nil {
		skip, _ := flags.GetBool("skip-detect")
		opts.SkipDetect = opts.SkipDetect || skip
	}
	if flags.Lookup("detect-only") != nil {
		only, _ := flags.GetBool("detect-only")
		opts.DetectOnly = opts.DetectOnly || only
	}
	opts.Quiet = quiet
	opts.Version = fmt.Sprintf("%s (%s)", version, commit)

	orch := orchestrator.New(cfg, opts)
	_, err = orch.Run(cmd.Context())
	return err
}

// loadConfig reads the config file. A missing file is only an error when
// --config was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadOrDefault(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	initLogging(cfg.Log.Level)
	return cfg, nil
}

func initLogging(level string) {
	log.SetFormatter(&log.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if quiet {
		lvl = log.ErrorLevel
	} else if verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
}
