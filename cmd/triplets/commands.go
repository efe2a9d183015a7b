package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iyulab/sigma-cti-triplets/internal/browser"
	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/orchestrator"
	"github.com/iyulab/sigma-cti-triplets/internal/server"
	"github.com/iyulab/sigma-cti-triplets/internal/sigma"
	"github.com/iyulab/sigma-cti-triplets/internal/store"
)

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the detection engine over the log corpus only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, orchestrator.Options{DetectOnly: true})
		},
	}
	addPipelineFlags(cmd, true)
	return cmd
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the dataset from existing detection results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, orchestrator.Options{SkipDetect: true})
		},
	}
	addPipelineFlags(cmd, false)
	return cmd
}

func newRulesCmd() *cobra.Command {
	var showFailures bool
	cmd := &cobra.Command{
		Use:   "rules [dir]",
		Short: "Index a Sigma rule directory and print load statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.Paths.SigmaDir
			if len(args) == 1 {
				dir = args[0]
			}

			idx, stats, err := sigma.NewIndex(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rule files:    %d\n", stats.Files)
			fmt.Fprintf(out, "indexed:       %d (%d distinct rules, %d keys)\n", stats.Indexed, len(idx.Rules()), idx.Len())
			fmt.Fprintf(out, "metadata only: %d\n", stats.MetadataOnly)
			fmt.Fprintf(out, "parse errors:  %d\n", stats.ParseErrors)
			fmt.Fprintf(out, "no id/title:   %d\n", stats.Unqualified)
			fmt.Fprintf(out, "id collisions: %d\n", stats.Collisions)
			if showFailures {
				for _, f := range stats.Failures {
					fmt.Fprintf(out, "  %s\n", f.Error())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showFailures, "failures", false, "list the files that failed to parse")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <url>...",
		Short: "Classify reference URLs as CTI, likely CTI, non-CTI or unknown",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			out := cmd.OutOrStdout()
			for _, url := range args {
				c := cti.Classify(url)
				label := string(c)
				switch c {
				case cti.CTI:
					label = green(label)
				case cti.LikelyCTI:
					label = yellow(label)
				case cti.NonCTI:
					label = red(label)
				}
				fmt.Fprintf(out, "%-10s %s\n", label, strings.TrimSpace(url))
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		dir  string
		port int
		open bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse a built dataset over a local read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = cfg.Paths.OutputDir
			} else {
				initLogging("info")
			}

			srv, err := server.Load(dir)
			if err != nil {
				return err
			}
			addr, err := srv.Start(cmd.Context(), port)
			if err != nil {
				return err
			}
			defer srv.Stop()

			url := "http://" + addr + "/"
			log.WithField("dir", dir).Infof("serving dataset on %s (Ctrl-C to stop)", url)
			if open {
				if err := browser.Open(url); err != nil {
					log.Warnf("open browser: %v", err)
				}
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "dataset directory (default: paths.output_dir)")
	cmd.Flags().IntVar(&port, "port", 8742, "port to listen on (0 = any)")
	cmd.Flags().BoolVar(&open, "open", false, "open the report in the default browser")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		dir       string
		technique string
		ctiOnly   bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the SQLite export of a built dataset",
		Long: `query reads dataset.sqlite from the output directory (written when
output.sqlite is enabled). Without --technique it lists every technique;
with --technique it lists the triplets tagged with that technique.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dir = cfg.Paths.OutputDir
			} else {
				initLogging("info")
			}

			path := filepath.Join(dir, orchestrator.SQLiteFile)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("dataset database: %w (enable output.sqlite and rebuild)", err)
			}
			db, err := store.Open(path)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			n, err := db.CountTriplets(ctiOnly)
			if err != nil {
				return fmt.Errorf("count triplets: %w", err)
			}
			label := "triplets"
			if ctiOnly {
				label = "CTI-linked triplets"
			}
			fmt.Fprintf(out, "%s: %d\n", label, n)

			if technique != "" {
				rows, err := db.TripletsByTechnique(technique)
				if err != nil {
					return fmt.Errorf("query technique: %w", err)
				}
				for _, r := range rows {
					if ctiOnly && !r.HasCTILink {
						continue
					}
					fmt.Fprintf(out, "%s  %s\n", r.EvtxFile, r.RuleTitle)
					for _, ref := range r.References {
						if ref.Relevant {
							fmt.Fprintf(out, "    %s\n", ref.URL)
						}
					}
				}
				return nil
			}

			techs, err := db.Techniques()
			if err != nil {
				return fmt.Errorf("list techniques: %w", err)
			}
			fmt.Fprintf(out, "%-12s %10s %10s\n", "technique", "detections", "cti")
			for _, t := range techs {
				if ctiOnly && t.CTILinked == 0 {
					continue
				}
				fmt.Fprintf(out, "%-12s %10d %10d\n", t.TechniqueID, t.Detections, t.CTILinked)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "dataset directory (default: paths.output_dir)")
	cmd.Flags().StringVar(&technique, "technique", "", "list triplets tagged with this technique id")
	cmd.Flags().BoolVar(&ctiOnly, "cti", false, "only CTI-linked triplets")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "triplets %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
