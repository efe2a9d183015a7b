// Package orchestrator coordinates the pre-flight → detect → index rules →
// build → write pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iyulab/sigma-cti-triplets/internal/config"
	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
	"github.com/iyulab/sigma-cti-triplets/internal/detector"
	"github.com/iyulab/sigma-cti-triplets/internal/reporter"
	"github.com/iyulab/sigma-cti-triplets/internal/sigma"
	"github.com/iyulab/sigma-cti-triplets/internal/store"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

// Mode selects the ruleset handed to the detection engine.
type Mode string

const (
	// ModeCompiled passes the pre-compiled ruleset found in paths.ruleset_dir.
	ModeCompiled Mode = "compiled"
	// ModeSigma passes the Sigma rule directory itself.
	ModeSigma Mode = "sigma"
)

// SQLiteFile is the name of the optional database export in the output directory.
const SQLiteFile = "dataset.sqlite"

// Options holds CLI flags for the orchestrator.
type Options struct {
	Mode       Mode
	Limit      int
	SkipDetect bool
	DetectOnly bool
	Quiet      bool
	Version    string
}

// Orchestrator runs the staged pipeline.
type Orchestrator struct {
	cfg    *config.Config
	opts   Options
	engine detector.Engine // optional: injected for testing
	out    io.Writer
}

// New creates an Orchestrator for a validated config.
func New(cfg *config.Config, opts Options) *Orchestrator {
	if opts.Mode == "" {
		opts.Mode = ModeCompiled
	}
	return &Orchestrator{cfg: cfg, opts: opts, out: os.Stdout}
}

// SetEngine overrides the detection engine (used in tests).
func (o *Orchestrator) SetEngine(e detector.Engine) {
	o.engine = e
}

// SetOutput redirects the console report.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run executes the pipeline and returns the run summary. Only setup failures
// and an interrupted detection pass are errors; per-file problems are counted.
func (o *Orchestrator) Run(ctx context.Context) (reporter.RunSummary, error) {
	summary := reporter.NewRunSummary(o.opts.Version, string(o.opts.Mode), time.Now())
	if o.opts.SkipDetect {
		summary.Mode = "skip-detect"
	}

	// --- Stage 0: Pre-flight ---
	plan, err := o.Preflight()
	if err != nil {
		return summary, err
	}
	summary.LogFiles = len(plan.Files)
	logrus.WithFields(logrus.Fields{"files": len(plan.Files), "mode": summary.Mode}).Info("pre-flight passed")

	results, err := detector.NewWriter(o.cfg.Paths.ResultsDir)
	if err != nil {
		return summary, err
	}

	// --- Stage 1: Detect ---
	if !o.opts.SkipDetect {
		det, err := o.detect(ctx, plan, results)
		summary.Detection = &det
		if err != nil {
			return summary, err
		}
		if o.opts.DetectOnly {
			summary.Complete(reporter.NewDataset(nil))
			logrus.WithField("results", results.Dir()).Info("detection complete")
			return summary, nil
		}
	}

	// --- Stage 2: Index rules ---
	idx, ruleStats, err := sigma.NewIndex(o.cfg.Paths.SigmaDir)
	if err != nil {
		return summary, fmt.Errorf("index rules: %w", err)
	}
	summary.Rules = ruleStats
	logrus.WithFields(logrus.Fields{
		"indexed":      ruleStats.Indexed,
		"files":        ruleStats.Files,
		"parse_errors": ruleStats.ParseErrors,
	}).Info("rule metadata indexed")

	// --- Stage 3: Build ---
	builder := &triplet.Builder{
		Rules:         idx,
		ResultsDir:    o.cfg.Paths.ResultsDir,
		Ext:           o.cfg.Corpus.Extension,
		IncludeEvents: o.cfg.Output.IncludeEvents,
	}
	triplets, buildStats, err := builder.Build()
	if err != nil {
		return summary, fmt.Errorf("build triplets: %w", err)
	}
	summary.Build = buildStats
	logrus.WithFields(logrus.Fields{
		"triplets":     len(triplets),
		"parse_errors": buildStats.ParseErrors,
		"unresolved":   buildStats.Unresolved,
	}).Info("triplets built")

	// --- Stage 4: Aggregate and write ---
	ds := reporter.NewDataset(triplets)
	summary.Complete(ds)
	if err := o.write(ds, summary, results); err != nil {
		return summary, err
	}

	if !o.opts.Quiet {
		reporter.PrintConsole(o.out, summary, ds.Techniques, o.cfg.Output.TopTechniques)
	}
	return summary, nil
}

func (o *Orchestrator) detect(ctx context.Context, plan *Plan, results *detector.Writer) (detector.Summary, error) {
	engine := o.engine
	if engine == nil {
		engine = o.execEngine()
	}
	runner := &detector.Runner{
		Engine:  engine,
		Writer:  results,
		Ruleset: plan.Ruleset,
		Config:  o.cfg.Paths.FieldMappings,
		Ext:     o.cfg.Corpus.Extension,
	}

	logrus.WithField("ruleset", plan.Ruleset).Infof("running detection over %d log files", len(plan.Files))
	sum := runner.Run(ctx, plan.Files)
	logrus.WithFields(logrus.Fields{
		"ran":       sum.Invocations(),
		"cached":    sum.Cached,
		"no_output": sum.NoOutput,
		"failed":    sum.Failed,
		"duration":  sum.Duration.Round(time.Millisecond),
	}).Info("detection pass finished")

	if sum.Canceled {
		return sum, fmt.Errorf("detection interrupted: %w", context.Cause(ctx))
	}
	return sum, nil
}

func (o *Orchestrator) write(ds reporter.Dataset, summary reporter.RunSummary, results *detector.Writer) error {
	out := o.cfg.Output
	w, err := reporter.NewWriter(o.cfg.Paths.OutputDir)
	if err != nil {
		return err
	}
	if err := w.WriteAll(ds, summary); err != nil {
		return fmt.Errorf("write artifacts: %w", err)
	}

	// Optional outputs never fail the run.
	if out.HTMLReport {
		if err := o.writeHTML(w, ds, summary); err != nil {
			logrus.Warnf("html report: %v", err)
		}
	}
	if out.SQLite {
		path := filepath.Join(w.Dir(), SQLiteFile)
		if err := store.Export(path, summary.RunID, ds.Triplets, ds.Techniques); err != nil {
			logrus.Warnf("sqlite export: %v", err)
		} else {
			logrus.WithField("path", path).Info("sqlite export written")
		}
	}

	if err := results.AdoptAll(corpus.ResultSuffix); err != nil {
		logrus.Warnf("hash detection results: %v", err)
	}
	if err := w.SaveManifest(summary.RunID, results.Hashes()); err != nil {
		logrus.Warnf("manifest: %v", err)
	}

	if out.Bundle {
		zipPath, err := reporter.ExportBundle(w.Dir(), summary.RunID, o.opts.Version)
		if err != nil {
			logrus.Warnf("bundle export: %v", err)
		} else {
			logrus.WithField("path", zipPath).Info("bundle written")
		}
	}

	logrus.WithField("dir", w.Dir()).Info("dataset written")
	return nil
}

func (o *Orchestrator) writeHTML(w *reporter.Writer, ds reporter.Dataset, summary reporter.RunSummary) error {
	rep, err := reporter.New()
	if err != nil {
		return err
	}
	html, err := rep.GenerateString(reporter.NewReportData(summary, ds, o.cfg.Output.TopTechniques))
	if err != nil {
		return err
	}
	return w.WriteFile(reporter.ReportFile, []byte(html))
}
