package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
	"github.com/iyulab/sigma-cti-triplets/internal/detector"
)

// PreflightError collects every setup problem found before a run.
type PreflightError struct {
	Problems []error
}

func (e *PreflightError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = "  - " + p.Error()
	}
	return fmt.Sprintf("pre-flight failed (%d problems):\n%s", len(e.Problems), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *PreflightError) Unwrap() []error {
	return e.Problems
}

// Plan is what a successful pre-flight resolved.
type Plan struct {
	Files   []corpus.File
	Ruleset string
}

// Preflight validates the layout and resolves the inputs of a run. All
// problems are collected and returned together as a *PreflightError.
func (o *Orchestrator) Preflight() (*Plan, error) {
	var problems []error
	add := func(err error) { problems = append(problems, err) }
	paths := o.cfg.Paths
	detecting := !o.opts.SkipDetect

	evtxOK := checkDir("log corpus", paths.EvtxDir, add)
	checkDir("sigma rules", paths.SigmaDir, add)

	plan := &Plan{}
	if detecting {
		checkFile("field mappings", paths.FieldMappings, add)

		if o.engine == nil {
			eng := o.execEngine()
			if _, err := eng.LookPath(); err != nil {
				add(fmt.Errorf("detection engine %q not found: %w", firstOr(eng.Command, ""), err))
			}
		}

		switch o.opts.Mode {
		case ModeSigma:
			plan.Ruleset = paths.SigmaDir
		default:
			ruleset, err := corpus.FindFirst(paths.RulesetDir, o.cfg.Engine.CompiledRulesetGlob)
			switch {
			case err != nil:
				add(fmt.Errorf("compiled ruleset: %w", err))
			case ruleset == "":
				add(fmt.Errorf("no compiled ruleset matching %q in %s", o.cfg.Engine.CompiledRulesetGlob, paths.RulesetDir))
			default:
				plan.Ruleset = ruleset
			}
		}
	}

	if evtxOK {
		files, err := corpus.Index(paths.EvtxDir, corpus.Options{
			Extension: o.cfg.Corpus.Extension,
			Exclude:   o.cfg.Corpus.Exclude,
			Limit:     o.opts.Limit,
		})
		if err != nil {
			add(fmt.Errorf("index log corpus: %w", err))
		}
		plan.Files = files
	}

	if len(problems) > 0 {
		return nil, &PreflightError{Problems: problems}
	}
	return plan, nil
}

func (o *Orchestrator) execEngine() *detector.ExecEngine {
	return &detector.ExecEngine{
		Command: o.cfg.Engine.Command,
		Args:    o.cfg.Engine.Args,
		Timeout: o.cfg.Engine.Timeout(),
	}
}

var errNotDir = errors.New("not a directory")

func checkDir(label, path string, add func(error)) bool {
	info, err := os.Stat(path)
	if err != nil {
		add(fmt.Errorf("%s directory %s: %w", label, path, err))
		return false
	}
	if !info.IsDir() {
		add(fmt.Errorf("%s directory %s: %w", label, path, errNotDir))
		return false
	}
	return true
}

func checkFile(label, path string, add func(error)) {
	info, err := os.Stat(path)
	if err != nil {
		add(fmt.Errorf("%s file %s: %w", label, path, err))
		return
	}
	if info.IsDir() {
		add(fmt.Errorf("%s file %s: is a directory", label, path))
	}
}

func firstOr(s []string, def string) string {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
