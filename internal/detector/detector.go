package detector

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
)

// Runner runs the engine over a list of log files, one at a time, skipping
// files whose result already exists.
type Runner struct {
	Engine Engine
	Writer *Writer
	// Ruleset and Config are passed to every invocation.
	Ruleset string
	Config  string
	// Ext is the log extension stripped from result names.
	Ext string
}

// Summary counts the outcome of a detection pass.
type Summary struct {
	Total     int           `json:"total"`
	Cached    int           `json:"cached"`
	Succeeded int           `json:"succeeded"`
	NoOutput  int           `json:"no_output"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Canceled  bool          `json:"canceled,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Failures  []FileFailure `json:"failures,omitempty"`
}

// FileFailure describes one log file the engine failed on.
type FileFailure struct {
	File        string `json:"file"`
	ExitCode    int    `json:"exit_code"`
	FailureKind string `json:"failure_kind"`
	Error       string `json:"error"`
}

// Invocations returns how many times the engine was started.
func (s Summary) Invocations() int {
	return s.Succeeded + s.NoOutput + s.Failed
}

// Run processes files sequentially. A failing file is recorded as an empty
// result and never stops the loop; cancellation of ctx does, between files.
func (r *Runner) Run(ctx context.Context, files []corpus.File) Summary {
	start := time.Now()
	sum := Summary{Total: len(files)}

	for i, f := range files {
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}

		name := corpus.ResultFileName(f.RelPath, r.Ext)
		log := logrus.WithFields(logrus.Fields{"file": f.RelPath, "n": i + 1, "of": len(files)})

		if r.Writer.Exists(name) {
			sum.Cached++
			log.Debug("result exists, skipping")
			continue
		}

		log.Debug("running engine")
		res := r.Engine.Run(ctx, Invocation{
			Input:   f.Path,
			Ruleset: r.Ruleset,
			Config:  r.Config,
			Output:  r.Writer.Path(name),
		})

		// A run interrupted by cancellation must not leave a cached result.
		if ctx.Err() != nil && res.Failed() && !res.TimedOut {
			if err := r.Writer.Remove(name); err != nil {
				log.Warnf("remove partial result: %v", err)
			}
			sum.Canceled = true
			break
		}

		if err := r.Writer.SaveLog(logName(name), res.Stderr); err != nil {
			log.Warnf("save engine log: %v", err)
		}

		switch {
		case res.Failed():
			sum.Failed++
			if res.TimedOut {
				sum.TimedOut++
			}
			ff := FileFailure{File: f.RelPath, ExitCode: res.ExitCode, FailureKind: res.FailureKind.String()}
			if res.Error != nil {
				ff.Error = res.Error.Error()
			}
			sum.Failures = append(sum.Failures, ff)
			log.WithField("kind", ff.FailureKind).Warnf("engine failed: %s", ff.Error)
			if err := r.Writer.WriteEmpty(name); err != nil {
				log.Warnf("write empty result: %v", err)
			}
		case r.Writer.Exists(name):
			sum.Succeeded++
			if err := r.Writer.Adopt(name); err != nil {
				log.Warnf("hash result: %v", err)
			}
			log.WithField("duration", res.Duration.Round(time.Millisecond)).Debug("done")
		default:
			sum.NoOutput++
			if err := r.Writer.WriteEmpty(name); err != nil {
				log.Warnf("write empty result: %v", err)
			}
			log.Debug("no detections")
		}
	}

	sum.Duration = time.Since(start)
	return sum
}

func logName(resultName string) string {
	return strings.TrimSuffix(resultName, corpus.ResultSuffix) + ".log"
}
