// Package detector drives the external detection engine over a log corpus,
// one synchronous process per log file.
package detector

import "time"

// FailureKind classifies why an engine run failed.
type FailureKind int

const (
	FailureNone        FailureKind = iota // exit code 0
	FailureTimeout                        // killed by timeout
	FailurePermission                     // access denied / permission denied
	FailureEngineError                    // engine returned non-zero exit code
	FailureNotFound                       // interpreter or command not found
	FailureUnknown                        // unclassified error
)

// String returns a short label for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailurePermission:
		return "permission_denied"
	case FailureEngineError:
		return "engine_error"
	case FailureNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Invocation holds the per-file values substituted into the argument template.
type Invocation struct {
	Input   string // {input}: log file to scan
	Ruleset string // {ruleset}: compiled ruleset file or Sigma rule directory
	Config  string // {config}: field-mapping file
	Output  string // {output}: result file the engine writes
}

// Result holds the outcome of a single engine run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int // -1 if killed or never started
	Duration time.Duration
	Error    error
	TimedOut bool
	// FailureKind classifies the reason for failure.
	FailureKind FailureKind
	StartedAt   time.Time
}

// Failed reports whether the run did not complete with exit code 0.
func (r Result) Failed() bool {
	return r.FailureKind != FailureNone
}
