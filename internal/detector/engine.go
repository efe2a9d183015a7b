package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the engine is killed.
const waitDelay = 2 * time.Second

// Engine runs the detection engine once for one log file.
type Engine interface {
	Run(ctx context.Context, inv Invocation) Result
}

// ExecEngine runs an external command built from a fixed prefix and a
// placeholder argument template.
type ExecEngine struct {
	// Command is the executable followed by fixed leading arguments.
	Command []string
	// Args is the per-file template; see Invocation for placeholders.
	Args []string
	// Timeout bounds a single run. Zero means no timeout.
	Timeout time.Duration
	// Dir is the working directory of the engine process (empty = inherit).
	Dir string
}

// CommandLine returns the full argv for inv.
func (e *ExecEngine) CommandLine(inv Invocation) []string {
	r := strings.NewReplacer(
		"{input}", inv.Input,
		"{ruleset}", inv.Ruleset,
		"{config}", inv.Config,
		"{output}", inv.Output,
	)
	argv := make([]string, 0, len(e.Command)+len(e.Args))
	argv = append(argv, e.Command...)
	for _, a := range e.Args {
		argv = append(argv, r.Replace(a))
	}
	return argv
}

// LookPath resolves the engine executable.
func (e *ExecEngine) LookPath() (string, error) {
	if len(e.Command) == 0 {
		return "", errors.New("engine command is empty")
	}
	return exec.LookPath(e.Command[0])
}

// Run executes the engine and returns the result. It never returns a partial
// Result: on failure ExitCode, Error and FailureKind are always set.
func (e *ExecEngine) Run(ctx context.Context, inv Invocation) Result {
	start := time.Now()
	result := Result{StartedAt: start.UTC()}

	argv := e.CommandLine(inv)
	if len(argv) == 0 {
		result.Error = errors.New("engine command is empty")
		result.ExitCode = -1
		result.FailureKind = FailureNotFound
		return result
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		result.Error = fmt.Errorf("timeout after %s", e.Timeout)
		result.FailureKind = FailureTimeout
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		result.Error = fmt.Errorf("exec: %w", err)
		classifyFailure(&result)
		return result
	}

	result.FailureKind = FailureNone
	return result
}

// classifyFailure sets FailureKind based on exit code and stderr content.
func classifyFailure(result *Result) {
	if result.TimedOut {
		result.FailureKind = FailureTimeout
		return
	}
	if result.Error == nil {
		result.FailureKind = FailureNone
		return
	}
	if errors.Is(result.Error, exec.ErrNotFound) {
		result.FailureKind = FailureNotFound
		return
	}
	switch result.ExitCode {
	case 5: // Windows: ERROR_ACCESS_DENIED
		result.FailureKind = FailurePermission
	case 126: // POSIX: cannot execute
		result.FailureKind = FailurePermission
	case 127: // POSIX: command not found
		result.FailureKind = FailureNotFound
	case 9009: // Windows: command not recognized
		result.FailureKind = FailureNotFound
	case -1:
		result.FailureKind = FailureUnknown
	default:
		if result.ExitCode <= 0 {
			result.FailureKind = FailureUnknown
			return
		}
		stderr := strings.ToLower(string(result.Stderr))
		if strings.Contains(stderr, "access denied") ||
			strings.Contains(stderr, "access is denied") ||
			strings.Contains(stderr, "permission denied") {
			result.FailureKind = FailurePermission
		} else {
			result.FailureKind = FailureEngineError
		}
	}
}
