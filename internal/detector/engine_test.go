package detector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("engine tests use sh")
	}
}

// shEngine runs script with sh; $1 is the expanded {output} placeholder.
func shEngine(script string) *ExecEngine {
	return &ExecEngine{
		Command: []string{"sh", "-c", script, "engine"},
		Args:    []string{"{output}"},
	}
}

func TestCommandLine_ExpandsPlaceholders(t *testing.T) {
	e := &ExecEngine{
		Command: []string{"python3", "zircolite.py"},
		Args:    []string{"--evtx", "{input}", "--ruleset", "{ruleset}", "--config", "{config}", "--outfile={output}", "--nolog"},
	}
	got := e.CommandLine(Invocation{Input: "a.evtx", Ruleset: "r.json", Config: "m.json", Output: "out.json"})
	want := []string{"python3", "zircolite.py", "--evtx", "a.evtx", "--ruleset", "r.json", "--config", "m.json", "--outfile=out.json", "--nolog"}
	if len(got) != len(want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecEngine_WritesOutput(t *testing.T) {
	skipOnWindows(t)
	out := filepath.Join(t.TempDir(), "out.json")

	res := shEngine(`printf '[{"title":"x"}]' > "$1"; echo progress >&2`).Run(context.Background(), Invocation{Output: out})
	if res.Failed() {
		t.Fatalf("unexpected failure: %v (%s)", res.Error, res.FailureKind)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if string(res.Stderr) != "progress\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != `[{"title":"x"}]` {
		t.Errorf("output = %q", data)
	}
}

func TestExecEngine_ExitError(t *testing.T) {
	skipOnWindows(t)
	res := shEngine(`echo boom >&2; exit 3`).Run(context.Background(), Invocation{Output: "unused"})
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.FailureKind != FailureEngineError {
		t.Errorf("FailureKind = %s, want engine_error", res.FailureKind)
	}
	if res.Error == nil {
		t.Error("expected error")
	}
}

func TestExecEngine_Timeout(t *testing.T) {
	skipOnWindows(t)
	e := shEngine(`exec sleep 30`)
	e.Timeout = 200 * time.Millisecond

	start := time.Now()
	res := e.Run(context.Background(), Invocation{Output: "unused"})
	if !res.TimedOut {
		t.Error("expected TimedOut=true")
	}
	if res.FailureKind != FailureTimeout {
		t.Errorf("FailureKind = %s, want timeout", res.FailureKind)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestExecEngine_CommandNotFound(t *testing.T) {
	e := &ExecEngine{Command: []string{"definitely-not-an-engine-binary"}, Args: []string{"{input}"}}
	res := e.Run(context.Background(), Invocation{Input: "a.evtx"})
	if res.FailureKind != FailureNotFound {
		t.Errorf("FailureKind = %s, want not_found (err: %v)", res.FailureKind, res.Error)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if _, err := e.LookPath(); !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("LookPath err = %v, want ErrNotFound", err)
	}
}

func TestExecEngine_EmptyCommand(t *testing.T) {
	e := &ExecEngine{}
	res := e.Run(context.Background(), Invocation{})
	if !res.Failed() || res.Error == nil {
		t.Fatal("expected failure for empty command")
	}
	if _, err := e.LookPath(); err == nil {
		t.Error("LookPath should fail for empty command")
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected FailureKind
	}{
		{"success", Result{ExitCode: 0}, FailureNone},
		{"timeout", Result{TimedOut: true, ExitCode: -1, Error: errors.New("timeout")}, FailureTimeout},
		{"not found error", Result{ExitCode: -1, Error: &exec.Error{Name: "x", Err: exec.ErrNotFound}}, FailureNotFound},
		{"exit 126", Result{ExitCode: 126, Error: errors.New("exit")}, FailurePermission},
		{"exit 127", Result{ExitCode: 127, Error: errors.New("exit")}, FailureNotFound},
		{"exit 5", Result{ExitCode: 5, Error: errors.New("exit")}, FailurePermission},
		{"exit 9009", Result{ExitCode: 9009, Error: errors.New("exit")}, FailureNotFound},
		{"stderr permission", Result{ExitCode: 1, Error: errors.New("exit"), Stderr: []byte("PermissionError: Permission denied: 'x.evtx'")}, FailurePermission},
		{"engine error", Result{ExitCode: 1, Error: errors.New("exit"), Stderr: []byte("Traceback")}, FailureEngineError},
		{"os failure", Result{ExitCode: -1, Error: errors.New("fork")}, FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.result
			classifyFailure(&r)
			if r.FailureKind != tt.expected {
				t.Errorf("FailureKind = %s, want %s", r.FailureKind, tt.expected)
			}
		})
	}
}

func TestFailureKind_String(t *testing.T) {
	kinds := map[FailureKind]string{
		FailureNone:        "none",
		FailureTimeout:     "timeout",
		FailurePermission:  "permission_denied",
		FailureEngineError: "engine_error",
		FailureNotFound:    "not_found",
		FailureUnknown:     "unknown",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
