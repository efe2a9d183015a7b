package detector

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
)

// fakeEngine counts invocations and writes outputs according to behave.
type fakeEngine struct {
	calls  []Invocation
	behave func(inv Invocation) Result
}

func (f *fakeEngine) Run(ctx context.Context, inv Invocation) Result {
	f.calls = append(f.calls, inv)
	if f.behave != nil {
		return f.behave(inv)
	}
	_ = os.WriteFile(inv.Output, []byte(`[{"title":"t"}]`), 0644)
	return Result{}
}

func testFiles() []corpus.File {
	return []corpus.File{
		{Path: "/logs/Execution/a.evtx", RelPath: "Execution/a.evtx"},
		{Path: "/logs/Discovery/b.evtx", RelPath: "Discovery/b.evtx"},
		{Path: "/logs/c.evtx", RelPath: "c.evtx"},
	}
}

func newRunner(t *testing.T, eng Engine) *Runner {
	t.Helper()
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Runner{Engine: eng, Writer: w, Ruleset: "rules.json", Config: "map.json", Ext: ".evtx"}
}

func TestRunner_RunsEveryFileOnce(t *testing.T) {
	eng := &fakeEngine{}
	r := newRunner(t, eng)

	sum := r.Run(context.Background(), testFiles())
	if sum.Total != 3 || sum.Succeeded != 3 || sum.Cached != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(eng.calls) != 3 {
		t.Fatalf("engine calls = %d, want 3", len(eng.calls))
	}
	first := eng.calls[0]
	if first.Input != "/logs/Execution/a.evtx" || first.Ruleset != "rules.json" || first.Config != "map.json" {
		t.Errorf("invocation = %+v", first)
	}
	if first.Output != r.Writer.Path("Execution__a.json") {
		t.Errorf("Output = %q", first.Output)
	}
	if got := len(r.Writer.Hashes()); got != 3 {
		t.Errorf("hashes = %d, want 3", got)
	}
}

func TestRunner_SkipOnExists(t *testing.T) {
	eng := &fakeEngine{}
	r := newRunner(t, eng)

	r.Run(context.Background(), testFiles())
	eng.calls = nil

	sum := r.Run(context.Background(), testFiles())
	if len(eng.calls) != 0 {
		t.Errorf("re-run invoked the engine %d times", len(eng.calls))
	}
	if sum.Cached != 3 || sum.Invocations() != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunner_NoOutputWritesEmptyArray(t *testing.T) {
	eng := &fakeEngine{behave: func(Invocation) Result { return Result{} }}
	r := newRunner(t, eng)

	sum := r.Run(context.Background(), testFiles()[:1])
	if sum.NoOutput != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	data, err := os.ReadFile(r.Writer.Path("Execution__a.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("content = %q, want []", data)
	}
}

func TestRunner_FailureRecordedAndLoopContinues(t *testing.T) {
	eng := &fakeEngine{behave: func(inv Invocation) Result {
		if inv.Input == "/logs/Discovery/b.evtx" {
			_ = os.WriteFile(inv.Output, []byte(`[{"partial`), 0644)
			return Result{
				ExitCode:    2,
				Error:       errors.New("exit status 2"),
				FailureKind: FailureEngineError,
				Stderr:      []byte("Traceback: boom\n"),
			}
		}
		_ = os.WriteFile(inv.Output, []byte(`[]`), 0644)
		return Result{}
	}}
	r := newRunner(t, eng)

	sum := r.Run(context.Background(), testFiles())
	if len(eng.calls) != 3 {
		t.Errorf("engine calls = %d, want 3", len(eng.calls))
	}
	if sum.Failed != 1 || sum.Succeeded != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].File != "Discovery/b.evtx" || sum.Failures[0].FailureKind != "engine_error" {
		t.Errorf("failures = %+v", sum.Failures)
	}

	data, _ := os.ReadFile(r.Writer.Path("Discovery__b.json"))
	if string(data) != "[]" {
		t.Errorf("failed result content = %q, want []", data)
	}
	logData, err := os.ReadFile(r.Writer.Path("Discovery__b.log"))
	if err != nil {
		t.Fatalf("stderr log: %v", err)
	}
	if string(logData) != "Traceback: boom\n" {
		t.Errorf("log content = %q", logData)
	}
}

func TestRunner_TimeoutCounted(t *testing.T) {
	eng := &fakeEngine{behave: func(Invocation) Result {
		return Result{ExitCode: -1, TimedOut: true, FailureKind: FailureTimeout, Error: errors.New("timeout")}
	}}
	r := newRunner(t, eng)

	sum := r.Run(context.Background(), testFiles()[:2])
	if sum.Failed != 2 || sum.TimedOut != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunner_CancelStopsBetweenFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &fakeEngine{}
	eng.behave = func(inv Invocation) Result {
		_ = os.WriteFile(inv.Output, []byte(`[]`), 0644)
		cancel()
		return Result{}
	}
	r := newRunner(t, eng)

	sum := r.Run(ctx, testFiles())
	if len(eng.calls) != 1 {
		t.Errorf("engine calls = %d, want 1", len(eng.calls))
	}
	if !sum.Canceled || sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunner_CanceledRunLeavesNoResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &fakeEngine{behave: func(inv Invocation) Result {
		_ = os.WriteFile(inv.Output, []byte(`[{"trunc`), 0644)
		cancel()
		return Result{ExitCode: -1, Error: context.Canceled, FailureKind: FailureUnknown}
	}}
	r := newRunner(t, eng)

	sum := r.Run(ctx, testFiles())
	if !sum.Canceled || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if r.Writer.Exists("Execution__a.json") {
		t.Error("interrupted run must not leave a cached result")
	}
}
