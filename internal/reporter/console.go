package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/iyulab/sigma-cti-triplets/internal/cti"
)

// DefaultTopTechniques is the number of techniques listed in the console report.
const DefaultTopTechniques = 15

// PrintConsole writes the human-readable run report to w.
func PrintConsole(w io.Writer, s RunSummary, techniques map[string]TechniqueSummary, top int) {
	if top <= 0 {
		top = DefaultTopTechniques
	}
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%s  run %s  (%s mode, %s)\n", bold("Triplet dataset"), s.RunID, s.Mode, s.Duration)
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "%s\n", bold("Inputs"))
	fmt.Fprintf(w, "  log files:        %d\n", s.LogFiles)
	fmt.Fprintf(w, "  rules indexed:    %d of %d files", s.Rules.Indexed, s.Rules.Files)
	if s.Rules.ParseErrors > 0 {
		fmt.Fprintf(w, "  %s", yellow(fmt.Sprintf("(%d unparsable)", s.Rules.ParseErrors)))
	}
	fmt.Fprintln(w)

	if d := s.Detection; d != nil {
		fmt.Fprintf(w, "%s\n", bold("Detection"))
		fmt.Fprintf(w, "  ran %d, cached %d, no output %d", d.Invocations(), d.Cached, d.NoOutput)
		if d.Failed > 0 {
			fmt.Fprintf(w, ", %s", red(fmt.Sprintf("failed %d (timed out %d)", d.Failed, d.TimedOut)))
		}
		if d.Canceled {
			fmt.Fprintf(w, ", %s", yellow("canceled"))
		}
		fmt.Fprintln(w)
	}

	b := s.Build
	fmt.Fprintf(w, "%s\n", bold("Build"))
	fmt.Fprintf(w, "  result files:     %d (parsed %d, empty %d", b.ResultFiles, b.Parsed, b.Empty)
	if b.ParseErrors > 0 {
		fmt.Fprintf(w, ", %s", red(fmt.Sprintf("unparsable %d", b.ParseErrors)))
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "  detections:       %d", b.Detections)
	if b.Unresolved > 0 {
		fmt.Fprintf(w, "  %s", yellow(fmt.Sprintf("(%d without rule metadata)", b.Unresolved)))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s\n", bold("Dataset"))
	fmt.Fprintf(w, "  triplets:         %d\n", s.Triplets)
	fmt.Fprintf(w, "  CTI-linked:       %s (%.1f%%)\n", green(s.CTILinked), 100*s.CTIRatio())
	fmt.Fprintf(w, "  unique CTI URLs:  %d\n", s.UniqueCTIURLs)
	fmt.Fprintf(w, "  techniques:       %d\n", s.Techniques)
	if len(s.Classifications) > 0 {
		fmt.Fprintf(w, "  references:       cti %d, likely_cti %d, non_cti %d, unknown %d\n",
			s.Classifications[cti.CTI], s.Classifications[cti.LikelyCTI],
			s.Classifications[cti.NonCTI], s.Classifications[cti.Unknown])
	}

	ranks := TopTechniques(techniques, top)
	if len(ranks) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("Top %d techniques by detections", len(ranks))))
	fmt.Fprintf(w, "  %-12s %10s %10s %8s %8s\n", "technique", "detections", "cti", "rules", "files")
	for _, r := range ranks {
		fmt.Fprintf(w, "  %s %10d %10d %8d %8d\n",
			cyan(fmt.Sprintf("%-12s", r.ID)), r.Detections, r.CTILinked, len(r.Rules), len(r.EvtxFiles))
	}
}
