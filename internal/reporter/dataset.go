package reporter

import (
	"time"

	"github.com/google/uuid"

	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/detector"
	"github.com/iyulab/sigma-cti-triplets/internal/sigma"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

// Dataset is the complete, immutable output of a build.
type Dataset struct {
	Triplets   []triplet.Triplet
	Linked     []triplet.Triplet
	CTIURLs    []string
	Techniques map[string]TechniqueSummary
}

// NewDataset derives the CTI-linked subset, URL list and technique summaries.
func NewDataset(triplets []triplet.Triplet) Dataset {
	if triplets == nil {
		triplets = []triplet.Triplet{}
	}
	linked := FilterCTILinked(triplets)
	return Dataset{
		Triplets:   triplets,
		Linked:     linked,
		CTIURLs:    UniqueCTIURLs(linked),
		Techniques: SummarizeTechniques(triplets),
	}
}

// RunSummary collects every counter of a run. It is written as
// run_summary.json and drives the console and HTML reports.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    string    `json:"duration"`

	LogFiles  int                `json:"log_files"`
	Detection *detector.Summary  `json:"detection,omitempty"`
	Rules     sigma.LoadStats    `json:"rules"`
	Build     triplet.BuildStats `json:"build"`

	Triplets        int                        `json:"triplets"`
	CTILinked       int                        `json:"cti_linked"`
	UniqueCTIURLs   int                        `json:"unique_cti_urls"`
	Techniques      int                        `json:"techniques"`
	Classifications map[cti.Classification]int `json:"classifications"`
	Tactics         map[string]int             `json:"tactics"`
}

// NewRunSummary starts a summary with a fresh run id.
func NewRunSummary(version, mode string, startedAt time.Time) RunSummary {
	return RunSummary{
		RunID:     uuid.NewString(),
		Version:   version,
		Mode:      mode,
		StartedAt: startedAt.UTC(),
	}
}

// Complete fills the dataset counters and stamps the completion time.
func (s *RunSummary) Complete(ds Dataset) {
	s.Triplets = len(ds.Triplets)
	s.CTILinked = len(ds.Linked)
	s.UniqueCTIURLs = len(ds.CTIURLs)
	s.Techniques = len(ds.Techniques)
	s.Classifications = ClassificationCounts(ds.Triplets)
	s.Tactics = TacticCounts(ds.Triplets)
	s.CompletedAt = time.Now().UTC()
	s.Duration = s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
}

// CTIRatio returns the share of triplets with a CTI link, in [0, 1].
func (s RunSummary) CTIRatio() float64 {
	if s.Triplets == 0 {
		return 0
	}
	return float64(s.CTILinked) / float64(s.Triplets)
}
