package triplet

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/sigma"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Resolver looks up rule metadata for a detection. *sigma.Index implements it.
type Resolver interface {
	Resolve(id, title string) (sigma.RuleMetadata, bool)
}

// Builder turns a directory of detection result files into triplets.
type Builder struct {
	Rules      Resolver
	ResultsDir string
	// Ext is the log file extension re-appended when decoding result names.
	Ext string
	// IncludeEvents copies the raw matched events into each triplet.
	IncludeEvents bool
}

// Build reads every result file in ResultsDir, in name order. Broken files are
// counted and skipped; only an unreadable results directory is an error.
func (b *Builder) Build() ([]Triplet, BuildStats, error) {
	var stats BuildStats
	entries, err := os.ReadDir(b.ResultsDir)
	if err != nil {
		return nil, stats, fmt.Errorf("read results dir: %w", err)
	}

	triplets := []Triplet{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), corpus.ResultSuffix) {
			continue
		}
		stats.ResultFiles++

		path := filepath.Join(b.ResultsDir, e.Name())
		detections, err := readResult(path)
		if err != nil {
			stats.ParseErrors++
			logrus.WithField("file", path).Warnf("skipping result file: %v", err)
			continue
		}
		if len(detections) == 0 {
			stats.Empty++
			continue
		}
		stats.Parsed++

		logPath := corpus.LogPathFromResult(e.Name(), b.Ext)
		tactic := corpus.InferTactic(logPath)
		for _, det := range detections {
			t, found := b.join(det, logPath, tactic)
			if !found {
				stats.Unresolved++
			}
			stats.Detections++
			triplets = append(triplets, t)
		}
	}

	return triplets, stats, nil
}

// readResult decodes a result file. An empty file or an empty array yields no
// detections and no error.
func readResult(path string) ([]Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array of detections")
	}
	var detections []Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return detections, nil
}

// Join builds the triplet for a single detection found in logPath.
func (b *Builder) Join(det Detection, logPath string) Triplet {
	t, _ := b.join(det, logPath, corpus.InferTactic(logPath))
	return t
}

func (b *Builder) join(det Detection, logPath, tactic string) (Triplet, bool) {
	var meta sigma.RuleMetadata
	var found bool
	if b.Rules != nil {
		meta, found = b.Rules.Resolve(det.Identifier(), det.Title)
	}

	tags := det.Tags
	if found && len(meta.Tags) > 0 {
		tags = meta.Tags
	}
	if tags == nil {
		tags = []string{}
	}

	relevant, other := cti.Partition(meta.References)

	t := Triplet{
		EvtxFile:        logPath,
		Tactic:          tactic,
		RuleTitle:       firstNonEmpty(meta.Title, strings.TrimSpace(det.Title)),
		RuleID:          firstNonEmpty(meta.ID, det.Identifier()),
		RuleLevel:       firstNonEmpty(meta.Level, det.Severity()),
		RuleStatus:      meta.Status,
		RuleDescription: meta.Description,
		RuleAuthor:      meta.Author,
		RuleFile:        meta.Path,
		Logsource:       meta.Logsource,
		Tags:            tags,
		MetadataFound:   found,
		TechniqueIDs:    ExtractTechniques(tags),
		MatchCount:      det.MatchCount(),
		CTIReferences:   relevant,
		OtherReferences: other,
		HasCTILink:      len(relevant) > 0,
	}
	if b.IncludeEvents {
		t.MatchedEvents = det.Matches
	}
	return t, found
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
