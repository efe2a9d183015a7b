// Package triplet joins detection engine output with rule metadata and
// classified references.
package triplet

import (
	"github.com/iyulab/sigma-cti-triplets/internal/cti"
)

// Detection is one record emitted by the detection engine for a log file.
// The engine is not consistent about key names, so both spellings are accepted.
type Detection struct {
	Title     string                   `json:"title"`
	Level     string                   `json:"level"`
	RuleLevel string                   `json:"rule_level"`
	Tags      []string                 `json:"tags"`
	ID        string                   `json:"id"`
	SigmaID   string                   `json:"sigma_id"`
	Count     *int                     `json:"count"`
	Matches   []map[string]interface{} `json:"matches"`
}

// Identifier returns sigma_id when present, id otherwise.
func (d Detection) Identifier() string {
	if d.SigmaID != "" {
		return d.SigmaID
	}
	return d.ID
}

// Severity returns level when present, rule_level otherwise.
func (d Detection) Severity() string {
	if d.Level != "" {
		return d.Level
	}
	return d.RuleLevel
}

// MatchCount returns count when the engine reported one, the number of
// matched events otherwise.
func (d Detection) MatchCount() int {
	if d.Count != nil {
		return *d.Count
	}
	return len(d.Matches)
}

// Triplet is the dataset record for one detection: log file, rule and
// classified references.
type Triplet struct {
	EvtxFile string `json:"evtx_file"`
	Tactic   string `json:"tactic"`

	RuleTitle       string                 `json:"rule_title"`
	RuleID          string                 `json:"rule_id"`
	RuleLevel       string                 `json:"rule_level"`
	RuleStatus      string                 `json:"rule_status,omitempty"`
	RuleDescription string                 `json:"rule_description,omitempty"`
	RuleAuthor      string                 `json:"rule_author,omitempty"`
	RuleFile        string                 `json:"rule_file,omitempty"`
	Logsource       map[string]interface{} `json:"logsource,omitempty"`
	Tags            []string               `json:"tags"`
	MetadataFound   bool                   `json:"metadata_found"`

	TechniqueIDs []string `json:"technique_ids"`

	MatchCount    int                      `json:"match_count"`
	MatchedEvents []map[string]interface{} `json:"matched_events,omitempty"`

	CTIReferences   []cti.Reference `json:"cti_references"`
	OtherReferences []cti.Reference `json:"other_references"`
	HasCTILink      bool            `json:"has_cti_link"`
}

// BuildStats counts what happened while reading result files.
type BuildStats struct {
	ResultFiles int `json:"result_files"`
	Parsed      int `json:"parsed"`
	Empty       int `json:"empty"`
	ParseErrors int `json:"parse_errors"`
	Detections  int `json:"detections"`
	Unresolved  int `json:"unresolved"`
}
