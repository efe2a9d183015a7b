package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/iyulab/sigma-cti-triplets/internal/detector"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Artifact file names inside the output directory.
const (
	FullFile      = "triplets_full.json"
	CTIFile       = "triplets_cti.json"
	URLsFile      = "cti_urls.txt"
	TechniqueFile = "technique_summary.json"
	SummaryFile   = "run_summary.json"
	ManifestFile  = "manifest.json"
	ReportFile    = "report.html"
)

// Manifest records the hash of every artifact and detection result of a run.
type Manifest struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Artifacts   []detector.FileHash `json:"artifacts"`
	Results     []detector.FileHash `json:"results,omitempty"`
}

// Writer writes dataset artifacts to an output directory and keeps their hashes.
type Writer struct {
	dir    string
	hashes []detector.FileHash
}

// NewWriter creates a Writer for dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteAll writes the four dataset artifacts and run_summary.json.
func (w *Writer) WriteAll(ds Dataset, summary RunSummary) error {
	if err := w.WriteJSON(FullFile, ds.Triplets); err != nil {
		return err
	}
	if err := w.WriteJSON(CTIFile, ds.Linked); err != nil {
		return err
	}
	urls := strings.Join(ds.CTIURLs, "\n")
	if urls != "" {
		urls += "\n"
	}
	if err := w.WriteFile(URLsFile, []byte(urls)); err != nil {
		return err
	}
	techniques := ds.Techniques
	if techniques == nil {
		techniques = map[string]TechniqueSummary{}
	}
	if err := w.WriteJSON(TechniqueFile, techniques); err != nil {
		return err
	}
	return w.WriteJSON(SummaryFile, summary)
}

// WriteJSON writes v as indented JSON. Map keys are sorted.
func (w *Writer) WriteJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return w.WriteFile(name, data)
}

// WriteFile writes data to name and records its hash.
func (w *Writer) WriteFile(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.hashes = append(w.hashes, detector.FileHash{File: name, SHA256: detector.SHA256Hex(data), Size: len(data)})
	return nil
}

// Hashes returns the hashes of everything written so far.
func (w *Writer) Hashes() []detector.FileHash {
	cp := make([]detector.FileHash, len(w.hashes))
	copy(cp, w.hashes)
	return cp
}

// SaveManifest writes manifest.json covering the artifacts written so far and
// the given detection result hashes.
func (w *Writer) SaveManifest(runID string, results []detector.FileHash) error {
	m := Manifest{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Artifacts:   w.Hashes(),
		Results:     results,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(w.dir, ManifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadSummary loads run_summary.json from dir.
func ReadSummary(dir string) (RunSummary, error) {
	var s RunSummary
	err := readJSON(filepath.Join(dir, SummaryFile), &s)
	return s, err
}

// LoadDataset rebuilds a Dataset from the triplets_full.json in dir.
func LoadDataset(dir string) (Dataset, error) {
	var triplets []triplet.Triplet
	if err := readJSON(filepath.Join(dir, FullFile), &triplets); err != nil {
		return Dataset{}, err
	}
	return NewDataset(triplets), nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
