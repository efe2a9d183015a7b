package reporter

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/sigma-cti-triplets/internal/corpus"
)

//go:embed templates/*.tmpl
var templates embed.FS

// ReportData is the complete data model passed to the HTML template.
type ReportData struct {
	GeneratedAt time.Time
	Summary     RunSummary
	Top         []TechniqueRank
	Techniques  []TechniqueRank // all, ascending id
	CTIURLs     []string
	Tactics     []TacticCount
}

// TacticCount is one row of the tactic breakdown, in kill-chain order.
type TacticCount struct {
	Tactic string
	Count  int
}

// NewReportData assembles the template model from a finished run.
func NewReportData(s RunSummary, ds Dataset, top int) ReportData {
	if top <= 0 {
		top = DefaultTopTechniques
	}
	all := make([]TechniqueRank, 0, len(ds.Techniques))
	for _, id := range SortedTechniqueIDs(ds.Techniques) {
		all = append(all, TechniqueRank{ID: id, TechniqueSummary: ds.Techniques[id]})
	}

	counts := TacticCounts(ds.Triplets)
	var tactics []TacticCount
	for _, t := range append(append([]string{}, corpus.Tactics...), corpus.UnknownTactic) {
		if n := counts[t]; n > 0 {
			tactics = append(tactics, TacticCount{Tactic: t, Count: n})
		}
	}

	return ReportData{
		GeneratedAt: time.Now().UTC(),
		Summary:     s,
		Top:         TopTechniques(ds.Techniques, top),
		Techniques:  all,
		CTIURLs:     ds.CTIURLs,
		Tactics:     tactics,
	}
}

// Reporter renders the HTML dataset report.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded HTML template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"percent": func(part, total int) string {
			if total == 0 {
				return "0.0%"
			}
			return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
		},
		"attackURL": func(id string) string {
			return "https://attack.mitre.org/techniques/" + strings.ReplaceAll(id, ".", "/") + "/"
		},
		"tacticClass": func(tactic string) string {
			p := strings.ToLower(tactic)
			switch {
			case strings.Contains(p, "initial"), strings.Contains(p, "recon"), strings.Contains(p, "resource"):
				return "kc-initial"
			case strings.Contains(p, "execut"), strings.Contains(p, "persist"), strings.Contains(p, "privilege"):
				return "kc-execution"
			case strings.Contains(p, "defense"), strings.Contains(p, "credential"), strings.Contains(p, "discovery"):
				return "kc-evasion"
			case strings.Contains(p, "lateral"), strings.Contains(p, "collect"), strings.Contains(p, "command"):
				return "kc-lateral"
			case strings.Contains(p, "exfil"), strings.Contains(p, "impact"):
				return "kc-impact"
			default:
				return "kc-default"
			}
		},
	}

	tmpl, err := template.New("report.html.tmpl").Funcs(funcMap).ParseFS(templates, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Reporter{tmpl: tmpl}, nil
}

// GenerateString renders the HTML report to a string.
func (r *Reporter) GenerateString(data ReportData) (string, error) {
	var buf strings.Builder
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// Generate renders report.html into outputDir and returns its path.
func (r *Reporter) Generate(data ReportData, outputDir string) (string, error) {
	reportPath := filepath.Join(outputDir, ReportFile)
	f, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := r.tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return reportPath, nil
}
