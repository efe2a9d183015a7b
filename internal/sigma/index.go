// Package sigma builds the rule metadata index used to enrich detection records.
package sigma

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Index maps rule identifiers and trimmed rule titles to their metadata.
// It is built once and read-only afterwards.
type Index struct {
	byKey map[string]*RuleMetadata
	rules []*RuleMetadata
}

// NewIndex walks dir recursively and indexes every .yml/.yaml rule document.
func NewIndex(dir string) (*Index, LoadStats, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("rule directory: %w", err)
	}
	if !info.IsDir() {
		return nil, LoadStats{}, fmt.Errorf("rule directory %s is not a directory", dir)
	}
	return NewIndexFS(os.DirFS(dir), dir)
}

// NewIndexFS indexes rule documents from fsys. root is joined in front of every
// recorded rule path. In production fsys is os.DirFS; in tests any fs.FS can be used.
//
// Only the first YAML document of a file is considered. A document qualifies
// when it carries an id or a title. When sigma-go rejects a rule (typically its
// detection block), the metadata fields are decoded on their own; only documents
// that are not valid YAML are skipped and counted. On key collision the later
// file wins.
func NewIndexFS(fsys fs.FS, root string) (*Index, LoadStats, error) {
	idx := &Index{byKey: make(map[string]*RuleMetadata)}
	var stats LoadStats

	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk rules: %w", err)
	}
	sort.Strings(files)
	stats.Files = len(files)

	for _, p := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			stats.ParseErrors++
			stats.Failures = append(stats.Failures, ParseError{Path: full, Err: err.Error()})
			continue
		}
		meta, metadataOnly, err := parseRule(data, full)
		if err != nil {
			stats.ParseErrors++
			stats.Failures = append(stats.Failures, ParseError{Path: full, Err: err.Error()})
			logrus.WithField("rule", full).Debugf("skipping unparsable rule: %v", err)
			continue
		}
		if metadataOnly {
			stats.MetadataOnly++
		}

		if meta.ID == "" && meta.Title == "" {
			stats.Unqualified++
			continue
		}
		stats.Collisions += idx.add(meta)
		stats.Indexed++
	}

	return idx, stats, nil
}

// add stores meta under its id and title and returns the number of keys that
// replaced a record from another file.
func (idx *Index) add(meta *RuleMetadata) int {
	collisions := 0
	for _, key := range []string{meta.ID, meta.Title} {
		if key == "" {
			continue
		}
		if prev, ok := idx.byKey[key]; ok && prev != meta {
			collisions++
		}
		idx.byKey[key] = meta
	}
	idx.rules = append(idx.rules, meta)
	return collisions
}

// ruleDocument is the metadata subset of a rule document.
type ruleDocument struct {
	ID          string                 `yaml:"id"`
	Title       string                 `yaml:"title"`
	References  []string               `yaml:"references"`
	Tags        []string               `yaml:"tags"`
	Description string                 `yaml:"description"`
	Level       string                 `yaml:"level"`
	Status      string                 `yaml:"status"`
	Author      string                 `yaml:"author"`
	Logsource   map[string]interface{} `yaml:"logsource"`
}

// parseRule parses data with sigma-go and falls back to decoding the metadata
// fields alone. metadataOnly reports that the fallback was used.
func parseRule(data []byte, path string) (meta *RuleMetadata, metadataOnly bool, err error) {
	rule, err := sigmalib.ParseRule(data)
	if err == nil {
		return fromRule(rule, path), false, nil
	}

	var doc ruleDocument
	if derr := yaml.Unmarshal(data, &doc); derr != nil {
		return nil, false, derr
	}
	logrus.WithField("rule", path).Debugf("indexing metadata only: %v", err)

	logsource := make(map[string]interface{}, len(doc.Logsource))
	for k, v := range doc.Logsource {
		logsource[k] = v
	}
	return &RuleMetadata{
		ID:          strings.TrimSpace(doc.ID),
		Title:       strings.TrimSpace(doc.Title),
		References:  nonNil(doc.References),
		Tags:        nonNil(doc.Tags),
		Description: strings.TrimSpace(doc.Description),
		Level:       doc.Level,
		Status:      doc.Status,
		Logsource:   logsource,
		Author:      doc.Author,
		Path:        path,
	}, true, nil
}

func fromRule(rule sigmalib.Rule, path string) *RuleMetadata {
	logsource := make(map[string]interface{}, len(rule.Logsource.AdditionalFields)+4)
	for k, v := range rule.Logsource.AdditionalFields {
		logsource[k] = v
	}
	for k, v := range map[string]string{
		"category":   rule.Logsource.Category,
		"product":    rule.Logsource.Product,
		"service":    rule.Logsource.Service,
		"definition": rule.Logsource.Definition,
	} {
		if v != "" {
			logsource[k] = v
		}
	}

	return &RuleMetadata{
		ID:          strings.TrimSpace(rule.ID),
		Title:       strings.TrimSpace(rule.Title),
		References:  nonNil(rule.References),
		Tags:        nonNil(rule.Tags),
		Description: strings.TrimSpace(rule.Description),
		Level:       rule.Level,
		Status:      rule.Status,
		Logsource:   logsource,
		Author:      rule.Author,
		Path:        path,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Resolve looks a rule up by identifier first and by trimmed title second.
func (idx *Index) Resolve(id, title string) (RuleMetadata, bool) {
	if idx == nil {
		return RuleMetadata{}, false
	}
	if id = strings.TrimSpace(id); id != "" {
		if m, ok := idx.byKey[id]; ok {
			return *m, true
		}
	}
	if title = strings.TrimSpace(title); title != "" {
		if m, ok := idx.byKey[title]; ok {
			return *m, true
		}
	}
	return RuleMetadata{}, false
}

// Len returns the number of index keys.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}

// Rules returns the distinct records still reachable through the index,
// sorted by path.
func (idx *Index) Rules() []RuleMetadata {
	if idx == nil {
		return nil
	}
	seen := make(map[*RuleMetadata]bool)
	for _, m := range idx.byKey {
		seen[m] = true
	}
	out := make([]RuleMetadata, 0, len(seen))
	for _, m := range idx.rules {
		if seen[m] {
			out = append(out, *m)
			delete(seen, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
