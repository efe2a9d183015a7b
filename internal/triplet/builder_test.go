package triplet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/sigma"
)

// mapResolver is a fixed in-memory Resolver.
type mapResolver map[string]sigma.RuleMetadata

func (m mapResolver) Resolve(id, title string) (sigma.RuleMetadata, bool) {
	if r, ok := m[id]; ok && id != "" {
		return r, true
	}
	if r, ok := m[title]; ok && title != "" {
		return r, true
	}
	return sigma.RuleMetadata{}, false
}

func writeResult(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newBuilder(dir string, rules Resolver) *Builder {
	return &Builder{Rules: rules, ResultsDir: dir, Ext: ".evtx", IncludeEvents: true}
}

func TestBuild_JoinsMetadataAndClassifiesReferences(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, "Execution__sysmon_1_ps.json", `[
		{"title": "Raw Title", "sigma_id": "abc-123", "rule_level": "low", "tags": ["attack.t1000"],
		 "count": 2, "matches": [{"EventID": 1}, {"EventID": 1}]}
	]`)

	rules := mapResolver{
		"abc-123": {
			ID:         "abc-123",
			Title:      "Suspicious PowerShell",
			Level:      "high",
			Tags:       []string{"attack.execution", "attack.t1059.001"},
			References: []string{"https://thedfirreport.com/x", "https://attack.mitre.org/y"},
			Path:       "rules/ps.yml",
		},
	}

	triplets, stats, err := newBuilder(dir, rules).Build()
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 1, stats.Detections)
	assert.Equal(t, 0, stats.Unresolved)

	tr := triplets[0]
	assert.Equal(t, "Execution/sysmon_1_ps.evtx", tr.EvtxFile)
	assert.Equal(t, "Execution", tr.Tactic)
	assert.Equal(t, "Suspicious PowerShell", tr.RuleTitle)
	assert.Equal(t, "abc-123", tr.RuleID)
	assert.Equal(t, "high", tr.RuleLevel)
	assert.Equal(t, "rules/ps.yml", tr.RuleFile)
	assert.Equal(t, []string{"T1059.001"}, tr.TechniqueIDs)
	assert.Equal(t, 2, tr.MatchCount)
	assert.Len(t, tr.MatchedEvents, 2)
	assert.True(t, tr.MetadataFound)

	assert.Equal(t, []cti.Reference{{URL: "https://thedfirreport.com/x", Classification: cti.CTI}}, tr.CTIReferences)
	assert.Equal(t, []cti.Reference{{URL: "https://attack.mitre.org/y", Classification: cti.NonCTI}}, tr.OtherReferences)
	assert.True(t, tr.HasCTILink)
}

func TestBuild_TitleFallbackAndUnresolved(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, "Discovery__net.json", `[
		{"title": "Net Recon", "id": "not-indexed", "level": "medium", "tags": ["attack.t1087"], "matches": [{}]},
		{"title": "Unknown Rule", "rule_level": "critical", "tags": ["attack.T1003", "attack.t1003"], "count": 5}
	]`)
	rules := mapResolver{
		"Net Recon": {ID: "net-1", Title: "Net Recon", Tags: []string{"attack.t1087.001"}},
	}

	triplets, stats, err := newBuilder(dir, rules).Build()
	require.NoError(t, err)
	require.Len(t, triplets, 2)
	assert.Equal(t, 2, stats.Detections)
	assert.Equal(t, 1, stats.Unresolved)

	byTitle := triplets[0]
	assert.Equal(t, "net-1", byTitle.RuleID)
	assert.Equal(t, []string{"T1087.001"}, byTitle.TechniqueIDs)
	assert.Equal(t, 1, byTitle.MatchCount)

	raw := triplets[1]
	assert.False(t, raw.MetadataFound)
	assert.Equal(t, "Unknown Rule", raw.RuleTitle)
	assert.Equal(t, "critical", raw.RuleLevel)
	assert.Equal(t, []string{"T1003"}, raw.TechniqueIDs)
	assert.Equal(t, 5, raw.MatchCount)
	assert.Empty(t, raw.CTIReferences)
	assert.False(t, raw.HasCTILink)
	assert.Equal(t, "Discovery", raw.Tactic)
}

func TestBuild_EmptyResultCountsAsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, "a.json", `[]`)
	writeResult(t, dir, "b.json", "")

	triplets, stats, err := newBuilder(dir, nil).Build()
	require.NoError(t, err)
	assert.Empty(t, triplets)
	assert.Equal(t, 2, stats.Empty)
	assert.Equal(t, 0, stats.ParseErrors)
	assert.Equal(t, 2, stats.ResultFiles)
}

func TestBuild_MalformedResultCountsAsParseError(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, "broken.json", `this is not json`)
	writeResult(t, dir, "object.json", `{"title": "not a list"}`)
	writeResult(t, dir, "null.json", `null`)
	writeResult(t, dir, "truncated.json", `[{"title": "x"`)
	writeResult(t, dir, "notes.log", `engine stderr`)

	triplets, stats, err := newBuilder(dir, nil).Build()
	require.NoError(t, err)
	assert.Empty(t, triplets)
	assert.Equal(t, 4, stats.ParseErrors)
	assert.Equal(t, 0, stats.Empty)
	assert.Equal(t, 4, stats.ResultFiles)
}

func TestBuild_MissingResultsDir(t *testing.T) {
	_, _, err := newBuilder(filepath.Join(t.TempDir(), "absent"), nil).Build()
	assert.Error(t, err)
}

func TestBuild_ExcludeEvents(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, "x.json", `[{"title": "T", "matches": [{"a": 1}]}]`)

	b := newBuilder(dir, nil)
	b.IncludeEvents = false
	triplets, _, err := b.Build()
	require.NoError(t, err)
	require.Len(t, triplets, 1)
	assert.Nil(t, triplets[0].MatchedEvents)
	assert.Equal(t, 1, triplets[0].MatchCount)
}

func TestJoin_CTILinkInvariant(t *testing.T) {
	rules := mapResolver{
		"only-docs": {ID: "only-docs", References: []string{"https://docs.microsoft.com/a"}},
		"blog":      {ID: "blog", References: []string{"https://example.com/blog/a"}},
		"none":      {ID: "none"},
	}
	b := newBuilder("", rules)
	for _, id := range []string{"only-docs", "blog", "none", "absent"} {
		tr := b.Join(Detection{SigmaID: id}, "x.evtx")
		assert.Equal(t, len(tr.CTIReferences) > 0, tr.HasCTILink, id)
	}
}

func TestExtractTechniques(t *testing.T) {
	got := ExtractTechniques([]string{"attack.t1059", "attack.T1059.001", "attack.t1059"})
	assert.Equal(t, []string{"T1059", "T1059.001"}, got)

	// order-independent as a set
	got = ExtractTechniques([]string{"attack.t1059.001", "attack.t1059", "attack.T1059"})
	assert.ElementsMatch(t, []string{"T1059", "T1059.001"}, got)

	assert.Equal(t, []string{}, ExtractTechniques([]string{"attack.execution", "car.2013-05-004", "attack.g0016"}))
	assert.Equal(t, []string{}, ExtractTechniques(nil))
	assert.Equal(t, []string{"T1003"}, ExtractTechniques([]string{"ATTACK.T1003"}))
}

func TestDetection_Accessors(t *testing.T) {
	n := 0
	d := Detection{ID: "id", SigmaID: "sid", RuleLevel: "low", Count: &n, Matches: []map[string]interface{}{{}}}
	assert.Equal(t, "sid", d.Identifier())
	assert.Equal(t, "low", d.Severity())
	assert.Equal(t, 0, d.MatchCount())

	d = Detection{ID: "id", Level: "high", RuleLevel: "low"}
	assert.Equal(t, "id", d.Identifier())
	assert.Equal(t, "high", d.Severity())
	assert.Equal(t, 0, d.MatchCount())
}
