// Package reporter aggregates triplets into per-technique summaries and writes
// the dataset artifacts and human-readable reports.
package reporter

import (
	"sort"

	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

// TechniqueSummary folds every triplet tagged with one technique.
type TechniqueSummary struct {
	Detections    int      `json:"detections"`
	CTILinked     int      `json:"cti_linked"`
	MatchedEvents int      `json:"matched_events"`
	Rules         []string `json:"rules"`
	EvtxFiles     []string `json:"evtx_files"`
}

// TechniqueRank pairs a technique id with its summary for ordered output.
type TechniqueRank struct {
	ID string `json:"technique_id"`
	TechniqueSummary
}

// FilterCTILinked returns the triplets with at least one CTI reference. The
// input slice is not modified.
func FilterCTILinked(triplets []triplet.Triplet) []triplet.Triplet {
	linked := []triplet.Triplet{}
	for _, t := range triplets {
		if t.HasCTILink {
			linked = append(linked, t)
		}
	}
	return linked
}

// UniqueCTIURLs returns the sorted set of CTI reference URLs.
func UniqueCTIURLs(triplets []triplet.Triplet) []string {
	seen := make(map[string]bool)
	for _, t := range triplets {
		for _, ref := range t.CTIReferences {
			seen[ref.URL] = true
		}
	}
	return sortedKeys(seen)
}

// SummarizeTechniques builds one summary per technique id found in triplets.
// A triplet tagged with several techniques counts toward each of them.
func SummarizeTechniques(triplets []triplet.Triplet) map[string]TechniqueSummary {
	type acc struct {
		sum   TechniqueSummary
		rules map[string]bool
		files map[string]bool
	}
	byID := make(map[string]*acc)

	for _, t := range triplets {
		for _, id := range t.TechniqueIDs {
			a, ok := byID[id]
			if !ok {
				a = &acc{rules: make(map[string]bool), files: make(map[string]bool)}
				byID[id] = a
			}
			a.sum.Detections++
			if t.HasCTILink {
				a.sum.CTILinked++
			}
			a.sum.MatchedEvents += t.MatchCount
			if t.RuleTitle != "" {
				a.rules[t.RuleTitle] = true
			}
			a.files[t.EvtxFile] = true
		}
	}

	out := make(map[string]TechniqueSummary, len(byID))
	for id, a := range byID {
		a.sum.Rules = sortedKeys(a.rules)
		a.sum.EvtxFiles = sortedKeys(a.files)
		out[id] = a.sum
	}
	return out
}

// SortedTechniqueIDs returns the technique ids in ascending order.
func SortedTechniqueIDs(summaries map[string]TechniqueSummary) []string {
	ids := make([]string, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopTechniques returns up to n techniques ordered by detections, highest
// first, ties broken by ascending id. n <= 0 returns all of them.
func TopTechniques(summaries map[string]TechniqueSummary, n int) []TechniqueRank {
	ranks := make([]TechniqueRank, 0, len(summaries))
	for _, id := range SortedTechniqueIDs(summaries) {
		ranks = append(ranks, TechniqueRank{ID: id, TechniqueSummary: summaries[id]})
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].Detections > ranks[j].Detections
	})
	if n > 0 && len(ranks) > n {
		ranks = ranks[:n]
	}
	return ranks
}

// ClassificationCounts counts references per classification across triplets.
func ClassificationCounts(triplets []triplet.Triplet) map[cti.Classification]int {
	counts := map[cti.Classification]int{
		cti.CTI:       0,
		cti.LikelyCTI: 0,
		cti.NonCTI:    0,
		cti.Unknown:   0,
	}
	for _, t := range triplets {
		for _, ref := range t.CTIReferences {
			counts[ref.Classification]++
		}
		for _, ref := range t.OtherReferences {
			counts[ref.Classification]++
		}
	}
	return counts
}

// TacticCounts counts triplets per inferred tactic.
func TacticCounts(triplets []triplet.Triplet) map[string]int {
	counts := make(map[string]int)
	for _, t := range triplets {
		counts[t.Tactic]++
	}
	return counts
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
