package triplet

import (
	"regexp"
	"strings"
)

// techniqueTagPattern matches ATT&CK technique tags such as attack.t1059 or
// attack.t1059.001.
var techniqueTagPattern = regexp.MustCompile(`(?i)\battack\.(t\d{4}(?:\.\d{3})?)\b`)

// ExtractTechniques returns the upper-cased technique identifiers found in
// tags, deduplicated, in first-seen order.
func ExtractTechniques(tags []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, tag := range tags {
		for _, m := range techniqueTagPattern.FindAllStringSubmatch(tag, -1) {
			id := strings.ToUpper(m[1])
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
