package corpus

import "strings"

// UnknownTactic is returned by InferTactic when no path segment names a tactic.
const UnknownTactic = "unknown"

// Tactics is the fixed ATT&CK enterprise tactic enumeration, in kill-chain order.
var Tactics = []string{
	"Reconnaissance",
	"Resource Development",
	"Initial Access",
	"Execution",
	"Persistence",
	"Privilege Escalation",
	"Defense Evasion",
	"Credential Access",
	"Discovery",
	"Lateral Movement",
	"Collection",
	"Command and Control",
	"Exfiltration",
	"Impact",
}

var tacticByKey = func() map[string]string {
	m := make(map[string]string, len(Tactics))
	for _, t := range Tactics {
		m[tacticKey(t)] = t
	}
	return m
}()

// InferTactic scans the segments of a corpus-relative path from the root and
// returns the canonical name of the first segment naming a tactic.
// Matching ignores case and treats spaces, underscores and hyphens alike.
func InferTactic(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	for _, seg := range strings.Split(rel, "/") {
		if t, ok := tacticByKey[tacticKey(seg)]; ok {
			return t
		}
	}
	return UnknownTactic
}

func tacticKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
