// Package cti classifies rule reference URLs by their likelihood of pointing at
// published threat intelligence.
package cti

import (
	"regexp"
	"strings"
)

// Classification is the provenance class of a reference URL.
type Classification string

const (
	// CTI is a named threat-intelligence publisher.
	CTI Classification = "cti"
	// LikelyCTI matched only the keyword heuristic. Lower confidence than CTI.
	LikelyCTI Classification = "likely_cti"
	// NonCTI is a known informational/reference source.
	NonCTI Classification = "non_cti"
	// Unknown matched nothing.
	Unknown Classification = "unknown"
)

// Relevant reports whether the class counts as a CTI link.
func (c Classification) Relevant() bool {
	return c == CTI || c == LikelyCTI
}

// Reference is a classified URL as it appears in the dataset.
type Reference struct {
	URL            string         `json:"url"`
	Classification Classification `json:"classification"`
}

// nonCTIPatterns are informational or reference hosts. Checked first.
var nonCTIPatterns = compile(
	`attack\.mitre\.org`,
	`car\.mitre\.org`,
	`d3fend\.mitre\.org`,
	`capec\.mitre\.org`,
	`cve\.mitre\.org`,
	`nvd\.nist\.gov`,
	`docs\.microsoft\.com`,
	`learn\.microsoft\.com`,
	`msdn\.microsoft\.com`,
	`technet\.microsoft\.com`,
	`support\.microsoft\.com`,
	`social\.technet\.microsoft\.com`,
	`devblogs\.microsoft\.com`,
	`ss64\.com`,
	`lolbas-project\.github\.io`,
	`gtfobins\.github\.io`,
	`loldrivers\.io`,
	`hijacklibs\.net`,
	`wikipedia\.org`,
	`wiki\.`,
	`github\.com`,
	`gist\.github\.com`,
	`raw\.githubusercontent\.com`,
	`gitlab\.com`,
	`bitbucket\.org`,
	`twitter\.com`,
	`(^|[/.])x\.com`,
	`linkedin\.com`,
	`youtube\.com`,
	`youtu\.be`,
	`reddit\.com`,
	`stackoverflow\.com`,
	`superuser\.com`,
	`serverfault\.com`,
	`medium\.com/@`,
	`web\.archive\.org`,
	`sigmahq\.io`,
	`atomicredteam\.io`,
)

// ctiPatterns are named threat-intelligence publishers.
var ctiPatterns = compile(
	`thedfirreport\.com`,
	`mandiant\.com`,
	`fireeye\.com`,
	`crowdstrike\.com`,
	`unit42\.paloaltonetworks\.com`,
	`securelist\.com`,
	`welivesecurity\.com`,
	`microsoft\.com/security/blog`,
	`microsoft\.com/en-us/security/blog`,
	`redcanary\.com`,
	`talosintelligence\.com`,
	`symantec-enterprise-blogs\.security\.com`,
	`proofpoint\.com`,
	`sentinelone\.com`,
	`trendmicro\.com`,
	`cybereason\.com`,
	`elastic\.co/security-labs`,
	`volexity\.com`,
	`cisa\.gov`,
	`us-cert\.gov`,
	`secureworks\.com`,
	`news\.sophos\.com`,
	`huntress\.com`,
	`checkpoint\.com`,
	`research\.checkpoint\.com`,
	`kaspersky\.com`,
	`eset\.com`,
	`fortinet\.com/blog`,
	`mcafee\.com`,
	`trellix\.com`,
	`bitdefender\.com`,
	`malwarebytes\.com`,
	`group-ib\.com`,
	`recordedfuture\.com`,
	`intezer\.com`,
	`zscaler\.com`,
	`cyble\.com`,
	`blackberry\.com`,
	`nccgroup\.`,
	`f-secure\.com`,
	`withsecure\.com`,
	`varonis\.com`,
	`deepinstinct\.com`,
	`binarydefense\.com`,
	`lab52\.io`,
	`securityintelligence\.com`,
	`cert\.ssi\.gouv\.fr`,
	`ncsc\.gov\.uk`,
)

// keywordPatterns are generic signs of intelligence publications.
var keywordPatterns = compile(
	`blog`,
	`report`,
	`threat`,
	`advisory`,
	`intelligence`,
	`incident`,
	`analysis`,
	`research`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Classify returns the class of url. The deny-list wins over the publisher
// allow-list, which wins over the keyword heuristic.
func Classify(url string) Classification {
	u := strings.ToLower(strings.TrimSpace(url))
	switch {
	case u == "":
		return Unknown
	case matchesAny(u, nonCTIPatterns):
		return NonCTI
	case matchesAny(u, ctiPatterns):
		return CTI
	case matchesAny(u, keywordPatterns):
		return LikelyCTI
	default:
		return Unknown
	}
}

// Partition classifies every url and splits the result into CTI-relevant
// references and the rest, keeping input order within each part.
func Partition(urls []string) (relevant, other []Reference) {
	relevant = []Reference{}
	other = []Reference{}
	for _, u := range urls {
		ref := Reference{URL: u, Classification: Classify(u)}
		if ref.Classification.Relevant() {
			relevant = append(relevant, ref)
		} else {
			other = append(other, ref)
		}
	}
	return relevant, other
}
