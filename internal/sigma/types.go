package sigma

import "fmt"

// RuleMetadata is the enrichment record kept for one Sigma rule document.
type RuleMetadata struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	References  []string               `json:"references"`
	Tags        []string               `json:"tags"`
	Description string                 `json:"description"`
	Level       string                 `json:"level"`
	Status      string                 `json:"status"`
	Logsource   map[string]interface{} `json:"logsource"`
	Author      string                 `json:"author"`
	Path        string                 `json:"path"`
}

// LoadStats counts what happened while indexing a rule directory.
type LoadStats struct {
	Files       int `json:"files"`
	Indexed     int `json:"indexed"`
	ParseErrors int `json:"parse_errors"`
	Unqualified int `json:"unqualified"`
	Collisions  int `json:"collisions"`

	// MetadataOnly counts indexed rules whose detection block sigma-go rejected.
	MetadataOnly int          `json:"metadata_only"`
	Failures     []ParseError `json:"failures,omitempty"`
}

// ParseError records a rule document that could not be decoded.
type ParseError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}
