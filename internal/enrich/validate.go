package enrich

import "strings"

// ValidateRecord runs the pre-persistence checks on an extracted record.
// Returns the list of problems, empty when the record is indexable.
func ValidateRecord(content string, md Metadata) []string {
	var problems []string
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		problems = append(problems, "empty content")
	}
	if len(trimmed) < 10 {
		problems = append(problems, "content too short to index")
	}
	if md.DocID == "" {
		problems = append(problems, "missing doc_id")
	}
	if md.Extension == "" {
		problems = append(problems, "missing extension")
	}
	return problems
}
