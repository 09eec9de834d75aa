package enrich

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metadata is the inferred descriptive record persisted with each document.
type Metadata struct {
	Title        string `json:"title"`
	Theme        string `json:"theme,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	DocID        string `json:"doc_id"`
	SHA256       string `json:"sha256"`
	Provenance   string `json:"provenance"`
	InferredDate string `json:"inferred_date,omitempty"`
	Extension    string `json:"extension"`
	DocType      string `json:"doc_type,omitempty"`
}

var (
	// 2023-04-01, 2023_04_01, 20230401 in file names.
	fileDateRe = regexp.MustCompile(`(20\d{2})[-_.]?(0[1-9]|1[0-2])[-_.]?(0[1-9]|[12]\d|3[01])`)
	// Dates in content require an explicit separator.
	textDateRe = regexp.MustCompile(`(20\d{2})[-/.](0[1-9]|1[0-2])[-/.](0[1-9]|[12]\d|3[01])`)
)

// docTypeKeywords maps file-name fragments to a coarse document type.
var docTypeKeywords = []struct{ needle, docType string }{
	{"transcript", "transcript"},
	{"map", "map"},
	{"report", "report"},
	{"decision", "decision"},
	{"ruling", "decision"},
	{"filing", "filing"},
	{"application", "application"},
	{"summary", "summary"},
}

// InferMetadata derives title, hashes, date, and document type from the
// file and its extracted content. raw is the content bytes used for the
// stable document id; pass nil to hash the content string.
func InferMetadata(filePath, theme, content string, raw []byte) Metadata {
	base := filepath.Base(filePath)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	if title == "" {
		title = "Untitled"
	}

	var sizeBytes int64
	if info, err := os.Stat(filePath); err == nil {
		sizeBytes = info.Size()
	}

	if raw == nil {
		raw = []byte(content)
	}
	sha1Sum := sha1.Sum(raw)
	sha256Sum := sha256.Sum256(raw)

	md := Metadata{
		Title:      title,
		Theme:      theme,
		SizeBytes:  sizeBytes,
		DocID:      hex.EncodeToString(sha1Sum[:]),
		SHA256:     hex.EncodeToString(sha256Sum[:]),
		Provenance: filePath,
		Extension:  strings.ToLower(strings.TrimPrefix(filepath.Ext(base), ".")),
	}

	// File name wins over content for date inference.
	if date := matchDate(fileDateRe, base); date != "" {
		md.InferredDate = date
	} else if date := matchDate(textDateRe, content); date != "" {
		md.InferredDate = date
	}

	lower := strings.ToLower(base)
	for _, kw := range docTypeKeywords {
		if strings.Contains(lower, kw.needle) {
			md.DocType = kw.docType
			break
		}
	}

	return md
}

func matchDate(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	// Round-trip rejects impossible dates like February 31st.
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
