package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/fieldarchive/ingestor/constants"
)

var (
	docxTagRe       = regexp.MustCompile(`<[^>]+>`)
	docxParaBreakRe = regexp.MustCompile(`</w:p>`)
)

func (e *Extractor) extractDOCX(path string) (Result, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return Result{Source: constants.SourceNone}, fmt.Errorf("read docx: %w", err)
	}
	defer doc.Close()

	// GetContent returns the raw document XML; keep paragraph boundaries as
	// newlines before stripping the markup.
	content := doc.Editable().GetContent()
	content = docxParaBreakRe.ReplaceAllString(content, "\n")
	content = docxTagRe.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	return Result{Text: content, Source: constants.SourceDirect, Pages: 1}, nil
}
