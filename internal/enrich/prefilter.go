package enrich

import (
	"strings"

	"github.com/fieldarchive/ingestor/internal/common"
	"github.com/fieldarchive/ingestor/internal/store"
)

// ShouldUseLLM gates paid model calls: a minimum character threshold and an
// optional any-match keyword list, both overridable per task by the
// submitter's intent.
func ShouldUseLLM(content string, cfg common.PrefilterConfig, intent *store.Intent) bool {
	minChars := cfg.MinChars
	keywords := cfg.Keywords
	if intent != nil {
		if intent.PrefilterMinChars != nil {
			minChars = *intent.PrefilterMinChars
		}
		if len(intent.PrefilterKeywords) > 0 {
			keywords = intent.PrefilterKeywords
		}
	}

	if minChars > 0 && len(content) < minChars {
		return false
	}
	if len(keywords) > 0 {
		lower := strings.ToLower(content)
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	return true
}
