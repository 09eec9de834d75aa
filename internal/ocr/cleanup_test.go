package ocr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseRuns(t *testing.T) {
	assert.Equal(t, "£££", CleanRepeats(strings.Repeat("£", 40)))
	assert.Equal(t, "end...", CleanRepeats("end..."))
	// 15 repeats stay untouched, 16 collapse.
	assert.Equal(t, strings.Repeat(".", 15), CleanRepeats(strings.Repeat(".", 15)))
	assert.Equal(t, "...", CleanRepeats(strings.Repeat(".", 16)))
}

func TestTrimTrailingPhrase(t *testing.T) {
	// Below the floor, repeated phrases are assumed to be real content.
	short := strings.Repeat("yours truly ", 10)
	assert.Equal(t, short, CleanRepeats(short))

	body := strings.Repeat("A normal line of transcribed text.\n", 40)
	loop := body + strings.Repeat("same phrase ", 20)
	cleaned := CleanRepeats(loop)
	assert.Less(t, len(cleaned), len(loop))
	assert.True(t, strings.HasSuffix(cleaned, "same phrase "))
	assert.NotContains(t, cleaned, "same phrase same phrase same phrase ")
}

func TestCleanRepeatsIdempotent(t *testing.T) {
	inputs := []string{
		strings.Repeat("x", 100),
		strings.Repeat("A normal line of transcribed text.\n", 40) + strings.Repeat("ditto ", 30),
		"plain text with no repetition at all",
	}
	for _, in := range inputs {
		once := CleanRepeats(in)
		assert.Equal(t, once, CleanRepeats(once))
	}
}

func TestScrubPromptLeak(t *testing.T) {
	leaked := "DETECTED CONTEXT:\nJames Teit, Spences Bridge\n\nDear Sir, I write to inform you."
	assert.Equal(t, "Dear Sir, I write to inform you.", ScrubPromptLeak(leaked))

	clean := "Dear Sir, I write to inform you."
	assert.Equal(t, clean, ScrubPromptLeak(clean))

	headBlock := "Instructions:\n- Use the detected context\n- Preserve original spelling\nDear Sir, the survey is complete."
	assert.Equal(t, "Dear Sir, the survey is complete.", ScrubPromptLeak(headBlock))
}

func TestLooksLikeSummary(t *testing.T) {
	assert.True(t, LooksLikeSummary("The handwritten text is a letter from James Teit."))
	assert.True(t, LooksLikeSummary("  This document contains a list of names."))
	assert.False(t, LooksLikeSummary("Dear Sir, I have the honour to report."))
	assert.False(t, LooksLikeSummary(""))
}
