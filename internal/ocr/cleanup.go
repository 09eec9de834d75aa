package ocr

import "strings"

// Degenerate-generation cleanup for VLM output. Greedy decoding with no
// repetition penalty keeps transcriptions verbatim but can loop on long
// pages; these passes trim the loops after the fact. Both passes are
// idempotent.

const (
	// runCollapseThreshold is the run length at which a repeated character
	// is considered degenerate output rather than content.
	runCollapseThreshold = 16
	// phraseCleanupFloor skips the trailing-phrase pass on short texts
	// where repetition is plausibly real content.
	phraseCleanupFloor = 1000
	// phraseRepeatMin is how many consecutive trailing repeats of a
	// substring it takes before the tail is trimmed.
	phraseRepeatMin = 5
)

// CleanRepeats collapses degenerate character runs and trims a repeated
// trailing phrase.
func CleanRepeats(text string) string {
	out := collapseRuns(text)
	return trimTrailingPhrase(out)
}

// collapseRuns shortens any run of 16+ identical characters to 3.
func collapseRuns(text string) string {
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		run := j - i
		if run >= runCollapseThreshold {
			run = 3
		}
		for k := 0; k < run; k++ {
			b.WriteRune(runes[i])
		}
		i = j
	}
	return b.String()
}

// trimTrailingPhrase detects a substring of length 2..n/10 repeated 5 or
// more times consecutively at the end of the text and keeps a single copy.
func trimTrailingPhrase(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < phraseCleanupFloor {
		return text
	}
	for length := 2; length <= n/10; length++ {
		candidate := string(runes[n-length:])
		count := 0
		i := n - length
		for i >= 0 && string(runes[i:i+length]) == candidate {
			count++
			i -= length
		}
		if count >= phraseRepeatMin {
			return string(runes[:n-length*(count-1)])
		}
	}
	return text
}

// promptLeakMarkers are fragments of the transcription instructions that
// the model occasionally echoes back into its output.
var promptLeakMarkers = []string{
	"DETECTED CONTEXT:",
	"Instructions:",
	"- Use the detected context",
	"- Preserve original spelling",
	"- Output only the transcription",
}

// ScrubPromptLeak strips echoed instruction blocks from VLM output.
func ScrubPromptLeak(text string) string {
	result := text
	for _, marker := range promptLeakMarkers {
		idx := strings.Index(result, marker)
		if idx < 0 {
			continue
		}
		window := result[idx:]
		if len(window) > 500 {
			window = window[:500]
		}
		if end := strings.Index(window, "\n\n"); end > 0 {
			result = result[:idx] + result[idx+end+2:]
			continue
		}
		if idx < 50 {
			// Instruction block at the head with no blank line after it:
			// drop instruction-looking lines until real content starts.
			lines := strings.Split(result, "\n")
			var content []string
			inInstructions := true
			for _, line := range lines {
				if inInstructions {
					if looksLikeInstruction(line) {
						continue
					}
					inInstructions = false
				}
				content = append(content, line)
			}
			result = strings.Join(content, "\n")
			break
		}
	}
	return strings.TrimSpace(result)
}

func looksLikeInstruction(line string) bool {
	for _, marker := range promptLeakMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return strings.HasPrefix(strings.TrimSpace(line), "-")
}

// summaryPrefixes betray a description of the page instead of a verbatim
// transcription.
var summaryPrefixes = []string{
	"the handwritten text is",
	"the letter is",
	"this letter",
	"this document",
	"the document",
	"the image",
	"this image",
}

// LooksLikeSummary reports whether the output starts like a description
// rather than a transcription.
func LooksLikeSummary(text string) bool {
	sample := strings.ToLower(strings.TrimSpace(text))
	if sample == "" {
		return false
	}
	for _, prefix := range summaryPrefixes {
		if strings.HasPrefix(sample, prefix) {
			return true
		}
	}
	return false
}
