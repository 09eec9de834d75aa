package ocr

import "strings"

// Strict verbatim transcription prompt. Wording matters here: weaker
// phrasing makes the model summarize handwritten pages.
const verbatimPrompt = "Transcribe ONLY the exact text visible in this document image. " +
	"Preserve original spelling, punctuation, line breaks, and casing exactly as written - including any errors. " +
	"Do NOT correct, summarize, describe, or paraphrase. " +
	"Do NOT start with phrases like 'The handwritten text is' or 'The document contains'. " +
	"Mark unclear words as [illegible]. Output only the transcription, nothing else."

// Known entities for archival material from the Pacific Northwest.
// Injected into the scout prompt so frequently-occurring proper nouns
// are transcribed correctly.
var knownEntities = []string{
	"Coeur d'Alene", "Pend d'Oreille", "Lillooet", "Okanagan", "Similkameen",
	"Kamloops", "Spences Bridge", "Spuzzum", "Lytton", "Yale", "Hope",
	"Kalispel", "Shuswap", "Thompson", "Fraser", "Nanaimo", "Musqueam",
	"Franz Boas", "James Teit", "Tetlenitsa", "W. E. Ditchburn", "A. W. Vowell",
	"Nlaka'pamux", "Secwepemc", "Syilx", "St'at'imc", "Nuxalk",
	"Salish", "Interior Salish", "Coast Salish", "Athapaskan", "Chilcotin",
}

// scoutPrompt asks for entity hints only, not a transcription.
func scoutPrompt() string {
	return `Analyze this document image and extract key information:
1. Names of people (sender, recipient, mentioned)
2. Place names (cities, addresses, institutions)
3. Dates (day, month, year)
4. Document type (letter, form, note)
5. Any letterhead or printed text

Known entities that may appear: ` + strings.Join(knownEntities, ", ") + `

List these briefly. Do not transcribe the full document yet.`
}

// contextualPrompt folds the scout pass output into the transcription
// instructions.
func contextualPrompt(context string) string {
	return `Transcribe this document verbatim.

DETECTED CONTEXT:
` + context + `

Instructions:
- Use the detected context to accurately transcribe proper nouns
- Preserve original spelling, punctuation, line breaks, and casing
- Output only the transcription, no commentary or summaries
- Do not add or infer words not visible in the image
- Do not start with phrases like "The handwritten text is" or "The letter is"
- If a word is unclear, write [illegible]`
}

// selfCorrectionPrompt asks the model to re-read the image against a prior
// transcription attempt.
func selfCorrectionPrompt(transcription string) string {
	return `Look at this document image carefully.
A previous OCR attempt produced this text:
---
` + transcription + `
---
Your task: Compare the OCR text against what you see in the image. Fix any errors in names, dates, or words that were misread. Output ONLY the corrected text, nothing else.`
}
