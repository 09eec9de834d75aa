package extract

import "unicode"

// Escalation thresholds for OCR output. Text under either bound is worth a
// second, slower pass through the vision model.
const (
	QualityFloor = 0.25
	MinPrintable = 30
)

// Quality scores extracted text in [0,1] and returns the printable length.
// The score blends letter ratio, alphanumeric density, printable ratio, and
// (capped) character diversity. Garbled OCR output scores low on all four.
func Quality(text string) (float64, int) {
	if text == "" {
		return 0, 0
	}
	runes := []rune(text)
	var printable []rune
	for _, r := range runes {
		if unicode.IsPrint(r) {
			printable = append(printable, r)
		}
	}
	length := len(printable)
	if length == 0 {
		return 0, 0
	}

	var alpha, digit int
	unique := make(map[rune]struct{}, length)
	for _, r := range printable {
		if unicode.IsLetter(r) {
			alpha++
		}
		if unicode.IsDigit(r) {
			digit++
		}
		unique[r] = struct{}{}
	}

	printableRatio := float64(length) / float64(len(runes))
	alphaRatio := float64(alpha) / float64(length)
	density := float64(alpha+digit) / float64(length)
	diversity := float64(len(unique)) / float64(length)
	if diversity > 0.5 {
		diversity = 0.5
	}

	score := alphaRatio*0.4 + density*0.3 + printableRatio*0.2 + diversity*0.1
	return score, length
}
