package quality

import (
	"math"
	"strings"
	"unicode"
)

// Decision summarises how trustworthy a block of OCR output looks.
type Decision struct {
	Quality   float64  `json:"quality"`
	Suspect   bool     `json:"suspect"`
	Reasons   []string `json:"reasons,omitempty"`
	WordCount int      `json:"wordCount"`
}

func CountWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// Score rates OCR text between 0 and 1. It never affects extraction results;
// callers use it for logging and reporting.
func Score(text string) Decision {
	clean := strings.TrimSpace(text)
	wc := CountWords(clean)

	total := float64(len([]rune(clean)))
	if total == 0 {
		return Decision{Quality: 0, Suspect: false, Reasons: []string{"empty_text"}}
	}

	alphaRatio := float64(countIf(clean, unicode.IsLetter)) / total
	digitRatio := float64(countIf(clean, unicode.IsDigit)) / total
	garbageRatio := float64(countGarbage(clean)) / total

	score := 1.0
	var reasons []string

	// Misread glyphs tend to come out as punctuation soup.
	if alphaRatio < 0.30 && digitRatio < 0.20 {
		penalty := 0.40
		if alphaRatio < 0.10 {
			penalty = 0.60
		}
		score -= penalty
		reasons = append(reasons, "low_alpha_ratio")
	}

	if garbageRatio > 0.01 {
		score -= math.Min(0.50, garbageRatio*50)
		reasons = append(reasons, "garbage_chars")
	}

	if wc >= 4 && singleCharRatio(clean) > 0.40 {
		score -= 0.25
		reasons = append(reasons, "scrambled_text")
	}

	if hasRepeatedRun(clean, 6) {
		score -= 0.15
		reasons = append(reasons, "repeated_patterns")
	}

	score = math.Max(0, math.Min(1, score))

	return Decision{
		Quality:   score,
		Suspect:   score < 0.5,
		Reasons:   reasons,
		WordCount: wc,
	}
}

func singleCharRatio(s string) float64 {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0
	}
	n := 0
	for _, w := range words {
		if len([]rune(w)) == 1 {
			n++
		}
	}
	return float64(n) / float64(len(words))
}

func hasRepeatedRun(s string, min int) bool {
	run := 0
	var last rune
	for _, r := range s {
		if r == last && !unicode.IsSpace(r) {
			run++
			if run >= min {
				return true
			}
			continue
		}
		run = 1
		last = r
	}
	return false
}

func countIf(s string, pred func(rune) bool) int {
	n := 0
	for _, r := range s {
		if pred(r) {
			n++
		}
	}
	return n
}

func countGarbage(s string) int {
	n := 0
	for _, r := range s {
		if r == '\uFFFD' || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			n++
		}
	}
	return n
}
