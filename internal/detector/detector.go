// Package detector guards against rewrites that drift out of Korean.
package detector

import (
	"regexp"
	"strings"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minDetectionLetters is the minimum number of letters required to attempt
// language detection. Shorter texts produce unreliable results and pass.
const minDetectionLetters = 10

var placeholderRe = regexp.MustCompile(`\{\{\s*LOCKED_\d+\s*\}\}`)

// Detector distinguishes Korean from the languages a rewrite plausibly drifts
// into. Building it is expensive; reuse the instance.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector limited to Korean, English, Japanese and Chinese.
func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(lingua.Korean, lingua.English, lingua.Japanese, lingua.Chinese).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// IsKorean reports whether text reads as Korean. Placeholders are ignored.
// Texts too short to judge, and texts whose language cannot be determined,
// are accepted.
func (d *Detector) IsKorean(text string) bool {
	text = strings.TrimSpace(placeholderRe.ReplaceAllString(text, " "))

	letters, hangul := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Hangul, r) {
				hangul++
			}
		}
	}
	if letters < minDetectionLetters {
		return true
	}
	if hangul == 0 {
		return false
	}

	lang, ok := d.Detect(text)
	if !ok {
		return true
	}
	return lang == lingua.Korean
}
