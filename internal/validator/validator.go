// Package validator runs rule-based checks over a rewritten message and
// reports each problem as an Issue. Checks are independent of one another and
// of any model call, so the same input always yields the same result.
package validator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/valpere/politone/internal/chunker"
	"github.com/valpere/politone/internal/placeholder"
	"github.com/valpere/politone/internal/tone"
)

// IssueType identifies which rule produced an Issue.
type IssueType string

const (
	IssueEmoji               IssueType = "EMOJI"
	IssueForbiddenPhrase     IssueType = "FORBIDDEN_PHRASE"
	IssueHallucinatedFact    IssueType = "HALLUCINATED_FACT"
	IssueEndingRepetition    IssueType = "ENDING_REPETITION"
	IssueLengthOverexpansion IssueType = "LENGTH_OVEREXPANSION"
	IssuePerspectiveError    IssueType = "PERSPECTIVE_ERROR"
	IssueLockedSpanMissing   IssueType = "LOCKED_SPAN_MISSING"
)

// Severity is ERROR for problems that block a clean result and WARNING for
// advisory ones.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Issue is a single rule violation.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	MatchedText string    `json:"matchedText,omitempty"`
}

// Result is the outcome of Validate. Passed is true exactly when no issue
// has ERROR severity.
type Result struct {
	Passed bool    `json:"passed"`
	Issues []Issue `json:"issues"`
}

// Errors returns the ERROR-severity issues in report order.
func (r Result) Errors() []Issue {
	return filter(r.Issues, SeverityError)
}

// Warnings returns the WARNING-severity issues in report order.
func (r Result) Warnings() []Issue {
	return filter(r.Issues, SeverityWarning)
}

// ErrorTypes returns the distinct ERROR issue types in first-seen order.
func (r Result) ErrorTypes() []IssueType {
	seen := make(map[IssueType]bool)
	var out []IssueType
	for _, is := range r.Issues {
		if is.Severity == SeverityError && !seen[is.Type] {
			seen[is.Type] = true
			out = append(out, is.Type)
		}
	}
	return out
}

// HasErrors reports whether any issue has ERROR severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

func filter(issues []Issue, sev Severity) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// Input is what one validation pass looks at.
type Input struct {
	// Output is the unmasked candidate text.
	Output string
	// Original is the user's unmasked source text.
	Original string
	// Spans are the locked spans extracted from Original.
	Spans []placeholder.LockedSpan
	// PreUnmask is the candidate before placeholders were restored.
	PreUnmask string
	Persona   tone.Persona
}

// emojiTable covers the pictographic blocks models tend to sprinkle into
// casual rewrites. In the arrow, technical, geometric and misc-symbol-arrow
// blocks only the code points with emoji presentation are listed; plain
// arrows and shapes such as → ○ ■ are ordinary bullets in Korean text.
// U+20E3 and U+FE0F catch keycaps (1️⃣) and emoji-styled symbols.
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x20E3, Hi: 0x20E3, Stride: 1}, // combining keycap
		{Lo: 0x2194, Hi: 0x2199, Stride: 1},
		{Lo: 0x21A9, Hi: 0x21AA, Stride: 1},
		{Lo: 0x231A, Hi: 0x231B, Stride: 1}, // ⌚ ⌛
		{Lo: 0x2328, Hi: 0x2328, Stride: 1},
		{Lo: 0x23CF, Hi: 0x23CF, Stride: 1},
		{Lo: 0x23E9, Hi: 0x23F3, Stride: 1}, // ⏩ .. ⏳, ⏰ included
		{Lo: 0x23F8, Hi: 0x23FA, Stride: 1},
		{Lo: 0x25AA, Hi: 0x25AB, Stride: 1},
		{Lo: 0x25B6, Hi: 0x25B6, Stride: 1},
		{Lo: 0x25C0, Hi: 0x25C0, Stride: 1},
		{Lo: 0x25FB, Hi: 0x25FE, Stride: 1},
		{Lo: 0x2600, Hi: 0x26FF, Stride: 1}, // misc symbols
		{Lo: 0x2700, Hi: 0x27BF, Stride: 1}, // dingbats
		{Lo: 0x2B05, Hi: 0x2B07, Stride: 1},
		{Lo: 0x2B1B, Hi: 0x2B1C, Stride: 1},
		{Lo: 0x2B50, Hi: 0x2B50, Stride: 1},
		{Lo: 0x2B55, Hi: 0x2B55, Stride: 1},
		{Lo: 0xFE0F, Hi: 0xFE0F, Stride: 1}, // emoji presentation selector
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1F0FF, Stride: 1}, // mahjong, dominoes, cards
		{Lo: 0x1F100, Hi: 0x1F1FF, Stride: 1}, // enclosed alphanumerics, regional indicators
		{Lo: 0x1F200, Hi: 0x1F2FF, Stride: 1}, // enclosed ideographs
		{Lo: 0x1F300, Hi: 0x1F5FF, Stride: 1},
		{Lo: 0x1F600, Hi: 0x1F64F, Stride: 1},
		{Lo: 0x1F680, Hi: 0x1F6FF, Stride: 1},
		{Lo: 0x1F700, Hi: 0x1F77F, Stride: 1},
		{Lo: 0x1F780, Hi: 0x1F7FF, Stride: 1},
		{Lo: 0x1F800, Hi: 0x1F8FF, Stride: 1},
		{Lo: 0x1F900, Hi: 0x1F9FF, Stride: 1},
		{Lo: 0x1FA00, Hi: 0x1FA6F, Stride: 1},
		{Lo: 0x1FA70, Hi: 0x1FAFF, Stride: 1},
	},
}

var reDigits = regexp.MustCompile(`\d(?:[\d,]*\d)?`)

// Validator applies Rules to candidate outputs. It holds no mutable state and
// is safe for concurrent use.
type Validator struct {
	rules   Rules
	endings []string
}

// New creates a Validator from rules. Use DefaultRules for the built-in tables.
func New(rules Rules) *Validator {
	return &Validator{rules: rules, endings: sortedEndings(rules.Endings)}
}

// Validate runs every check over in and returns all issues found. Each check
// is independent; a failing check never hides another's issues.
func (v *Validator) Validate(in Input) Result {
	var issues []Issue
	issues = append(issues, v.checkEmoji(in.Output)...)
	issues = append(issues, v.checkForbidden(in.Output)...)
	issues = append(issues, v.checkFacts(in.Output, in.Original, in.Spans)...)
	issues = append(issues, v.checkEndings(in.Output)...)
	issues = append(issues, v.checkLength(in.Output, in.Original)...)
	issues = append(issues, v.checkPerspective(in.Output, in.Persona)...)
	issues = append(issues, v.checkLocked(in.PreUnmask, in.Spans)...)

	return Result{Passed: !HasErrors(issues), Issues: issues}
}

func (v *Validator) checkEmoji(output string) []Issue {
	var found []string
	seen := make(map[rune]bool)
	for _, r := range output {
		if unicode.Is(emojiTable, r) && !seen[r] {
			seen[r] = true
			found = append(found, string(r))
		}
	}
	if len(found) == 0 {
		return nil
	}
	return []Issue{{
		Type:        IssueEmoji,
		Severity:    SeverityError,
		Message:     "이모지는 사용할 수 없습니다",
		MatchedText: strings.Join(found, ""),
	}}
}

func (v *Validator) checkForbidden(output string) []Issue {
	compact := removeSpaces(output)
	var issues []Issue
	for _, phrase := range v.rules.ForbiddenPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(output, phrase) || strings.Contains(compact, removeSpaces(phrase)) {
			issues = append(issues, Issue{
				Type:        IssueForbiddenPhrase,
				Severity:    SeverityError,
				Message:     "변환 과정에 대한 설명 문구가 포함되어 있습니다",
				MatchedText: phrase,
			})
		}
	}
	return issues
}

// checkFacts flags numbers in the output that appear neither in the original
// nor in any locked span. Full-width digits are folded and thousands
// separators ignored, so "1,500" and "１５００" both match "1500".
func (v *Validator) checkFacts(output, original string, spans []placeholder.LockedSpan) []Issue {
	known := make(map[string]bool)
	for _, n := range numbers(original, 1) {
		known[n] = true
	}
	for _, s := range spans {
		for _, n := range numbers(s.Original, 1) {
			known[n] = true
		}
	}

	var issues []Issue
	reported := make(map[string]bool)
	for _, n := range numbers(output, v.rules.MinFactDigits) {
		if known[n] || reported[n] {
			continue
		}
		reported[n] = true
		issues = append(issues, Issue{
			Type:        IssueHallucinatedFact,
			Severity:    SeverityWarning,
			Message:     "원문에 없는 숫자가 포함되어 있습니다",
			MatchedText: n,
		})
	}
	return issues
}

// numbers returns the normalized digit tokens of text with at least
// minDigits digits.
func numbers(text string, minDigits int) []string {
	folded := width.Fold.String(text)
	var out []string
	for _, tok := range reDigits.FindAllString(folded, -1) {
		n := strings.ReplaceAll(tok, ",", "")
		if len(n) < minDigits {
			continue
		}
		trimmed := strings.TrimLeft(n, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		out = append(out, trimmed)
	}
	return out
}

func (v *Validator) checkEndings(output string) []Issue {
	var issues []Issue

	run, prev := 0, ""
	for _, s := range chunker.Sentences(output) {
		e := v.ending(chunker.TrimEnding(s))
		if e == "" {
			run, prev = 0, ""
			continue
		}
		if e == prev {
			run++
		} else {
			run, prev = 1, e
		}
		if run == v.rules.EndingRun {
			issues = append(issues, Issue{
				Type:        IssueEndingRepetition,
				Severity:    SeverityWarning,
				Message:     "같은 종결어미가 연속으로 반복됩니다",
				MatchedText: e,
			})
		}
	}

	for _, closing := range v.rules.RepeatedClosings {
		if closing == "" {
			continue
		}
		if strings.Count(output, closing) >= v.rules.ClosingLimit {
			issues = append(issues, Issue{
				Type:        IssueEndingRepetition,
				Severity:    SeverityWarning,
				Message:     "같은 맺음말이 여러 번 반복됩니다",
				MatchedText: closing,
			})
		}
	}
	return issues
}

// ending returns the longest configured ending sentence ends with, or "".
func (v *Validator) ending(sentence string) string {
	for _, e := range v.endings {
		if e != "" && strings.HasSuffix(sentence, e) {
			return e
		}
	}
	return ""
}

func (v *Validator) checkLength(output, original string) []Issue {
	orig := utf8.RuneCountInString(strings.TrimSpace(original))
	if orig < v.rules.MinLengthForRatio || orig == 0 {
		return nil
	}
	out := utf8.RuneCountInString(strings.TrimSpace(output))
	if float64(out) <= float64(orig)*v.rules.MaxExpansionRatio {
		return nil
	}
	return []Issue{{
		Type:     IssueLengthOverexpansion,
		Severity: SeverityWarning,
		Message:  "원문에 비해 지나치게 길어졌습니다",
	}}
}

// checkPerspective flags service-provider phrasing when the sender is not
// on the serving side (the recipient is a boss, professor, colleague...).
func (v *Validator) checkPerspective(output string, persona tone.Persona) []Issue {
	if tone.IsReceiverSide(persona) {
		return nil
	}
	compact := removeSpaces(output)
	var issues []Issue
	for _, phrase := range v.rules.PerspectivePhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(compact, removeSpaces(phrase)) {
			issues = append(issues, Issue{
				Type:        IssuePerspectiveError,
				Severity:    SeverityWarning,
				Message:     "보내는 사람의 입장과 맞지 않는 표현입니다",
				MatchedText: phrase,
			})
		}
	}
	return issues
}

func (v *Validator) checkLocked(preUnmask string, spans []placeholder.LockedSpan) []Issue {
	var issues []Issue
	for _, s := range placeholder.Missing(preUnmask, spans) {
		issues = append(issues, Issue{
			Type:        IssueLockedSpanMissing,
			Severity:    SeverityError,
			Message:     "고정 표현이 누락되었습니다",
			MatchedText: s.Original,
		})
	}
	return issues
}

func removeSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
