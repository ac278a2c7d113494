// Package placeholder protects facts that must survive a rewrite verbatim
// (dates, times, amounts, contact details, names) by replacing them with
// numbered markers ({{LOCKED_0}}, {{LOCKED_1}}, …) that the rewriting model
// is instructed to keep. After generation, Unmask puts the originals back.
package placeholder

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// LockedSpan is one protected substring of the original text.
type LockedSpan struct {
	Index       int    `json:"index"`
	Original    string `json:"originalText"`
	Placeholder string `json:"placeholder"`
}

var (
	reURL   = regexp.MustCompile(`https?://[^\s<>"']*[^\s<>"'.,!?)\]]`)
	reEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	rePhone = regexp.MustCompile(`0\d{1,2}-\d{3,4}-\d{4}`)

	// 2025-03-15, 2025.3.15, 2025/03/15
	reNumericDate = regexp.MustCompile(`\d{4}[.\-/]\s?\d{1,2}[.\-/]\s?\d{1,2}`)
	// 2025년 3월 15일 (수), 3월 15일, 2025년 3월, 2025년
	reKoreanDate = regexp.MustCompile(`(?:\d{4}년\s*)?\d{1,2}월(?:\s*\d{1,2}일)?(?:\s*\([월화수목금토일]\))?|\d{4}년`)
	// 오후 3시 30분, 14:30, 9시 반
	reTime = regexp.MustCompile(`(?:(?:오전|오후)\s*)?\d{1,2}시(?:\s*\d{1,2}분|\s*반)?|\d{1,2}:\d{2}(?::\d{2})?`)
	// $20, ₩15,000, 1,500,000원, 3억 원, 30%
	reAmount = regexp.MustCompile(`(?:US\$|\$|₩)\s?\d(?:[\d,]*\d)?(?:\.\d+)?|\d(?:[\d,]*\d)?(?:\.\d+)?\s?(?:만|억|천)?\s?(?:원|달러|엔|유로|%|퍼센트)`)
	// bare numbers with an optional counter unit
	reCount = regexp.MustCompile(`\d(?:[\d,]*\d)?(?:\.\d+)?\s?(?:개월|개|명|건|일|주|년|시간|분|초|부|장|페이지|차|회|번|층|호|박|kg|km|MB|GB)?`)

	// Markers as Mask writes them ({{LOCKED_0}}) and as models mangle them:
	// spaces inside the braces, lower case, single braces or square
	// brackets, "-" or " " instead of "_".
	reTolerant = regexp.MustCompile(`(?i)[\{\[]{1,2}\s*LOCKED\s*[_\-\s]?\s*(\d+)\s*[\}\]]{1,2}`)

	// reTolerant comes first: marker-shaped text in the original is locked
	// whole, never split around its digits.
	detectors = []*regexp.Regexp{
		reTolerant, reURL, reEmail, rePhone, reNumericDate, reKoreanDate, reTime, reAmount, reCount,
	}
)

// Placeholder returns the marker for index.
func Placeholder(index int) string {
	return fmt.Sprintf("{{LOCKED_%d}}", index)
}

type match struct {
	start, end int
}

// Extract finds every substring of text that must not be altered: the
// patterns above plus every occurrence of each literal (proper nouns flagged
// during analysis, user-registered terms). Overlapping candidates are
// resolved leftmost first, then longest. Spans are numbered in order of
// appearance.
func Extract(text string, literals []string) []LockedSpan {
	var found []match

	for _, re := range detectors {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[1] > loc[0] {
				found = append(found, match{loc[0], loc[1]})
			}
		}
	}

	for _, lit := range literals {
		lit = strings.TrimSpace(lit)
		if lit == "" {
			continue
		}
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], lit)
			if i < 0 {
				break
			}
			start := from + i
			found = append(found, match{start, start + len(lit)})
			from = start + len(lit)
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	var spans []LockedSpan
	lastEnd := 0
	for _, m := range found {
		if m.start < lastEnd {
			continue
		}
		original := strings.TrimRightFunc(text[m.start:m.end], unicode.IsSpace)
		if original == "" {
			continue
		}
		idx := len(spans)
		spans = append(spans, LockedSpan{
			Index:       idx,
			Original:    original,
			Placeholder: Placeholder(idx),
		})
		lastEnd = m.start + len(original)
	}

	return spans
}

// Mask replaces each span's literal occurrence with its placeholder. Spans
// are consumed in order with a forward cursor, so each span takes the
// leftmost occurrence not already covered by an earlier span. A span whose
// text cannot be found after the cursor is left unmasked.
func Mask(text string, spans []LockedSpan) string {
	if len(spans) == 0 {
		return text
	}

	var sb strings.Builder
	cursor := 0
	for _, span := range spans {
		if span.Original == "" {
			continue
		}
		i := strings.Index(text[cursor:], span.Original)
		if i < 0 {
			continue
		}
		start := cursor + i
		sb.WriteString(text[cursor:start])
		sb.WriteString(span.Placeholder)
		cursor = start + len(span.Original)
	}
	sb.WriteString(text[cursor:])

	return sb.String()
}

// Unmask substitutes placeholders in text with the originals, accepting
// markers the model reformatted. It is a single pass, so restored originals
// are never scanned again even when they look like markers themselves.
// Indices with no matching span are left as-is.
func Unmask(text string, spans []LockedSpan) string {
	if len(spans) == 0 {
		return text
	}

	byIndex := make(map[int]string, len(spans))
	for _, s := range spans {
		byIndex[s.Index] = s.Original
	}

	return reTolerant.ReplaceAllStringFunc(text, func(m string) string {
		sub := reTolerant.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		idx, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		if original, ok := byIndex[idx]; ok {
			return original
		}
		return m
	})
}

// Missing returns the spans for which text holds neither the placeholder
// (exact or reformatted) nor the original literal.
func Missing(text string, spans []LockedSpan) []LockedSpan {
	present := make(map[int]bool)
	for _, sub := range reTolerant.FindAllStringSubmatch(text, -1) {
		if idx, err := strconv.Atoi(sub[1]); err == nil {
			present[idx] = true
		}
	}

	var missing []LockedSpan
	for _, s := range spans {
		if present[s.Index] || strings.Contains(text, s.Placeholder) {
			continue
		}
		if s.Original != "" && strings.Contains(text, s.Original) {
			continue
		}
		missing = append(missing, s)
	}
	return missing
}

// InstructionHint is appended to generation prompts when spans exist.
func InstructionHint() string {
	return "{{LOCKED_숫자}} 형태의 표시는 고정된 사실 정보입니다. 철자와 괄호를 그대로 유지하고, 삭제하거나 옮겨 쓰거나 번역하지 마세요."
}
