// Package postprocess removes common LLM artifacts from generated messages.
//
// It is applied to every raw capability response before the text is unmasked
// and validated.
package postprocess

import (
	"regexp"
	"strings"

	"github.com/valpere/politone/internal/markdown"
)

// Clean removes LLM artifacts from text in five phases and returns the
// trimmed result:
//  1. Thinking / reasoning block removal
//  2. Code fence unwrapping and markdown flattening
//  3. Lead-in echo removal ("변환 결과:", "Here is the message:")
//  4. Trailing note removal ("※ ...", "참고: ...")
//  5. Quote wrapping removal
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeCodeFence(text)
	text = markdown.PlainText(text)
	text = removeLeadIns(text)
	text = removeTrailingNotes(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// --- Phase 1: thinking blocks ---

// thinkingBlockRe matches complete <thinking>…</thinking> style blocks.
// Each tag variant is listed explicitly because Go's RE2 engine does not
// support backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches an opened thinking tag whose closing tag is
// missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// --- Phase 2: code fences ---

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

func removeCodeFence(text string) string {
	if m := codeFenceRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// --- Phase 3: lead-ins ---

// leadInPatterns match introductory lines models prepend even when told not
// to. Each is anchored to the start and requires a colon so that ordinary
// sentences are never cut.
var leadInPatterns = []*regexp.Regexp{
	// "변환 결과:", "수정된 문장:", "바꾼 메시지 :"
	regexp.MustCompile(`^(?:변환|수정|바꾼|다듬은|정리한)\s*(?:된|한)?\s*(?:결과|문장|메시지|문구|글|내용)\s*[:：]`),
	// "다음과 같이 바꿨습니다:", "아래와 같이 수정해 보았습니다:"
	regexp.MustCompile(`^(?:다음과|아래와)\s*같이[^:：\n]{0,30}[:：]`),
	// "네, 다듬어 드릴게요:" or "물론입니다! 아래 문장입니다:" on a line of its own
	regexp.MustCompile(`^(?:네|물론이죠|물론입니다|알겠습니다|좋습니다)[,.!]?\s*[^:：\n]{0,40}[:：][ \t]*\n`),
	// "Here is the rewritten message:", "Sure, here's the text:"
	regexp.MustCompile(`(?i)^(?:(?:certainly|sure|of course)[,.!]?\s*)?here(?:'s| is)[^:\n]{0,40}:`),
}

func removeLeadIns(text string) string {
	for _, re := range leadInPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// --- Phase 4: trailing notes ---

// trailingNoteRe matches an explanatory paragraph after the message body.
var trailingNoteRe = regexp.MustCompile(`(?s)\n\s*(?:※|\(참고|참고\s*[:：]|설명\s*[:：]|\(?Note\s*:).*$`)

func removeTrailingNotes(text string) string {
	return strings.TrimSpace(trailingNoteRe.ReplaceAllString(text, ""))
}

// --- Phase 5: quote wrapping ---

var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
	'「':  '」',
	'『':  '』',
}

// removeQuoteWrapping strips a matching pair of outer quotes when the entire
// text is wrapped in them and the quote does not reappear inside. Supported
// pairs:
//
//	"…"  '…'  “…”  ‘…’  「…」  『…』
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	closer, ok := quotePairs[first]
	if !ok || closer != last {
		return text
	}
	inner := string(runes[1 : n-1])
	if strings.ContainsRune(inner, first) || strings.ContainsRune(inner, last) {
		return text
	}
	return strings.TrimSpace(inner)
}
