// Package chunker splits Korean prose into sentences and cuts bounded
// context windows around a selection. Sentences feed the decomposition
// prompt and the ending-repetition rule; windows give partial rewrites just
// enough surroundings to keep the register consistent.
package chunker

import (
	"strconv"
	"strings"
	"unicode"
)

// DefaultWindowRunes is the default number of runes kept on each side of a
// selection by Window.
const DefaultWindowRunes = 150

// isTerminator reports whether r ends a sentence. Korean text uses the ASCII
// marks almost exclusively, but chat input often carries the full-width and
// ellipsis forms too.
func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// isCloser reports whether r may trail a terminator and still belong to the
// same sentence (closing quotes and brackets, tildes used as soft endings).
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '」', '』', '”', '’', '~':
		return true
	}
	return false
}

// Sentences splits text into trimmed sentences. A sentence ends at
//  1. a run of terminators (and trailing closers) followed by whitespace or
//     the end of text, or
//  2. a line break.
//
// Terminators are kept with their sentence; empty pieces are dropped. Decimal
// points ("3.5") do not split because they are not followed by whitespace.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0

	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' || r == '\r' {
			flush(i + 1)
			continue
		}
		if !isTerminator(r) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j == len(runes) || unicode.IsSpace(runes[j]) {
			flush(j)
			i = j - 1
		}
	}
	flush(len(runes))

	return out
}

// TrimEnding strips trailing terminators, closers and whitespace from a
// sentence so its grammatical ending can be compared.
func TrimEnding(sentence string) string {
	return strings.TrimRightFunc(sentence, func(r rune) bool {
		return isTerminator(r) || isCloser(r) || unicode.IsSpace(r)
	})
}

// Window returns up to radius runes of text before and after the first
// occurrence of selection. If selection does not occur in text, before holds
// the first 2×radius runes of text and after is empty. If radius ≤ 0,
// DefaultWindowRunes is used.
func Window(text, selection string, radius int) (before, after string) {
	if radius <= 0 {
		radius = DefaultWindowRunes
	}

	idx := strings.Index(text, selection)
	if selection == "" || idx < 0 {
		runes := []rune(text)
		if len(runes) > 2*radius {
			runes = runes[:2*radius]
		}
		return strings.TrimSpace(string(runes)), ""
	}

	head := []rune(text[:idx])
	tail := []rune(text[idx+len(selection):])
	if len(head) > radius {
		head = head[len(head)-radius:]
	}
	if len(tail) > radius {
		tail = tail[:radius]
	}
	return strings.TrimSpace(string(head)), strings.TrimSpace(string(tail))
}

// Number formats sentences as a numbered list ("1. …\n2. …") for prompts.
func Number(sentences []string) string {
	var sb strings.Builder
	for i, s := range sentences {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(s)
	}
	return sb.String()
}
