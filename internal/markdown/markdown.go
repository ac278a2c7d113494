// Package markdown flattens markdown that models add to what should be plain
// message text.
package markdown

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// markupRe detects the constructs models actually emit: headings, bold or
// italic emphasis, inline code, block quotes and bullet lists. Numbered lines
// are left alone since "1." is common in ordinary Korean messages.
var markupRe = regexp.MustCompile("(?m)^\\s{0,3}(?:#{1,6}\\s|[-*+]\\s|>\\s)|\\*\\*[^*\\n]+\\*\\*|__[^_\\n]+__|`[^`\\n]+`")

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// HasMarkup reports whether text contains markdown worth flattening.
func HasMarkup(text string) bool {
	return markupRe.MatchString(text)
}

// ToHTML renders md without typographic substitutions, so quotes and dashes
// come back exactly as written.
func ToHTML(md []byte) string {
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.SkipHTML})
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}

// PlainText returns text with markdown syntax removed. Text without markup is
// returned unchanged.
func PlainText(text string) string {
	if !HasMarkup(text) {
		return text
	}
	plain := html.UnescapeString(StripHTMLTags(ToHTML([]byte(text))))
	plain = blankLinesRe.ReplaceAllString(plain, "\n\n")
	return strings.TrimSpace(plain)
}

// StripHTMLTags drops everything between angle brackets.
func StripHTMLTags(htmlContent string) string {
	var result bytes.Buffer
	inTag := false

	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				result.WriteRune(ch)
			}
		}
	}

	return result.String()
}
