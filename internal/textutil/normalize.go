package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer applies NFC composition and strips control characters except
// newlines, carriage returns, and tabs. Carriage returns survive here so the
// line-ending rewrite below still sees them.
var normalizer = transform.Chain(
	norm.NFC,
	runes.Remove(runes.Predicate(func(r rune) bool {
		return unicode.Is(unicode.Cc, r) && r != '\n' && r != '\r' && r != '\t'
	})),
)

// NormalizeText canonicalizes extracted document text: NFC unicode
// composition, unix line endings, trimmed trailing whitespace per line, and
// at most one blank line between paragraphs.
func NormalizeText(text string) string {
	normalized, _, err := transform.String(normalizer, text)
	if err != nil {
		normalized = text
	}
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	var b strings.Builder
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
