package ingest

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText puts extracted text into the canonical form the chunk tree
// is built over: NFC-composed runes, LF line endings, no trailing whitespace
// on lines, and no leading/trailing blank space. The round-trip guarantee
// (leaf texts concatenate back to the document) refers to this form.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
