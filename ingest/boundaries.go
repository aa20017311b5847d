package ingest

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// isAbbreviation checks if the text ending at position pos (the '.')
// is a common abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	// Walk backward to find the start of the word before the dot.
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	word := strings.ToLower(text[start:dotPos])
	return abbreviations[word]
}

// isDecimalDot checks if the dot at position pos is part of a number (e.g. 3.14, $1.50).
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prevByte := text[dotPos-1]
	nextByte := text[dotPos+1]
	return prevByte >= '0' && prevByte <= '9' && nextByte >= '0' && nextByte <= '9'
}

// sentenceBoundaries returns byte positions where a new sentence starts.
// Handles ASCII punctuation (.!?) with abbreviation and decimal number
// awareness, plus CJK sentence-ending punctuation (。！？). Positions are
// sorted ascending; cutting text at any of them keeps both halves intact.
func sentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	// Build a byte-offset map for rune positions.
	byteOffsets := make([]int, n+1)
	off := 0
	for i, r := range runes {
		byteOffsets[i] = off
		off += utf8.RuneLen(r)
	}
	byteOffsets[n] = off

	for i := 0; i < n; i++ {
		r := runes[i]

		// CJK sentence-ending punctuation is always a boundary after.
		if r == '。' || r == '！' || r == '？' {
			if i+1 < n {
				boundaries = append(boundaries, byteOffsets[i+1])
			}
			continue
		}

		if r != '.' && r != '!' && r != '?' {
			continue
		}

		dotBytePos := byteOffsets[i]

		// Skip decimal numbers like 3.14.
		if r == '.' && isDecimalDot(text, dotBytePos) {
			continue
		}

		// Skip abbreviations like Mr., Dr., etc.
		if r == '.' && isAbbreviation(text, dotBytePos) {
			continue
		}

		// Need whitespace or newline after punctuation; the boundary sits at
		// the start of the next sentence so segments partition the text.
		if i+1 < n && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			if runes[i+1] == '\n' {
				boundaries = append(boundaries, byteOffsets[i+1])
			} else if i+2 < n && unicode.IsUpper(runes[i+2]) {
				boundaries = append(boundaries, byteOffsets[i+2])
			}
		}
	}
	return boundaries
}

// wordBoundaries returns byte positions of word starts inside text[start:end],
// used as a fallback when a single sentence is larger than a level's target.
func wordBoundaries(text string, start, end int) []int {
	var cuts []int
	inSpace := false
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if unicode.IsSpace(r) {
			inSpace = true
		} else if inSpace {
			cuts = append(cuts, i)
			inSpace = false
		}
		i += size
	}
	return cuts
}

// boundariesWithin filters a sorted boundary list to positions strictly
// inside (start, end).
func boundariesWithin(all []int, start, end int) []int {
	lo := sort.SearchInts(all, start+1)
	hi := sort.SearchInts(all, end)
	return all[lo:hi]
}
