// Package chunker splits paragraph text that exceeds a translation
// service's request-size limit into pieces that respect sentence and word
// boundaries, so each piece still translates coherently.
package chunker

import (
	"strings"
	"unicode"
)

// Chunk splits text into pieces of at most maxRunes unicode code points.
// Split points are chosen, in order of preference, at:
//
//  1. sentence-ending punctuation (. ! ?) followed by a space
//  2. any whitespace (word boundary)
//  3. a hard cut at maxRunes when no boundary exists
//
// A text that already fits is returned as a single-element slice. A
// maxRunes of zero or less means unlimited.
func Chunk(text string, maxRunes int) []string {
	if maxRunes <= 0 || len([]rune(text)) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len([]rune(remaining)) > maxRunes {
		cut := splitPoint([]rune(remaining), maxRunes)
		piece := strings.TrimSpace(string([]rune(remaining)[:cut]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		remaining = strings.TrimSpace(string([]rune(remaining)[cut:]))
	}

	if strings.TrimSpace(remaining) != "" {
		chunks = append(chunks, strings.TrimSpace(remaining))
	}

	return chunks
}

// splitPoint returns the rune index at which to cut the candidate prefix
// runes[:maxRunes], searching backwards for the best boundary.
func splitPoint(runes []rune, maxRunes int) int {
	// Sentence boundary: terminator followed by a space.
	for i := maxRunes - 1; i > 0; i-- {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && i+1 < maxRunes && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}

	// Word boundary.
	for i := maxRunes - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	// Hard cut.
	return maxRunes
}
