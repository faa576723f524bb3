// Package placeholder protects non-translatable fragments of document text
// (URLs, e-mail addresses, inline markup tags, {braced} template fields)
// during translation by replacing them with numbered markers ([PH0], [PH1],
// …). After translation, Restore substitutes the originals back.
package placeholder

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// URLs with an explicit scheme
	reURL = regexp.MustCompile(`https?://[^\s<>"]+`)

	// e-mail addresses
	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// inline markup tags that survive into paragraph text
	reTag = regexp.MustCompile(`<[^>]+>`)

	// template fields like {name} or {{count}}
	reField = regexp.MustCompile(`\{\{?[a-zA-Z_][a-zA-Z0-9_.]*\}?\}`)

	// placeholder reference in translated text
	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces protected fragments with numbered placeholders [PH0],
// [PH1], … in the order they appear in text. It returns the modified text
// and the slice of captured substitutes so Restore can put them back.
//
// terms is an optional glossary: occurrences of a source term are markered
// like any other protected fragment, but Restore substitutes the mapped
// target term instead of the original. Longer terms are protected first so
// overlapping terms cannot clip each other. Pass nil for no glossary.
func Protect(text string, terms map[string]string) (string, []string) {
	var markers []string
	counter := 0

	mark := func(substitute string) string {
		id := fmt.Sprintf("[PH%d]", counter)
		markers = append(markers, substitute)
		counter++
		return id
	}

	for _, src := range termsByLength(terms) {
		tgt := terms[src]
		for strings.Contains(text, src) {
			text = strings.Replace(text, src, mark(tgt), 1)
		}
	}

	replace := func(match string) string { return mark(match) }

	// Order matters: URLs first (they may contain dots that look like
	// e-mail hosts), then e-mails, tags, template fields.
	text = reURL.ReplaceAllStringFunc(text, replace)
	text = reEmail.ReplaceAllStringFunc(text, replace)
	text = reTag.ReplaceAllStringFunc(text, replace)
	text = reField.ReplaceAllStringFunc(text, replace)

	return text, markers
}

// termsByLength returns glossary source terms sorted longest first.
func termsByLength(terms map[string]string) []string {
	if len(terms) == 0 {
		return nil
	}
	keys := make([]string, 0, len(terms))
	for k := range terms {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}

// Restore substitutes [PHn] markers in text back with the values captured
// by Protect. Unrecognised indices leave the placeholder as-is.
func Restore(text string, markers []string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		idx := 0
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// Validate checks whether all markers created by Protect are still present
// in the translated text. It returns the list of missing indices.
func Validate(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
