// Package detector resolves the "auto" source language by statistical
// detection over document text.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// sampleLimit caps how much text SampleISO feeds to the detector; beyond
// this, more input does not improve accuracy.
const sampleLimit = 2000

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector over all languages lingua knows. Construction is
// expensive; reuse the instance.
func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the ISO 639-1 code of the detected language in lower
// case, matching the codes translation services expect.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// SampleISO detects the language of a document from its first non-empty
// text fragments. Detection over a joined sample is far more reliable than
// detecting a single short paragraph.
func (d *Detector) SampleISO(texts []string) (string, bool) {
	var sb strings.Builder
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(t)
		if sb.Len() >= sampleLimit {
			break
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	return d.DetectISO(sb.String())
}
