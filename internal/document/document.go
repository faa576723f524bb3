// Package document wraps a parsed .docx file and exposes its text-bearing
// units (body paragraphs and table-cell paragraphs) as one ordered sequence
// with stable identities. Write-back replaces only the text of a unit; run
// properties, paragraph styles and table topology are never touched.
package document

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"
)

// Status is the lifecycle state of a text unit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusTranslated Status = "translated"
	StatusFailed     Status = "failed"
)

// PathKind distinguishes where a unit originated.
type PathKind int

const (
	KindParagraph PathKind = iota
	KindTableCell
)

// UnitPath is the stable identity of a unit inside the document.
type UnitPath struct {
	Kind PathKind `json:"kind"`

	// Paragraph is the index among body-level paragraphs (KindParagraph)
	// or within the cell (KindTableCell).
	Paragraph int `json:"paragraph"`

	Table int `json:"table,omitempty"`
	Row   int `json:"row,omitempty"`
	Cell  int `json:"cell,omitempty"`
}

func (p UnitPath) String() string {
	if p.Kind == KindParagraph {
		return fmt.Sprintf("p:%d", p.Paragraph)
	}
	return fmt.Sprintf("tbl:%d/r:%d/c:%d/p:%d", p.Table, p.Row, p.Cell, p.Paragraph)
}

// TextUnit is one translatable paragraph. Index is its position in the
// extraction order; the embedded paragraph handle is owned by the adapter.
type TextUnit struct {
	Index      int      `json:"index"`
	Path       UnitPath `json:"path"`
	Text       string   `json:"text"`
	Translated string   `json:"translated,omitempty"`
	Status     Status   `json:"status"`
	Err        string   `json:"error,omitempty"`

	para *docx.Paragraph
}

// IsEmpty reports whether the unit has no translatable content.
// Empty units are carried through the pipeline as identity mappings.
func (u *TextUnit) IsEmpty() bool {
	return strings.TrimSpace(u.Text) == ""
}

// StructureError marks an input that cannot be parsed as a valid docx
// container. It aborts a pipeline run before any translation is attempted.
type StructureError struct {
	Err error
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("invalid document structure: %v", e.Err)
}

func (e *StructureError) Unwrap() error { return e.Err }

// Document wraps an opened docx file.
type Document struct {
	doc *docx.Docx
}

// Open parses a docx byte stream. A corrupt archive or malformed XML
// yields a *StructureError.
func Open(r io.ReaderAt, size int64) (*Document, error) {
	doc, err := docx.Parse(r, size)
	if err != nil {
		return nil, &StructureError{Err: err}
	}
	return &Document{doc: doc}, nil
}

// Wrap adopts an already-built docx object. Used by tests and by callers
// that construct documents programmatically.
func Wrap(doc *docx.Docx) *Document {
	return &Document{doc: doc}
}

// Extract returns the document's text-bearing units in document order:
// body-level paragraphs first, then table paragraphs by table, row, cell.
// Paragraphs nested in table cells appear exactly once. Empty paragraphs
// are included so the final report covers every unit.
func (d *Document) Extract() []*TextUnit {
	var units []*TextUnit

	bodyPara := 0
	table := 0
	for _, item := range d.doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			units = append(units, &TextUnit{
				Index:  len(units),
				Path:   UnitPath{Kind: KindParagraph, Paragraph: bodyPara},
				Text:   paragraphText(it),
				Status: StatusPending,
				para:   it,
			})
			bodyPara++
		case *docx.Table:
			for ri, row := range it.TableRows {
				for ci, cell := range row.TableCells {
					for pi, p := range cell.Paragraphs {
						units = append(units, &TextUnit{
							Index: len(units),
							Path: UnitPath{
								Kind:      KindTableCell,
								Table:     table,
								Row:       ri,
								Cell:      ci,
								Paragraph: pi,
							},
							Text:   paragraphText(p),
							Status: StatusPending,
							para:   p,
						})
					}
				}
			}
			table++
		}
	}

	return units
}

// WriteBack replaces the textual content of the unit's paragraph with
// u.Translated. The translated string lands in the first text run; any
// remaining text runs are emptied but kept, so the run count and all run
// properties survive.
func (d *Document) WriteBack(u *TextUnit) error {
	if u.para == nil {
		return fmt.Errorf("unit %s has no write-back target", u.Path)
	}

	first := true
	for _, child := range u.para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			text, ok := rc.(*docx.Text)
			if !ok {
				continue
			}
			if first {
				text.Text = u.Translated
				first = false
			} else {
				text.Text = ""
			}
		}
	}

	if first && u.Translated != "" {
		// Paragraph had no text run at all; nothing to carry the
		// translation. Only possible for units extracted as empty.
		return fmt.Errorf("unit %s has no text run", u.Path)
	}
	return nil
}

// WriteTo serialises the (possibly mutated) document as a docx archive.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	return d.doc.WriteTo(w)
}

// paragraphText concatenates the text runs of a paragraph, matching the
// order they appear in the XML.
func paragraphText(p *docx.Paragraph) string {
	var sb strings.Builder
	for _, child := range p.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if text, ok := rc.(*docx.Text); ok {
				sb.WriteString(text.Text)
			}
		}
	}
	return sb.String()
}
