package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/valpere/perekladoc/internal/document"
)

// RunStatus classifies the run as a whole.
type RunStatus string

const (
	// RunComplete means every unit translated.
	RunComplete RunStatus = "complete"
	// RunPartial means at least one unit failed; the output document
	// keeps the original text in those places.
	RunPartial RunStatus = "partial"
)

// UnitResult is one report line, in extraction order.
type UnitResult struct {
	Index      int             `json:"index"`
	Path       string          `json:"path"`
	Status     document.Status `json:"status"`
	Source     string          `json:"source"`
	Translated string          `json:"translated,omitempty"`
	Error      string          `json:"error,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
}

type Summary struct {
	Total      int           `json:"total"`
	Translated int           `json:"translated"`
	Failed     int           `json:"failed"`
	Cached     int           `json:"cached"`
	Status     RunStatus     `json:"status"`
	Duration   time.Duration `json:"duration"`
}

// Report is the full outcome of a pipeline run. Units keeps extraction
// order regardless of completion order.
type Report struct {
	RunID        string       `json:"run_id"`
	Service      string       `json:"service"`
	SourceLang   string       `json:"source_lang"`
	TargetLang   string       `json:"target_lang"`
	CheckpointID string       `json:"checkpoint_id,omitempty"`
	Units        []UnitResult `json:"units"`
	Summary      Summary      `json:"summary"`
}

func (r *Report) fill(units []*document.TextUnit, cached map[int]bool, elapsed time.Duration) {
	r.Units = make([]UnitResult, len(units))
	r.Summary = Summary{Total: len(units), Duration: elapsed}

	for i, u := range units {
		r.Units[i] = UnitResult{
			Index:      u.Index,
			Path:       u.Path.String(),
			Status:     u.Status,
			Source:     u.Text,
			Translated: u.Translated,
			Error:      u.Err,
			Cached:     cached[u.Index],
		}
		switch u.Status {
		case document.StatusTranslated:
			r.Summary.Translated++
			if cached[u.Index] {
				r.Summary.Cached++
			}
		case document.StatusFailed:
			r.Summary.Failed++
		}
	}

	if r.Summary.Failed == 0 {
		r.Summary.Status = RunComplete
	} else {
		r.Summary.Status = RunPartial
	}
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders a human-readable summary with one line per failed
// unit.
func (r *Report) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Run %s: %s → %s via %s\n", r.RunID, r.SourceLang, r.TargetLang, r.Service)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "  %d units: %d translated (%d from cache), %d failed in %s\n",
		r.Summary.Total, r.Summary.Translated, r.Summary.Cached, r.Summary.Failed, r.Summary.Duration.Round(time.Millisecond))
	if err != nil {
		return err
	}
	for _, u := range r.Units {
		if u.Status != document.StatusFailed {
			continue
		}
		if _, err := fmt.Fprintf(w, "  FAILED %s: %s\n", u.Path, u.Error); err != nil {
			return err
		}
	}
	if r.Summary.Status == RunPartial {
		_, err = fmt.Fprintln(w, "  failed units keep their original text in the output document")
	}
	return err
}
