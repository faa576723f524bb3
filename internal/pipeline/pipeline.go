// Package pipeline drives a full document translation run: extract text
// units, resolve the source language, consult translation memory, schedule
// the remaining units across the worker pool and write the results back
// into the document structure.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/perekladoc/internal/detector"
	"github.com/valpere/perekladoc/internal/document"
	"github.com/valpere/perekladoc/internal/scheduler"
	"github.com/valpere/perekladoc/internal/store"
	"github.com/valpere/perekladoc/internal/translator"
)

type Config struct {
	// SourceLang is an ISO 639-1 code, or "auto" to detect from the
	// document's own text.
	SourceLang string
	TargetLang string

	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	CallTimeout time.Duration

	// ValidateLang rejects results whose detected language does not
	// match the target.
	ValidateLang bool

	// Protect shields URLs, e-mail addresses and inline tags from the
	// translation service.
	Protect bool

	// UseGlossary loads the glossary for the language pair from the
	// store and enforces it during translation.
	UseGlossary bool

	// Store enables translation memory and run checkpoints. Nil runs
	// without persistence.
	Store *store.Store

	// Resume restarts an interrupted run from a checkpoint ID. Units
	// already translated by the previous run are not re-sent.
	Resume string

	// InputName and OutputName label the checkpoint record. They carry
	// no meaning beyond display and resume bookkeeping.
	InputName  string
	OutputName string

	Progress func(done, total int)

	Logger *slog.Logger
}

type Pipeline struct {
	svc    translator.Service
	svcCfg translator.ServiceConfig
	cfg    Config
	log    *slog.Logger
}

func New(svc translator.Service, svcCfg translator.ServiceConfig, cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{svc: svc, svcCfg: svcCfg, cfg: cfg, log: log}
}

// Translate runs the pipeline over a document given as raw bytes and
// returns the translated document plus the per-unit report. A document
// that cannot be parsed or reserialized aborts the run with an error;
// individual unit failures do not.
func (p *Pipeline) Translate(ctx context.Context, data []byte) ([]byte, *Report, error) {
	start := time.Now()

	doc, err := document.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, err
	}

	units := doc.Extract()
	p.log.Info("document parsed", "units", len(units))

	sourceLang := p.resolveSourceLang(units)

	report := &Report{
		RunID:      uuid.New().String(),
		Service:    p.svc.Name(),
		SourceLang: sourceLang,
		TargetLang: p.cfg.TargetLang,
	}

	cached := make(map[int]bool)
	checkpointID, err := p.prefill(ctx, units, sourceLang, cached)
	if err != nil {
		return nil, nil, err
	}

	glossary, err := p.loadGlossary(ctx, sourceLang)
	if err != nil {
		p.log.Warn("glossary unavailable", "error", err)
	}

	pending := make([]*document.TextUnit, 0, len(units))
	for _, u := range units {
		if u.Status == document.StatusPending {
			pending = append(pending, u)
		}
	}

	// Progress counts the whole document, so prefilled units are reported
	// up front and the scheduler's counter is offset past them.
	prefilled := len(units) - len(pending)
	if p.cfg.Progress != nil && prefilled > 0 {
		p.cfg.Progress(prefilled, len(units))
	}

	if len(pending) > 0 {
		var progress func(done, total int)
		if p.cfg.Progress != nil {
			progress = func(done, _ int) {
				p.cfg.Progress(prefilled+done, len(units))
			}
		}

		sched := scheduler.New(p.svc, scheduler.Config{
			Workers:      p.cfg.Workers,
			MaxAttempts:  p.cfg.MaxAttempts,
			RetryDelay:   p.cfg.RetryDelay,
			CallTimeout:  p.cfg.CallTimeout,
			ValidateLang: p.cfg.ValidateLang,
			Protect:      p.cfg.Protect,
			Glossary:     glossary,
			Progress:     progress,
		})
		sched.Run(ctx, p.svcCfg, pending, sourceLang, p.cfg.TargetLang)
		p.persistResults(ctx, pending, sourceLang, checkpointID)
	}

	for _, u := range units {
		if u.Status != document.StatusTranslated {
			continue
		}
		if err := doc.WriteBack(u); err != nil {
			u.Status = document.StatusFailed
			u.Err = err.Error()
		}
	}

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, nil, &document.StructureError{Err: fmt.Errorf("failed to serialize document: %w", err)}
	}

	report.fill(units, cached, time.Since(start))

	if p.cfg.Store != nil && checkpointID != "" && report.Summary.Failed == 0 {
		if err := p.cfg.Store.CompleteDocCheckpoint(ctx, checkpointID); err != nil {
			p.log.Warn("failed to complete checkpoint", "checkpoint", checkpointID, "error", err)
		}
	}
	report.CheckpointID = checkpointID

	p.log.Info("run finished",
		"run_id", report.RunID,
		"translated", report.Summary.Translated,
		"failed", report.Summary.Failed,
		"cached", report.Summary.Cached,
		"duration", report.Summary.Duration)

	return out.Bytes(), report, nil
}

// TranslateFile is the file-path convenience wrapper around Translate.
func (p *Pipeline) TranslateFile(ctx context.Context, inputPath, outputPath string) (*Report, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", inputPath, err)
	}

	if p.cfg.InputName == "" {
		p.cfg.InputName = inputPath
	}
	if p.cfg.OutputName == "" {
		p.cfg.OutputName = outputPath
	}

	out, report, err := p.Translate(ctx, data)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(outputPath, out, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return report, nil
}

func (p *Pipeline) resolveSourceLang(units []*document.TextUnit) string {
	src := p.cfg.SourceLang
	if src != "" && src != "auto" {
		return src
	}

	texts := make([]string, 0, len(units))
	for _, u := range units {
		texts = append(texts, u.Text)
	}

	d := detector.New()
	if iso, ok := d.SampleISO(texts); ok {
		p.log.Info("source language detected", "lang", iso)
		return iso
	}

	p.log.Warn("could not detect source language, deferring to service default")
	return ""
}

// prefill marks units already covered by a resumed checkpoint or the
// translation memory as translated before scheduling. Returns the
// checkpoint ID for this run, or "" when persistence is off.
func (p *Pipeline) prefill(ctx context.Context, units []*document.TextUnit, sourceLang string, cached map[int]bool) (string, error) {
	if p.cfg.Store == nil {
		return "", nil
	}

	checkpointID := p.cfg.Resume
	if checkpointID != "" {
		cp, err := p.cfg.Store.GetDocCheckpoint(ctx, checkpointID)
		if err != nil {
			return "", err
		}
		if cp.UnitCount != len(units) {
			return "", fmt.Errorf("checkpoint %s was taken over %d units, document has %d", checkpointID, cp.UnitCount, len(units))
		}

		saved, err := p.cfg.Store.GetCheckpointUnits(ctx, checkpointID)
		if err != nil {
			return "", err
		}
		for idx, translated := range saved {
			if idx < 0 || idx >= len(units) {
				continue
			}
			units[idx].Translated = translated
			units[idx].Status = document.StatusTranslated
			cached[idx] = true
		}
		p.log.Info("resumed from checkpoint", "checkpoint", checkpointID, "restored", len(saved))
	} else {
		id, err := p.cfg.Store.CreateDocCheckpoint(ctx, p.cfg.InputName, p.cfg.OutputName, sourceLang, p.cfg.TargetLang, len(units))
		if err != nil {
			return "", fmt.Errorf("failed to create checkpoint: %w", err)
		}
		checkpointID = id
	}

	for _, u := range units {
		if u.Status != document.StatusPending || u.IsEmpty() {
			continue
		}
		translated, hit, err := p.cfg.Store.GetCachedTranslation(ctx, u.Text, sourceLang, p.cfg.TargetLang)
		if err != nil {
			p.log.Warn("translation memory lookup failed", "unit", u.Index, "error", err)
			continue
		}
		if hit {
			u.Translated = translated
			u.Status = document.StatusTranslated
			cached[u.Index] = true
		}
	}

	return checkpointID, nil
}

// persistResults stores freshly translated units in the translation memory
// and the run checkpoint. Persistence errors are logged, never fatal.
func (p *Pipeline) persistResults(ctx context.Context, units []*document.TextUnit, sourceLang, checkpointID string) {
	if p.cfg.Store == nil {
		return
	}

	for _, u := range units {
		if u.Status != document.StatusTranslated {
			continue
		}
		if !u.IsEmpty() {
			if err := p.cfg.Store.SaveToMemory(ctx, u.Text, sourceLang, p.cfg.TargetLang, u.Translated, p.svc.Name()); err != nil {
				p.log.Warn("failed to save to translation memory", "unit", u.Index, "error", err)
			}
		}
		if checkpointID != "" {
			if err := p.cfg.Store.SaveCheckpointUnit(ctx, checkpointID, u.Index, u.Translated); err != nil {
				p.log.Warn("failed to save checkpoint unit", "unit", u.Index, "error", err)
			}
		}
	}
}

func (p *Pipeline) loadGlossary(ctx context.Context, sourceLang string) (map[string]string, error) {
	if !p.cfg.UseGlossary || p.cfg.Store == nil {
		return nil, nil
	}
	return p.cfg.Store.GetGlossaryTerms(ctx, sourceLang, p.cfg.TargetLang)
}
