// Package scheduler fans a document's text units out to a bounded pool of
// workers calling a translation service. Results land at each unit's own
// index, so the sequence stays in extraction order no matter the completion
// order. One unit failing never aborts its siblings.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valpere/perekladoc/internal/chunker"
	"github.com/valpere/perekladoc/internal/document"
	"github.com/valpere/perekladoc/internal/placeholder"
	"github.com/valpere/perekladoc/internal/translator"
	"github.com/valpere/perekladoc/internal/validator"
)

const (
	MinWorkers = 1
	MaxWorkers = 8

	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultCallTimeout = 30 * time.Second
)

type Config struct {
	// Workers is clamped to [MinWorkers, MaxWorkers].
	Workers int

	// MaxAttempts counts the first call too; 1 means no retries.
	MaxAttempts int

	// RetryDelay is the backoff before the first retry; it doubles on
	// each subsequent retry.
	RetryDelay time.Duration

	// CallTimeout bounds a single service call.
	CallTimeout time.Duration

	// ValidateLang demotes results whose detected language does not
	// match the target to a per-unit failure.
	ValidateLang bool

	// Protect shields URLs, e-mail addresses and inline tags from the
	// service with placeholder markers.
	Protect bool

	// Glossary maps source terms to the exact target term they must
	// translate to. A non-empty glossary implies placeholder protection.
	Glossary map[string]string

	// Progress, when set, is invoked after each unit reaches a terminal
	// state. Dropping progress updates never affects results.
	Progress func(done, total int)
}

type Outcome struct {
	Translated int
	Failed     int
}

type Scheduler struct {
	svc translator.Service
	cfg Config
	val *validator.Validator
}

func New(svc translator.Service, cfg Config) *Scheduler {
	if cfg.Workers < MinWorkers {
		cfg.Workers = MinWorkers
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	s := &Scheduler{svc: svc, cfg: cfg}
	if cfg.ValidateLang {
		s.val = validator.New()
	}
	return s
}

// Run processes every unit and returns once all dispatched units reached a
// terminal state. Cancelling ctx stops dispatch of further units; units
// never dispatched are marked failed so the report stays complete.
func (s *Scheduler) Run(ctx context.Context, svcCfg translator.ServiceConfig, units []*document.TextUnit, sourceLang, targetLang string) *Outcome {
	total := len(units)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		unit := u
		g.Go(func() error {
			// A slot can open up after cancellation; the unit is then
			// left pending and swept into the failed count below.
			if gctx.Err() == nil {
				s.translateUnit(gctx, svcCfg, unit, sourceLang, targetLang)
			}
			if s.cfg.Progress != nil {
				s.cfg.Progress(int(done.Add(1)), total)
			}
			return nil
		})
	}

	// Workers never return errors; per-unit outcomes live on the units.
	_ = g.Wait()

	outcome := &Outcome{}
	for _, u := range units {
		switch u.Status {
		case document.StatusTranslated:
			outcome.Translated++
		case document.StatusFailed:
			outcome.Failed++
		default:
			// Dispatch stopped before this unit was picked up.
			u.Status = document.StatusFailed
			u.Err = "cancelled before dispatch"
			outcome.Failed++
		}
	}
	return outcome
}

func (s *Scheduler) translateUnit(ctx context.Context, svcCfg translator.ServiceConfig, u *document.TextUnit, sourceLang, targetLang string) {
	if u.IsEmpty() {
		// Identity mapping; the service never sees empty units.
		u.Translated = u.Text
		u.Status = document.StatusTranslated
		return
	}

	protect := s.cfg.Protect || len(s.cfg.Glossary) > 0

	text := u.Text
	var markers []string
	if protect {
		text, markers = placeholder.Protect(text, s.cfg.Glossary)
	}

	translated, err := s.translateText(ctx, svcCfg, text, sourceLang, targetLang)
	if err != nil {
		u.Status = document.StatusFailed
		u.Err = err.Error()
		return
	}

	if protect {
		translated = placeholder.Restore(translated, markers)
	}

	if s.val != nil {
		if ok, verr := s.val.IsValid(translated, targetLang); !ok {
			u.Status = document.StatusFailed
			u.Err = verr.Error()
			return
		}
	}

	u.Translated = translated
	u.Status = document.StatusTranslated
}

// translateText performs the service call with retry and backoff, chunking
// the text first when the service imposes a request-size limit.
func (s *Scheduler) translateText(ctx context.Context, svcCfg translator.ServiceConfig, text, sourceLang, targetLang string) (string, error) {
	limit := s.svc.MaxTextLen()
	if limit <= 0 || len([]rune(text)) <= limit {
		return s.callWithRetry(ctx, svcCfg, text, sourceLang, targetLang)
	}

	chunks := chunker.Chunk(text, limit)
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		part, err := s.callWithRetry(ctx, svcCfg, c, sourceLang, targetLang)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " "), nil
}

func (s *Scheduler) callWithRetry(ctx context.Context, svcCfg translator.ServiceConfig, text, sourceLang, targetLang string) (string, error) {
	req := translator.Request{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}

	delay := s.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		result, err := s.svc.Translate(callCtx, svcCfg, req)
		cancel()

		if err == nil {
			return result.TranslatedText, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return "", err
		}
		// A per-call timeout while the run is still alive is transient.
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		if !timedOut && !translator.Retryable(err) {
			return "", err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}

	return "", lastErr
}
