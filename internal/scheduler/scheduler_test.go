package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/perekladoc/internal/document"
	"github.com/valpere/perekladoc/internal/translator"
)

type mockService struct {
	nameVal       string
	maxTextLen    int
	translateFunc func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error)
	callCount     atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
}

func (m *mockService) Name() string {
	if m.nameVal == "" {
		return "mock"
	}
	return m.nameVal
}

func (m *mockService) Translate(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
	m.callCount.Add(1)
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		known := m.maxInFlight.Load()
		if cur <= known || m.maxInFlight.CompareAndSwap(known, cur) {
			break
		}
	}

	if m.translateFunc != nil {
		return m.translateFunc(ctx, cfg, req)
	}
	return &translator.Result{ServiceName: m.Name(), TranslatedText: "[" + req.TargetLang + "] " + req.Text}, nil
}

func (m *mockService) IsAvailable(ctx context.Context) error { return nil }

func (m *mockService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "fr", "uk"}, nil
}

func (m *mockService) MaxTextLen() int { return m.maxTextLen }

func makeUnits(texts ...string) []*document.TextUnit {
	units := make([]*document.TextUnit, len(texts))
	for i, txt := range texts {
		units[i] = &document.TextUnit{
			Index:  i,
			Path:   document.UnitPath{Kind: document.KindParagraph, Paragraph: i},
			Text:   txt,
			Status: document.StatusPending,
		}
	}
	return units
}

func TestRun_OrderStableAcrossWorkerCounts(t *testing.T) {
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("sentence %d", i)
	}

	for workers := 1; workers <= 8; workers++ {
		svc := &mockService{
			translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
				// Shuffle completion order.
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				return &translator.Result{TranslatedText: "T:" + req.Text}, nil
			},
		}

		units := makeUnits(texts...)
		s := New(svc, Config{Workers: workers, MaxAttempts: 1})
		outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

		if outcome.Translated != len(texts) {
			t.Fatalf("workers=%d: expected %d translated, got %d", workers, len(texts), outcome.Translated)
		}
		for i, u := range units {
			want := "T:" + texts[i]
			if u.Translated != want {
				t.Errorf("workers=%d unit %d: expected %q, got %q", workers, i, want, u.Translated)
			}
		}
	}
}

func TestRun_WorkerBoundRespected(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			time.Sleep(10 * time.Millisecond)
			return &translator.Result{TranslatedText: req.Text}, nil
		},
	}

	texts := make([]string, 30)
	for i := range texts {
		texts[i] = fmt.Sprintf("u%d", i)
	}
	units := makeUnits(texts...)

	s := New(svc, Config{Workers: 3, MaxAttempts: 1})
	s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if got := svc.maxInFlight.Load(); got > 3 {
		t.Errorf("expected at most 3 concurrent calls, observed %d", got)
	}
}

func TestRun_WorkersClamped(t *testing.T) {
	s := New(&mockService{}, Config{Workers: 99})
	if s.cfg.Workers != MaxWorkers {
		t.Errorf("expected workers clamped to %d, got %d", MaxWorkers, s.cfg.Workers)
	}
	s = New(&mockService{}, Config{Workers: 0})
	if s.cfg.Workers != MinWorkers {
		t.Errorf("expected workers clamped to %d, got %d", MinWorkers, s.cfg.Workers)
	}
}

func TestRun_EmptyUnitsShortCircuit(t *testing.T) {
	svc := &mockService{}
	units := makeUnits("Hello", "", "   \t", "World")

	s := New(svc, Config{Workers: 2, MaxAttempts: 1})
	outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if outcome.Translated != 4 {
		t.Fatalf("expected 4 translated, got %d", outcome.Translated)
	}
	if got := svc.callCount.Load(); got != 2 {
		t.Errorf("expected 2 service calls (empty units skipped), got %d", got)
	}
	if units[1].Translated != "" {
		t.Errorf("expected empty unit to map to itself, got %q", units[1].Translated)
	}
	if units[2].Translated != "   \t" {
		t.Errorf("expected whitespace unit kept verbatim, got %q", units[2].Translated)
	}
}

func TestRun_PartialFailureIndependence(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			if req.Text == "poison" {
				return nil, &translator.UnsupportedLanguageError{Lang: "xx"}
			}
			return &translator.Result{TranslatedText: "T:" + req.Text}, nil
		},
	}

	units := makeUnits("one", "poison", "three")
	s := New(svc, Config{Workers: 2, MaxAttempts: 3, RetryDelay: time.Millisecond})
	outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if outcome.Translated != 2 || outcome.Failed != 1 {
		t.Fatalf("expected 2 translated / 1 failed, got %d / %d", outcome.Translated, outcome.Failed)
	}
	if units[1].Status != document.StatusFailed {
		t.Errorf("expected poison unit failed, got %s", units[1].Status)
	}
	if units[1].Err == "" {
		t.Error("expected failure reason recorded")
	}
	// Fatal errors are not retried.
	if got := svc.callCount.Load(); got != 3 {
		t.Errorf("expected 3 calls (no retries for unsupported language), got %d", got)
	}
}

func TestRun_RateLimitedRetriesThenFails(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			return nil, translator.ErrRateLimited
		},
	}

	units := makeUnits("a", "", "b")
	s := New(svc, Config{Workers: 2, MaxAttempts: 3, RetryDelay: time.Millisecond})
	outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if outcome.Failed != 2 {
		t.Fatalf("expected 2 failed, got %d", outcome.Failed)
	}
	if outcome.Translated != 1 {
		t.Fatalf("expected 1 translated (the empty unit), got %d", outcome.Translated)
	}
	// 2 non-empty units x 3 attempts each.
	if got := svc.callCount.Load(); got != 6 {
		t.Errorf("expected 6 calls, got %d", got)
	}
	for _, u := range units {
		if u.Status == document.StatusPending {
			t.Errorf("unit %d left pending", u.Index)
		}
	}
}

func TestRun_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			if calls.Add(1) == 1 {
				return nil, &translator.NetworkError{Err: fmt.Errorf("connection reset")}
			}
			return &translator.Result{TranslatedText: "ok"}, nil
		},
	}

	units := makeUnits("hello")
	s := New(svc, Config{Workers: 1, MaxAttempts: 3, RetryDelay: time.Millisecond})
	outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if outcome.Translated != 1 {
		t.Fatalf("expected success after retry, got %d failed", outcome.Failed)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	release := make(chan struct{})
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			started.Add(1)
			<-release
			return &translator.Result{TranslatedText: "late"}, nil
		},
	}

	units := makeUnits("a", "b", "c", "d", "e", "f")
	s := New(svc, Config{Workers: 2, MaxAttempts: 1})

	go func() {
		for started.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel()
		close(release)
	}()

	outcome := s.Run(ctx, translator.ServiceConfig{}, units, "en", "fr")

	// In-flight calls were allowed to finish; nothing hangs, and every
	// unit is terminal so the partial report is complete.
	for _, u := range units {
		if u.Status == document.StatusPending {
			t.Errorf("unit %d left pending after cancellation", u.Index)
		}
	}
	if outcome.Translated+outcome.Failed != len(units) {
		t.Errorf("expected all units accounted for, got %d+%d", outcome.Translated, outcome.Failed)
	}
	if outcome.Failed == 0 {
		t.Error("expected some units to miss dispatch after cancel")
	}
}

func TestRun_ChunkedLongText(t *testing.T) {
	svc := &mockService{
		maxTextLen: 20,
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			if len([]rune(req.Text)) > 20 {
				t.Errorf("chunk exceeds service limit: %d runes", len([]rune(req.Text)))
			}
			return &translator.Result{TranslatedText: strings.ToUpper(req.Text)}, nil
		},
	}

	long := "one two three. four five six. seven eight nine."
	units := makeUnits(long)
	s := New(svc, Config{Workers: 1, MaxAttempts: 1})
	outcome := s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if outcome.Translated != 1 {
		t.Fatalf("expected translated unit, got failure: %s", units[0].Err)
	}
	if svc.callCount.Load() < 2 {
		t.Errorf("expected multiple chunk calls, got %d", svc.callCount.Load())
	}
	if !strings.Contains(units[0].Translated, "ONE TWO THREE") {
		t.Errorf("unexpected joined translation: %q", units[0].Translated)
	}
}

func TestRun_PlaceholderProtection(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			if strings.Contains(req.Text, "https://") {
				t.Errorf("URL leaked to service: %q", req.Text)
			}
			return &translator.Result{TranslatedText: req.Text}, nil
		},
	}

	units := makeUnits("See https://example.com/docs for details")
	s := New(svc, Config{Workers: 1, MaxAttempts: 1, Protect: true})
	s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if !strings.Contains(units[0].Translated, "https://example.com/docs") {
		t.Errorf("expected URL restored in output, got %q", units[0].Translated)
	}
}

func TestRun_GlossaryEnforced(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
			if strings.Contains(req.Text, "widget") {
				t.Errorf("glossary term leaked to service: %q", req.Text)
			}
			return &translator.Result{TranslatedText: req.Text}, nil
		},
	}

	units := makeUnits("The widget is ready")
	s := New(svc, Config{
		Workers:     1,
		MaxAttempts: 1,
		Glossary:    map[string]string{"widget": "gadget"},
	})
	s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if !strings.Contains(units[0].Translated, "gadget") {
		t.Errorf("expected glossary target term in output, got %q", units[0].Translated)
	}
}

func TestRun_Progress(t *testing.T) {
	var last atomic.Int32
	var calls atomic.Int32

	svc := &mockService{}
	units := makeUnits("a", "b", "c", "d")
	s := New(svc, Config{
		Workers:     2,
		MaxAttempts: 1,
		Progress: func(done, total int) {
			calls.Add(1)
			last.Store(int32(done))
			if total != 4 {
				t.Errorf("expected total 4, got %d", total)
			}
		},
	})
	s.Run(context.Background(), translator.ServiceConfig{}, units, "en", "fr")

	if calls.Load() != 4 {
		t.Errorf("expected 4 progress callbacks, got %d", calls.Load())
	}
	if last.Load() != 4 {
		t.Errorf("expected final progress 4, got %d", last.Load())
	}
}
