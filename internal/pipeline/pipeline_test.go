package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fumiama/go-docx"

	"github.com/valpere/perekladoc/internal/document"
	"github.com/valpere/perekladoc/internal/store"
	"github.com/valpere/perekladoc/internal/translator"
)

type mockService struct {
	nameVal       string
	translateFunc func(ctx context.Context, req translator.Request) (*translator.Result, error)
	callCount     atomic.Int32
}

func (m *mockService) Name() string {
	if m.nameVal != "" {
		return m.nameVal
	}
	return "mock"
}

func (m *mockService) Translate(ctx context.Context, cfg translator.ServiceConfig, req translator.Request) (*translator.Result, error) {
	m.callCount.Add(1)
	if m.translateFunc != nil {
		return m.translateFunc(ctx, req)
	}
	return &translator.Result{ServiceName: m.Name(), TranslatedText: strings.ToUpper(req.Text)}, nil
}

func (m *mockService) IsAvailable(ctx context.Context) error { return nil }

func (m *mockService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "uk", "fr"}, nil
}

func (m *mockService) MaxTextLen() int { return 0 }

// docBytes serializes a document with the given body paragraphs.
func docBytes(t *testing.T, texts ...string) []byte {
	t.Helper()
	doc := docx.New().WithDefaultTheme()
	for _, text := range texts {
		p := doc.AddParagraph()
		if text != "" {
			p.AddText(text)
		}
	}
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		t.Fatalf("failed to serialize test document: %v", err)
	}
	return buf.Bytes()
}

// extractTexts reparses output bytes and returns the unit texts.
func extractTexts(t *testing.T, data []byte) []string {
	t.Helper()
	doc, err := document.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("failed to reopen output: %v", err)
	}
	var texts []string
	for _, u := range doc.Extract() {
		texts = append(texts, u.Text)
	}
	return texts
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTranslate_FullRun(t *testing.T) {
	svc := &mockService{}
	p := New(svc, translator.ServiceConfig{}, Config{
		SourceLang: "en",
		TargetLang: "uk",
		Workers:    4,
	})

	out, report, err := p.Translate(context.Background(), docBytes(t, "Hello", "", "World"))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if report.Summary.Status != RunComplete {
		t.Errorf("status = %q, want complete", report.Summary.Status)
	}
	if report.Summary.Total != 3 || report.Summary.Translated != 3 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if svc.callCount.Load() != 2 {
		t.Errorf("service called %d times, want 2 (empty unit skips the call)", svc.callCount.Load())
	}

	wantPaths := []string{"p:0", "p:1", "p:2"}
	for i, u := range report.Units {
		if u.Index != i || u.Path != wantPaths[i] {
			t.Errorf("unit %d: index=%d path=%q", i, u.Index, u.Path)
		}
	}

	texts := extractTexts(t, out)
	want := []string{"HELLO", "", "WORLD"}
	for i, w := range want {
		if texts[i] != w {
			t.Errorf("output unit %d = %q, want %q", i, texts[i], w)
		}
	}
}

func TestTranslate_PartialFailure(t *testing.T) {
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.Request) (*translator.Result, error) {
			if req.Text == "World" {
				return nil, &translator.UnsupportedLanguageError{Lang: "xx"}
			}
			return &translator.Result{TranslatedText: strings.ToUpper(req.Text)}, nil
		},
	}
	p := New(svc, translator.ServiceConfig{}, Config{SourceLang: "en", TargetLang: "uk", Workers: 2})

	out, report, err := p.Translate(context.Background(), docBytes(t, "Hello", "World"))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if report.Summary.Status != RunPartial {
		t.Errorf("status = %q, want partial", report.Summary.Status)
	}
	if report.Summary.Translated != 1 || report.Summary.Failed != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if report.Units[1].Error == "" {
		t.Error("failed unit must carry its error")
	}

	// The failed unit keeps its original text in the output.
	texts := extractTexts(t, out)
	if texts[0] != "HELLO" || texts[1] != "World" {
		t.Errorf("output texts = %v", texts)
	}
}

func TestTranslate_CorruptDocument(t *testing.T) {
	p := New(&mockService{}, translator.ServiceConfig{}, Config{SourceLang: "en", TargetLang: "uk"})

	_, _, err := p.Translate(context.Background(), []byte("not a zip archive"))
	if err == nil {
		t.Fatal("expected error for corrupt input")
	}
	var se *document.StructureError
	if !errors.As(err, &se) {
		t.Errorf("expected StructureError, got %T: %v", err, err)
	}
}

func TestTranslate_MemoryCache(t *testing.T) {
	s := newTestStore(t)
	svc := &mockService{}
	cfg := Config{SourceLang: "en", TargetLang: "uk", Workers: 2, Store: s}

	data := docBytes(t, "Hello", "World")

	if _, _, err := New(svc, translator.ServiceConfig{}, cfg).Translate(context.Background(), data); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if svc.callCount.Load() != 2 {
		t.Fatalf("first run called service %d times, want 2", svc.callCount.Load())
	}

	// Second run over the same content is served entirely from memory.
	_, report, err := New(svc, translator.ServiceConfig{}, cfg).Translate(context.Background(), data)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if svc.callCount.Load() != 2 {
		t.Errorf("second run called service %d more times, want 0", svc.callCount.Load()-2)
	}
	if report.Summary.Cached != 2 {
		t.Errorf("cached = %d, want 2", report.Summary.Cached)
	}
	if report.Summary.Status != RunComplete {
		t.Errorf("status = %q, want complete", report.Summary.Status)
	}
}

func TestTranslate_ProgressCountsCachedUnits(t *testing.T) {
	s := newTestStore(t)
	svc := &mockService{}
	ctx := context.Background()

	data := docBytes(t, "One", "Two", "Three")
	base := Config{SourceLang: "en", TargetLang: "uk", Workers: 1, Store: s}

	if _, _, err := New(svc, translator.ServiceConfig{}, base).Translate(ctx, data); err != nil {
		t.Fatalf("priming run failed: %v", err)
	}

	// Add a paragraph so the second run has cache hits and fresh units.
	data = docBytes(t, "One", "Two", "Three", "Four")

	var mu sync.Mutex
	var calls [][2]int
	cfg := base
	cfg.Progress = func(done, total int) {
		mu.Lock()
		calls = append(calls, [2]int{done, total})
		mu.Unlock()
	}

	if _, report, err := New(svc, translator.ServiceConfig{}, cfg).Translate(ctx, data); err != nil {
		t.Fatalf("second run failed: %v", err)
	} else if report.Summary.Cached != 3 {
		t.Fatalf("cached = %d, want 3", report.Summary.Cached)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Fatal("progress never reported")
	}
	for _, c := range calls {
		if c[1] != 4 {
			t.Errorf("progress total = %d, want the full 4 units", c[1])
		}
	}
	if first := calls[0]; first[0] != 3 {
		t.Errorf("first progress call = %d, want 3 prefilled units", first[0])
	}
	if last := calls[len(calls)-1]; last[0] != 4 {
		t.Errorf("final progress call = %d, want 4", last[0])
	}
}

func TestTranslate_ResumeCheckpoint(t *testing.T) {
	s := newTestStore(t)
	data := docBytes(t, "Morning", "Evening")
	ctx := context.Background()

	// First run translates one unit and fails the other.
	failing := &mockService{
		translateFunc: func(ctx context.Context, req translator.Request) (*translator.Result, error) {
			if req.Text == "Evening" {
				return nil, &translator.NetworkError{Err: errors.New("connection reset")}
			}
			return &translator.Result{TranslatedText: strings.ToUpper(req.Text)}, nil
		},
	}
	_, report, err := New(failing, translator.ServiceConfig{}, Config{
		SourceLang: "en", TargetLang: "uk", MaxAttempts: 1, Store: s,
	}).Translate(ctx, data)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if report.Summary.Status != RunPartial || report.CheckpointID == "" {
		t.Fatalf("first run: status=%q checkpoint=%q", report.Summary.Status, report.CheckpointID)
	}

	// Clear the memory so the resumed unit can only come from the
	// checkpoint and the failed unit must hit the service.
	if _, err := s.ClearMemory(ctx); err != nil {
		t.Fatal(err)
	}

	working := &mockService{}
	out, report2, err := New(working, translator.ServiceConfig{}, Config{
		SourceLang: "en", TargetLang: "uk", Store: s, Resume: report.CheckpointID,
	}).Translate(ctx, data)
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if working.callCount.Load() != 1 {
		t.Errorf("resumed run called service %d times, want 1", working.callCount.Load())
	}
	if report2.Summary.Status != RunComplete {
		t.Errorf("resumed status = %q, want complete", report2.Summary.Status)
	}

	texts := extractTexts(t, out)
	if texts[0] != "MORNING" || texts[1] != "EVENING" {
		t.Errorf("output texts = %v", texts)
	}

	cp, err := s.GetDocCheckpoint(ctx, report.CheckpointID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Status != "completed" {
		t.Errorf("checkpoint status = %q, want completed", cp.Status)
	}
}

func TestTranslate_ResumeUnitCountMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDocCheckpoint(ctx, "a.docx", "b.docx", "en", "uk", 7)
	if err != nil {
		t.Fatal(err)
	}

	p := New(&mockService{}, translator.ServiceConfig{}, Config{
		SourceLang: "en", TargetLang: "uk", Store: s, Resume: id,
	})
	if _, _, err := p.Translate(ctx, docBytes(t, "Hello")); err == nil {
		t.Error("expected error when checkpoint unit count differs from document")
	}
}

func TestTranslate_AutoSourceDetection(t *testing.T) {
	var gotSource atomic.Value
	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.Request) (*translator.Result, error) {
			gotSource.Store(req.SourceLang)
			return &translator.Result{TranslatedText: req.Text}, nil
		},
	}
	p := New(svc, translator.ServiceConfig{}, Config{SourceLang: "auto", TargetLang: "uk"})

	_, report, err := p.Translate(context.Background(),
		docBytes(t, "The quick brown fox jumps over the lazy dog near the quiet river bank."))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if report.SourceLang != "en" {
		t.Errorf("detected source = %q, want en", report.SourceLang)
	}
	if got, _ := gotSource.Load().(string); got != "en" {
		t.Errorf("service saw source %q, want en", got)
	}
}

func TestTranslate_Glossary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddGlossaryTerm(ctx, "en", "uk", "kernel", "ядро"); err != nil {
		t.Fatal(err)
	}

	svc := &mockService{
		translateFunc: func(ctx context.Context, req translator.Request) (*translator.Result, error) {
			// Pass placeholders through untouched, as a real service would.
			return &translator.Result{TranslatedText: "Перекладено " + req.Text}, nil
		},
	}
	p := New(svc, translator.ServiceConfig{}, Config{
		SourceLang: "en", TargetLang: "uk", Store: s, UseGlossary: true,
	})

	_, report, err := p.Translate(ctx, docBytes(t, "The kernel boots first."))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if !strings.Contains(report.Units[0].Translated, "ядро") {
		t.Errorf("glossary term not enforced: %q", report.Units[0].Translated)
	}
}

func TestReport_WriteText(t *testing.T) {
	report := &Report{
		RunID:      "run-1",
		Service:    "mock",
		SourceLang: "en",
		TargetLang: "uk",
		Units: []UnitResult{
			{Index: 0, Path: "p:0", Status: document.StatusTranslated, Source: "Hello", Translated: "Привіт"},
			{Index: 1, Path: "p:1", Status: document.StatusFailed, Source: "World", Error: "rate limited"},
		},
		Summary: Summary{Total: 2, Translated: 1, Failed: 1, Status: RunPartial, Duration: 1200 * time.Millisecond},
	}

	var buf bytes.Buffer
	if err := report.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "FAILED p:1: rate limited") {
		t.Errorf("missing failure line:\n%s", out)
	}
	if !strings.Contains(out, "1 failed") {
		t.Errorf("missing summary:\n%s", out)
	}
}
