// Package server exposes the translation pipeline over HTTP. Documents are
// uploaded as multipart form data, translated asynchronously and fetched
// back by job ID.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/valpere/perekladoc/internal/markdown"
	"github.com/valpere/perekladoc/internal/pipeline"
	"github.com/valpere/perekladoc/internal/scheduler"
	"github.com/valpere/perekladoc/internal/translator"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 64 << 20

type Server struct {
	svc    translator.Service
	svcCfg translator.ServiceConfig
	base   pipeline.Config
	jobs   *jobManager
	log    *slog.Logger
}

func New(svc translator.Service, svcCfg translator.ServiceConfig, base pipeline.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc:    svc,
		svcCfg: svcCfg,
		base:   base,
		jobs:   newJobManager(),
		log:    log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHelp)
	r.Route("/api", func(r chi.Router) {
		r.Post("/translate", s.handleTranslate)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleJobStatus)
			r.Get("/download", s.handleJobDownload)
			r.Post("/cancel", s.handleJobCancel)
		})
	})
	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// handleTranslate accepts a multipart upload and starts an asynchronous
// translation job. Form fields: document (file), target (required),
// source, workers.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing document field: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	cfg := s.base
	cfg.InputName = header.Filename
	if v := r.FormValue("target"); v != "" {
		cfg.TargetLang = v
	}
	if cfg.TargetLang == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("target language is required"))
		return
	}
	if v := r.FormValue("source"); v != "" {
		cfg.SourceLang = v
	}
	if v := r.FormValue("workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < scheduler.MinWorkers || n > scheduler.MaxWorkers {
			s.writeError(w, http.StatusBadRequest,
				fmt.Errorf("workers must be an integer between %d and %d", scheduler.MinWorkers, scheduler.MaxWorkers))
			return
		}
		cfg.Workers = n
	}

	// The job outlives the upload request.
	jobCtx, cancel := context.WithCancel(context.Background())
	job := s.jobs.create(header.Filename, cancel)
	cfg.Progress = func(done, total int) {
		s.jobs.setProgress(job.ID, done, total)
	}

	go s.runJob(jobCtx, job.ID, cfg, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": job.ID, "status": string(JobRunning)})
}

func (s *Server) runJob(ctx context.Context, jobID string, cfg pipeline.Config, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", jobID, "panic", r)
			s.jobs.finish(jobID, JobFailed, nil, nil, fmt.Sprintf("internal error: %v", r))
		}
	}()

	p := pipeline.New(s.svc, s.svcCfg, cfg)
	out, report, err := p.Translate(ctx, data)
	if err != nil {
		s.log.Warn("job failed", "job", jobID, "error", err)
		s.jobs.finish(jobID, JobFailed, nil, nil, err.Error())
		return
	}

	status := JobCompleted
	if report.Summary.Status == pipeline.RunPartial {
		status = JobPartial
	}
	s.jobs.finish(jobID, status, report, out, "")
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if job.Status == JobRunning || job.Status == JobCancelled || job.output == nil {
		s.writeError(w, http.StatusConflict, fmt.Errorf("job %s has no output (status %s)", job.ID, job.Status))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "translated_"+job.Filename))
	w.Write(job.output)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.cancelJob(id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, ErrJobNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(JobCancelled)})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>perekladoc</title></head><body>%s</body></html>",
		markdown.ToHTML([]byte(helpText)))
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

const helpText = `# perekladoc

Structure-preserving document translation over HTTP.

## Endpoints

* ` + "`POST /api/translate`" + ` — multipart upload. Fields: ` + "`document`" + ` (the .docx file),
  ` + "`target`" + ` (required ISO 639-1 code), ` + "`source`" + ` (optional, ` + "`auto`" + ` detects),
  ` + "`workers`" + ` (optional, 1-8). Returns a job ID.
* ` + "`GET /api/jobs/{id}`" + ` — job status and the per-unit report once finished.
* ` + "`GET /api/jobs/{id}/download`" + ` — the translated document.
* ` + "`POST /api/jobs/{id}/cancel`" + ` — stop a running job.

Paragraph and table structure, formatting and empty paragraphs are preserved.
Units that fail to translate keep their original text.
`
