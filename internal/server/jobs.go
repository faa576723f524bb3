package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/perekladoc/internal/pipeline"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotRunning is returned when cancelling a job that already reached
// a terminal state.
var ErrJobNotRunning = errors.New("job is not running")

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one in-flight or finished translation request. Done and Total
// track unit progress while the job is running.
type Job struct {
	ID        string           `json:"id"`
	Filename  string           `json:"filename"`
	Status    JobStatus        `json:"status"`
	Done      int              `json:"done"`
	Total     int              `json:"total"`
	Error     string           `json:"error,omitempty"`
	Report    *pipeline.Report `json:"report,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	output []byte
	cancel context.CancelFunc
}

// jobManager is a mutex-guarded registry of jobs by ID.
type jobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*Job)}
}

func (m *jobManager) create(filename string, cancel context.CancelFunc) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		Filename:  filename,
		Status:    JobRunning,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	return job
}

// get returns a snapshot copy so callers never race the worker goroutine.
func (m *jobManager) get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// setProgress records how many units of the job have reached a terminal
// state. Updates after the job left the running state are dropped.
func (m *jobManager) setProgress(id string, done, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != JobRunning {
		return
	}
	job.Done = done
	job.Total = total
}

// finish records the terminal outcome of a job. A job already cancelled
// keeps its cancelled status but still receives the partial report and
// output, so callers can see which units completed before the cancel.
func (m *jobManager) finish(id string, status JobStatus, report *pipeline.Report, output []byte, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	if job.Status != JobCancelled {
		job.Status = status
		job.Error = errMsg
	}
	job.Report = report
	job.output = output
}

func (m *jobManager) cancelJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobRunning {
		return ErrJobNotRunning
	}
	job.Status = JobCancelled
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}
