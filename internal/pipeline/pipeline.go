// Package pipeline runs classify-and-export jobs over a source tree.
//
// One job runs at a time. Files are classified by a bounded worker pool,
// copied into category folders and every outcome is persisted. Progress is
// published to an Observer after each counted task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"photosort/internal/classifier"
	"photosort/internal/config"
	"photosort/internal/imaging"
	"photosort/internal/logging"
	"photosort/internal/scan"
	"photosort/internal/store"
)

var (
	// ErrJobActive is returned by Start while another job runs.
	ErrJobActive = errors.New("a job is already running")
	// ErrNoJob is returned by Cancel when the id is not the running job.
	ErrNoJob = errors.New("no running job with that id")
)

// =============================================================================
// STATUS AND PROGRESS
// =============================================================================

// Status is a job lifecycle state. Every state but Running is terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusError     Status = "error"
)

// Progress is a snapshot of one job.
type Progress struct {
	JobID       string `json:"job_id"`
	Status      Status `json:"status"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Errors      int    `json:"errors"`
	CurrentFile string `json:"current_file,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Observer receives progress snapshots and stream chunks. Implementations
// must not block.
type Observer interface {
	OnProgress(Progress)
	OnStream(classifier.StreamChunk)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(Progress)
	Stream   func(classifier.StreamChunk)
}

func (o ObserverFuncs) OnProgress(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

func (o ObserverFuncs) OnStream(c classifier.StreamChunk) {
	if o.Stream != nil {
		o.Stream(c)
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Store persists outcomes.
type Store interface {
	Insert(ctx context.Context, p *store.Photo) error
}

// Deps are the orchestrator's collaborators. Zero fields get defaults
// except Store and Classifiers.
type Deps struct {
	Store       Store
	Classifiers func(cfg *config.Config) (classifier.Set, error)
	Scan        func(root string, exclude ...string) ([]string, error)
	Encode      func(ctx context.Context, path string, opts imaging.TransportOptions) (*imaging.Encoded, error)
	Observer    Observer
	Cores       int
	Clock       func() time.Time
}

// Request describes one job.
type Request struct {
	Source string
	Export string
	Config *config.Config
}

// Job is a started job.
type Job struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	final  Progress
}

// Wait blocks until the job ends and returns its final progress.
func (j *Job) Wait() Progress {
	<-j.done
	return j.final
}

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} { return j.done }

// Orchestrator runs jobs one at a time.
type Orchestrator struct {
	deps Deps

	mu     sync.Mutex
	active *Job
	latest Progress
}

// New returns an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline store is required")
	}
	if deps.Classifiers == nil {
		return nil, errors.New("pipeline classifier factory is required")
	}
	if deps.Scan == nil {
		deps.Scan = scan.Images
	}
	if deps.Encode == nil {
		deps.Encode = imaging.EncodeForTransport
	}
	if deps.Observer == nil {
		deps.Observer = ObserverFuncs{}
	}
	if deps.Cores < 1 {
		deps.Cores = runtime.NumCPU()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{deps: deps}, nil
}

// Start launches a job in the background. Canceling ctx cancels the job.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Job, error) {
	if req.Config == nil {
		req.Config = config.DefaultConfig()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, ErrJobActive
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	o.active = job
	o.latest = Progress{JobID: job.ID, Status: StatusRunning}

	go o.run(jobCtx, job, req)
	return job, nil
}

// Run starts a job and waits for it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Progress, error) {
	job, err := o.Start(ctx, req)
	if err != nil {
		return Progress{}, err
	}
	return job.Wait(), nil
}

// Cancel signals the running job to stop. Tasks already past their last
// checkpoint still finish.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.ID != jobID {
		return ErrNoJob
	}
	logging.Pipeline("cancel requested for job %s", jobID)
	o.active.cancel()
	return nil
}

// Progress returns the latest snapshot.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

// Active returns the running job id, if any.
func (o *Orchestrator) Active() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return "", false
	}
	return o.active.ID, true
}

// publishLocked stores p as the latest snapshot and notifies the observer.
// Callers must hold o.mu.
func (o *Orchestrator) publishLocked(p Progress) {
	o.latest = p
	o.deps.Observer.OnProgress(p)
}

func (o *Orchestrator) publish(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked(p)
}

func (o *Orchestrator) run(ctx context.Context, job *Job, req Request) {
	final := Progress{JobID: job.ID, Status: StatusError}
	defer func() {
		job.cancel()
		o.mu.Lock()
		o.active = nil
		o.mu.Unlock()
		job.final = final
		close(job.done)
	}()

	fail := func(err error) {
		logging.Get(logging.CategoryPipeline).Error("job %s failed: %v", job.ID, err)
		final.Status = StatusError
		final.Errors = 1
		final.Message = err.Error()
		o.publish(final)
	}

	info, err := os.Stat(req.Source)
	if err != nil {
		fail(fmt.Errorf("source not found: %s", req.Source))
		return
	}
	if !info.IsDir() {
		fail(fmt.Errorf("source is not a directory: %s", req.Source))
		return
	}
	if err := os.MkdirAll(req.Export, 0755); err != nil {
		fail(fmt.Errorf("failed to create export root: %w", err))
		return
	}

	files, err := o.deps.Scan(req.Source, req.Export)
	if err != nil {
		fail(fmt.Errorf("scan failed: %w", err))
		return
	}

	set, err := o.deps.Classifiers(req.Config)
	if err != nil {
		fail(fmt.Errorf("failed to build classifier: %w", err))
		return
	}

	r := &runner{
		o:      o,
		job:    job,
		cfg:    req.Config,
		set:    set,
		export: req.Export,
		total:  len(files),
	}
	final = r.execute(ctx, files)
}

// effectiveConcurrency is max(1, min(configured, cores)), or 1 when the
// primary classifier streams.
func effectiveConcurrency(configured, cores int, streaming bool) int {
	if streaming {
		return 1
	}
	n := configured
	if n > cores {
		n = cores
	}
	if n < 1 {
		n = 1
	}
	return n
}
