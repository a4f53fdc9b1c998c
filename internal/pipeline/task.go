package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"photosort/internal/classifier"
	"photosort/internal/clip"
	"photosort/internal/config"
	"photosort/internal/export"
	"photosort/internal/imaging"
	"photosort/internal/logging"
	"photosort/internal/store"
	"photosort/internal/taxonomy"
)

// runner executes one job's tasks.
type runner struct {
	o      *Orchestrator
	job    *Job
	cfg    *config.Config
	set    classifier.Set
	export string
	total  int

	writer *export.Writer

	// guarded by o.mu
	inflight  int
	processed int
	errors    int

	perfMu      sync.Mutex
	visionTotal time.Duration
	visionCount int
}

// outcome of one task. Uncounted tasks were canceled mid-flight.
type outcome struct {
	counted bool
	failed  bool
}

func (r *runner) snapshot(status Status) Progress {
	return Progress{
		JobID:     r.job.ID,
		Status:    status,
		Total:     r.total,
		Processed: r.processed,
		Errors:    r.errors,
	}
}

func (r *runner) execute(ctx context.Context, files []string) Progress {
	r.writer = export.NewWriter(r.export)
	started := r.o.deps.Clock()
	workers := effectiveConcurrency(r.cfg.Analysis.Concurrency, r.o.deps.Cores, r.set.Primary.Streaming())

	logging.Pipeline("job %s: %d files, engine=%s, concurrency=%d", r.job.ID, r.total, r.set.Primary.Name(), workers)
	r.o.publish(r.snapshot(StatusRunning))

	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	for _, path := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			r.begin()
			r.complete(r.process(ctx, path))
			return nil
		})
	}
	_ = g.Wait()

	r.o.mu.Lock()
	status := StatusCompleted
	if r.processed != r.total {
		status = StatusCanceled
	}
	final := r.snapshot(status)
	r.o.publishLocked(final)
	r.o.mu.Unlock()

	r.logPerf(r.o.deps.Clock().Sub(started))
	logging.Pipeline("job %s %s: processed=%d/%d errors=%d", r.job.ID, status, final.Processed, final.Total, final.Errors)
	return final
}

func (r *runner) begin() {
	r.o.mu.Lock()
	r.inflight++
	r.o.mu.Unlock()
}

// complete retires a task. Counted tasks publish a new snapshot whose
// in-flight count is read under the same lock as processed.
func (r *runner) complete(res outcome) {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	r.inflight--
	if !res.counted {
		return
	}
	r.processed++
	if res.failed {
		r.errors++
	}
	p := r.snapshot(StatusRunning)
	p.CurrentFile = fmt.Sprintf("병렬 처리 중: %d개", r.inflight)
	r.o.publishLocked(p)
}

func (r *runner) logPerf(elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs < 0.001 {
		secs = 0.001
	}
	ips := float64(r.total) / secs

	r.perfMu.Lock()
	defer r.perfMu.Unlock()
	if r.visionCount > 0 {
		avg := float64(r.visionTotal.Microseconds()) / 1000 / float64(r.visionCount)
		logging.Performance("clip perf: images=%d elapsed=%.2fs throughput=%.2f img/s avg_vision_infer_ms=%.1f",
			r.total, secs, ips, avg)
		return
	}
	logging.Performance("perf: images=%d elapsed=%.2fs throughput=%.2f img/s", r.total, secs, ips)
}

// =============================================================================
// TASK
// =============================================================================

// process classifies, exports and persists one file.
func (r *runner) process(ctx context.Context, path string) outcome {
	if ctx.Err() != nil {
		return outcome{}
	}
	fileName := filepath.Base(path)
	started := r.o.deps.Clock()
	req := classifier.Request{
		JobID:    r.job.ID,
		Path:     path,
		FileName: fileName,
		Sink:     r.o.deps.Observer.OnStream,
	}

	ensureEncoded := func() error {
		if req.Payload != nil {
			return nil
		}
		enc, err := r.o.deps.Encode(ctx, path, imaging.TransportOptions{
			ResizeEnabled: r.cfg.Analysis.ResizeEnabled,
			MaxEdge:       r.cfg.Analysis.MaxEdge,
			JPEGQuality:   r.cfg.Analysis.JPEGQuality,
		})
		if err != nil {
			return err
		}
		req.Payload = enc
		return nil
	}

	var out *classifier.Output
	var err error
	if r.set.Primary.Transport() == classifier.TransportEncoded {
		err = ensureEncoded()
	}
	if err == nil {
		out, err = r.set.Primary.Classify(ctx, req)
	}
	if err != nil && ctx.Err() != nil {
		return outcome{}
	}

	if err != nil && r.set.Fallback != nil {
		primaryErr := err
		logging.PipelineWarn("%s failed for %s, trying %s: %v", r.set.Primary.Name(), fileName, r.set.Fallback.Name(), primaryErr)
		if err = ensureEncoded(); err == nil {
			out, err = r.set.Fallback.Classify(ctx, req)
		}
		if err != nil {
			if ctx.Err() != nil {
				return outcome{}
			}
			err = fmt.Errorf("%s failed and fallback also failed.\n\n%s:\n%v\n\n%s:\n%v",
				r.set.Primary.Name(), r.set.Primary.Name(), primaryErr, r.set.Fallback.Name(), err)
		}
	}

	// Last checkpoint: nothing below is abandoned on cancel.
	if ctx.Err() != nil {
		return outcome{}
	}
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		r.persistFailure(persistCtx, path, fileName, started, err)
		return outcome{counted: true, failed: true}
	}

	dirs := export.Dirs(out.Category, out.Valuable, r.cfg.Analysis.ValueEnabled)
	dst, err := r.writer.Copy(path, fileName, dirs...)
	if err != nil {
		r.persistFailure(persistCtx, path, fileName, started, fmt.Errorf("export failed: %w", err))
		return outcome{counted: true, failed: true}
	}

	if out.Model == clip.ModelID {
		r.perfMu.Lock()
		r.visionTotal += out.InferTime
		r.visionCount++
		r.perfMu.Unlock()
	}

	photo := &store.Photo{
		Path:          dst,
		FileName:      fileName,
		Category:      out.Category,
		Scores:        out.Scores,
		Tags:          out.Tags,
		Caption:       out.Caption,
		TextInImage:   out.TextInImage,
		Model:         out.Model,
		Valuable:      out.Valuable,
		ValuableScore: out.ValueScore,
		ExportStatus:  store.ExportSuccess,
		AnalysisLog:   r.successLog(out.Log),
		DurationMS:    r.o.deps.Clock().Sub(started).Milliseconds(),
		Embedding:     out.Embedding,
		Fingerprint:   out.Fingerprint,
	}
	if err := r.o.deps.Store.Insert(persistCtx, photo); err != nil {
		logging.Get(logging.CategoryPipeline).Error("failed to persist %s: %v", fileName, err)
		return outcome{counted: true, failed: true}
	}
	logging.PipelineDebug("%s -> %s (%s)", fileName, dst, out.Category)
	return outcome{counted: true}
}

func (r *runner) persistFailure(ctx context.Context, path, fileName string, started time.Time, cause error) {
	logging.PipelineWarn("failed to process %s: %v", fileName, cause)
	model := clip.ModelID
	if r.cfg.Analysis.Engine == config.EngineOllama {
		model = r.cfg.Ollama.Model
	}
	photo := &store.Photo{
		Path:         path,
		FileName:     fileName,
		Category:     taxonomy.Other,
		Model:        model,
		ExportStatus: store.ExportError,
		ErrorMessage: cause.Error(),
		AnalysisLog:  r.failureLog(cause),
		DurationMS:   r.o.deps.Clock().Sub(started).Milliseconds(),
	}
	if err := r.o.deps.Store.Insert(ctx, photo); err != nil {
		logging.Get(logging.CategoryPipeline).Error("failed to persist failure row for %s: %v", fileName, err)
	}
}

func (r *runner) successLog(classifierLog string) string {
	a := r.cfg.Analysis
	return fmt.Sprintf("engine: %s\nresize_enabled: %t\nmax_edge: %d\njpeg_quality: %d\n\n%s",
		a.Engine, a.ResizeEnabled, a.MaxEdge, a.JPEGQuality, classifierLog)
}

func (r *runner) failureLog(cause error) string {
	c := r.cfg
	return fmt.Sprintf("engine: %s\nclip_model_dir: %q\nclip_fallback_to_ollama: %t\n\nbase_url: %s\nollama_model: %s\nthink: %t\nstream: %t\nresize_enabled: %t\nmax_edge: %d\njpeg_quality: %d\n\nerror:\n%v\n",
		c.Analysis.Engine, c.Clip.ModelDir, c.Clip.FallbackToOllama,
		c.Ollama.BaseURL, c.Ollama.Model, c.Ollama.Think, c.Ollama.Stream,
		c.Analysis.ResizeEnabled, c.Analysis.MaxEdge, c.Analysis.JPEGQuality, cause)
}
