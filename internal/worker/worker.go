// Package worker runs the cooperative claim loop and the per-type job
// handlers. Multiple worker processes may run side by side against the same
// database; coordination happens entirely through the job store's conditional
// writes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rahulkarwa/promptpoll/internal/cache"
	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/internal/llm"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// jobTypes in claim order. Execution is claimed first because it is the
// longest pole in a run; analysis and export drain behind it.
var jobTypes = []string{
	models.JobTypeExecuteQuestion,
	models.JobTypeAnalyzeResponse,
	models.JobTypeExportRun,
}

// Worker owns one claim loop. All state lives in fields; nothing is global.
type Worker struct {
	store     store.Store
	cache     cache.Cache
	providers *llm.Registry
	cfg       config.WorkerConfig
	exportDir string
	logger    *slog.Logger

	pools map[string]*errgroup.Group

	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func New(st store.Store, ca cache.Cache, providers *llm.Registry, cfg config.WorkerConfig, exp config.ExportConfig, logger *slog.Logger) *Worker {
	w := &Worker{
		store:     st,
		cache:     ca,
		providers: providers,
		cfg:       cfg,
		exportDir: exp.Dir,
		logger:    logger,
		pools:     make(map[string]*errgroup.Group, len(jobTypes)),
		held:      make(map[uuid.UUID]struct{}),
	}
	caps := map[string]int{
		models.JobTypeExecuteQuestion: cfg.ExecuteCap,
		models.JobTypeAnalyzeResponse: cfg.AnalyzeCap,
		models.JobTypeExportRun:       cfg.ExportCap,
	}
	for _, jt := range jobTypes {
		g := &errgroup.Group{}
		g.SetLimit(caps[jt])
		w.pools[jt] = g
	}
	return w
}

// Run polls until ctx is cancelled, then drains in-flight handlers under the
// shutdown deadline. Jobs still running past the deadline keep their lease;
// the sweep of a future process returns them to the queue.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"execute_cap", w.cfg.ExecuteCap,
		"analyze_cap", w.cfg.AnalyzeCap,
		"export_cap", w.cfg.ExportCap)

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		w.sweepLoop(ctx)
	}()

	for ctx.Err() == nil {
		claimed := w.pollOnce(ctx)
		if !claimed {
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}

	<-sweepDone
	return w.drain()
}

// pollOnce attempts to claim at most one job per type. Returns true if
// anything was claimed.
func (w *Worker) pollOnce(ctx context.Context) bool {
	claimed := false
	for _, jt := range jobTypes {
		job, err := w.store.ClaimJob(ctx, jt, w.heldIDs(), w.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("claim failed", "type", jt, "error", err)
			}
			continue
		}
		if job == nil {
			continue
		}

		w.hold(job.ID)
		if !w.pools[jt].TryGo(func() error {
			defer w.release(job.ID)
			w.dispatch(context.WithoutCancel(ctx), job)
			return nil
		}) {
			// Pool at capacity: hand the claim straight back rather than
			// letting the lease lapse.
			w.release(job.ID)
			w.releaseClaim(ctx, job)
			continue
		}
		claimed = true
	}
	return claimed
}

// dispatch runs the handler for one claimed job. A handler panic terminalizes
// the job; it never takes the loop down.
func (w *Worker) dispatch(ctx context.Context, job *models.Job) {
	log := w.logger.With("job_id", job.ID, "type", job.Type, "run_id", job.RunID, "attempt", job.Attempts)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", r)
			if err := w.store.MarkJobFailed(ctx, job.ID, fmt.Sprintf("handler panic: %v", r)); err != nil {
				log.Error("mark panicked job failed", "error", err)
			}
			w.afterTerminal(ctx, job)
		}
	}()

	var err error
	switch job.Type {
	case models.JobTypeExecuteQuestion:
		err = w.executeQuestion(ctx, job)
	case models.JobTypeAnalyzeResponse:
		err = w.analyzeResponse(ctx, job)
	case models.JobTypeExportRun:
		err = w.exportRun(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	if err != nil {
		w.retryOrFail(ctx, job, err)
		return
	}

	if markErr := w.store.MarkJobSucceeded(ctx, job.ID); markErr != nil {
		log.Error("mark job succeeded", "error", markErr)
		return
	}
	w.setJobStatus(ctx, job.ID, models.JobStatusSucceeded)
	log.Info("job succeeded", "elapsed_ms", time.Since(start).Milliseconds())
	w.afterTerminal(ctx, job)
}

// retryOrFail applies the retry policy: failures re-queue with exponential
// backoff until the attempt budget is spent, then the job fails for good.
func (w *Worker) retryOrFail(ctx context.Context, job *models.Job, cause error) {
	log := w.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	if job.Attempts >= w.cfg.MaxAttempts {
		if err := w.store.MarkJobFailed(ctx, job.ID, cause.Error()); err != nil {
			log.Error("mark job failed", "error", err)
			return
		}
		w.setJobStatus(ctx, job.ID, models.JobStatusFailed)
		log.Warn("job failed permanently", "error", cause)
		w.afterTerminal(ctx, job)
		return
	}

	backoff := w.cfg.RetryBase * time.Duration(1<<(job.Attempts-1))
	next := time.Now().UTC().Add(backoff)
	if err := w.store.MarkJobRetrying(ctx, job.ID, cause.Error(), next); err != nil {
		log.Error("mark job retrying", "error", err)
		return
	}
	w.setJobStatus(ctx, job.ID, models.JobStatusRetrying)
	log.Warn("job will retry", "error", cause, "backoff", backoff)
}

// releaseClaim puts a claimed-but-undispatchable job back on the queue. The
// store hands the attempt back, so a full pool never burns retry budget.
func (w *Worker) releaseClaim(ctx context.Context, job *models.Job) {
	if err := w.store.ReleaseClaim(ctx, job.ID); err != nil {
		w.logger.Error("release claimed job", "job_id", job.ID, "error", err)
	}
}

// afterTerminal runs the completion arbiter for execute jobs. Analysis and
// export jobs never gate run completion.
func (w *Worker) afterTerminal(ctx context.Context, job *models.Job) {
	if job.Type != models.JobTypeExecuteQuestion {
		return
	}
	status, applied, err := w.store.ResolveRunIfComplete(ctx, job.RunID)
	if err != nil {
		w.logger.Error("resolve run", "run_id", job.RunID, "error", err)
		return
	}
	if !applied {
		return
	}
	w.logger.Info("run resolved", "run_id", job.RunID, "status", status)
	w.invalidateProgress(ctx, job.RunID)

	if status == models.RunStatusCompleted {
		w.enqueueExport(ctx, job.RunID)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.SweepExpiredLeases(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("lease sweep", "error", err)
				}
				continue
			}
			if n > 0 {
				w.logger.Warn("reclaimed expired leases", "count", n)
			}
		}
	}
}

// drain waits for in-flight handlers up to the shutdown deadline.
func (w *Worker) drain() error {
	done := make(chan struct{})
	go func() {
		for _, g := range w.pools {
			_ = g.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker drained")
		return nil
	case <-time.After(w.cfg.ShutdownTimeout):
		w.logger.Warn("shutdown deadline reached with handlers in flight")
		return fmt.Errorf("worker shutdown timed out after %s", w.cfg.ShutdownTimeout)
	}
}

func (w *Worker) hold(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held[id] = struct{}{}
}

func (w *Worker) release(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.held, id)
}

func (w *Worker) heldIDs() []uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(w.held))
	for id := range w.held {
		ids = append(ids, id)
	}
	return ids
}

// Cache writes are best effort; the database remains the source of truth.
func (w *Worker) setJobStatus(ctx context.Context, id uuid.UUID, status string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetJobStatus(ctx, id, status, 10*time.Minute); err != nil {
		w.logger.Debug("cache job status", "job_id", id, "error", err)
	}
}

func (w *Worker) invalidateProgress(ctx context.Context, runID uuid.UUID) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Delete(ctx, cache.RunProgressKey(runID)); err != nil {
		w.logger.Debug("invalidate run progress", "run_id", runID, "error", err)
	}
}
