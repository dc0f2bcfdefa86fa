package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// WorkerStore is the storage side of a worker. Every engine implements it.
type WorkerStore interface {
	// Fetch claims up to limit due jobs of name and marks them active
	Fetch(ctx context.Context, name string, limit int) ([]Job, error)

	// Complete marks active jobs as completed
	Complete(ctx context.Context, ids []uuid.UUID) error

	// Fail records errMsg and either reschedules the jobs or marks them failed
	Fail(ctx context.Context, ids []uuid.UUID, errMsg string) error
}

// Worker polls one job name and hands the fetched jobs to a WorkHandler
type Worker struct {
	store    WorkerStore
	name     string
	opts     WorkOptions
	handler  WorkHandler
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker for name. It does not poll until Start.
func NewWorker(store WorkerStore, name string, opts WorkOptions, handler WorkHandler, log *slog.Logger) (*Worker, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		store:    store,
		name:     name,
		opts:     opts,
		handler:  handler,
		workerID: uuid.New(),
		sem:      make(chan struct{}, opts.Concurrency()),
		logger:   log,
	}, nil
}

// ID returns the worker id
func (w *Worker) ID() string {
	return w.workerID.String()
}

// Start begins polling in the background.
// The worker outlives ctx cancellation; it stops only through Stop.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go w.run()

	w.logger.Info("worker started",
		logger.WorkerID(w.workerID.String()),
		logger.JobName(w.name),
		slog.Int("batch_size", w.opts.BatchSize),
		slog.Int("max_concurrent", cap(w.sem)),
		slog.Duration("polling_interval", w.opts.PollingInterval()))
}

// Stop cancels polling and waits for in-flight jobs until ctx is done
func (w *Worker) Stop(ctx context.Context) error {
	w.stopMu.Lock()
	if w.stopping.Load() {
		w.stopMu.Unlock()
		return nil
	}
	w.stopping.Store(true)
	w.stopMu.Unlock()

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped",
			logger.WorkerID(w.workerID.String()),
			logger.JobName(w.name))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s for %q did not stop in time: %w", w.workerID, w.name, ctx.Err())
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.opts.PollingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if err := w.poll(); err != nil {
						w.logger.Error("failed to process jobs",
							logger.WorkerID(w.workerID.String()),
							logger.JobName(w.name),
							logger.Error(err))
					}
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick",
					logger.WorkerID(w.workerID.String()),
					logger.JobName(w.name))
			}
		}
	}
}

func (w *Worker) poll() error {
	jobs, err := w.store.Fetch(w.ctx, w.name, w.opts.FetchSize())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to fetch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	return w.process(jobs)
}

// process runs the handler for a fetched batch and settles every job in it
func (w *Worker) process(jobs []Job) (retErr error) {
	start := time.Now()
	ids := make([]uuid.UUID, len(jobs))
	idStrings := make([]string, len(jobs))
	expireIn := jobs[0].ExpireIn()
	for i := range jobs {
		ids[i] = jobs[i].ID
		idStrings[i] = jobs[i].ID.String()
		expireIn = min(expireIn, jobs[i].ExpireIn())
	}

	defer func() {
		if r := recover(); r != nil {
			retErr = w.settleFailure(ids, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	// Handlers get a context detached from the worker so Stop lets them finish
	ctx, cancel := context.WithTimeout(logger.WithJob(context.Background(), w.name, idStrings...), expireIn)
	defer cancel()

	if err := w.handler(ctx, jobs); err != nil {
		return w.settleFailure(ids, err, time.Since(start))
	}

	settleCtx := context.WithoutCancel(w.ctx)
	if err := w.store.Complete(settleCtx, ids); err != nil {
		return fmt.Errorf("failed to complete %d job(s): %w", len(ids), err)
	}

	w.logger.Info("jobs completed",
		logger.WorkerID(w.workerID.String()),
		logger.JobName(w.name),
		logger.Count(len(ids)),
		logger.Duration(time.Since(start)))

	return nil
}

func (w *Worker) settleFailure(ids []uuid.UUID, execErr error, duration time.Duration) error {
	w.logger.Error("job handler failed",
		logger.WorkerID(w.workerID.String()),
		logger.JobName(w.name),
		logger.Count(len(ids)),
		logger.Duration(duration),
		logger.Error(execErr))

	if err := w.store.Fail(context.WithoutCancel(w.ctx), ids, execErr.Error()); err != nil {
		return fmt.Errorf("failed to record failure of %d job(s): %w", len(ids), err)
	}
	return nil
}

// Workers tracks the running workers of an engine, one per job name
type Workers struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewWorkers creates an empty worker set
func NewWorkers() *Workers {
	return &Workers{workers: make(map[string]*Worker)}
}

// Start registers and starts a worker for name
func (ws *Workers) Start(ctx context.Context, store WorkerStore, name string, opts WorkOptions, handler WorkHandler, log *slog.Logger) (string, error) {
	w, err := NewWorker(store, name, opts, handler, log)
	if err != nil {
		return "", err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if _, exists := ws.workers[name]; exists {
		return "", ErrWorkerExists
	}
	ws.workers[name] = w
	w.Start(ctx)

	return w.ID(), nil
}

// Stop stops the worker of name. Stopping an unknown name is a no-op.
func (ws *Workers) Stop(ctx context.Context, name string) error {
	ws.mu.Lock()
	w, ok := ws.workers[name]
	delete(ws.workers, name)
	ws.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Stop(ctx)
}

// StopAll stops every worker and joins their errors
func (ws *Workers) StopAll(ctx context.Context) error {
	ws.mu.Lock()
	workers := ws.workers
	ws.workers = make(map[string]*Worker)
	ws.mu.Unlock()

	var errs []error
	for _, w := range workers {
		errs = append(errs, w.Stop(ctx))
	}
	return errors.Join(errs...)
}
