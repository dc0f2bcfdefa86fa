package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Handlers is the registration list modules add their handlers to at startup.
// Bootstrap then registers every handler with the engine, once.
//
//	handlers := job.NewHandlers().
//	    Add(emails.Handler(), billing.Handlers()...)
//	if err := handlers.Bootstrap(ctx, engine, job.WithLogger(log)); err != nil {
//	    return err
//	}
//	defer handlers.Shutdown(context.Background())
type Handlers struct {
	mu       sync.Mutex
	handlers []*Handler
	engine   queue.Engine
	started  []string
	done     bool
}

// NewHandlers creates a registration list
func NewHandlers(handlers ...*Handler) *Handlers {
	return (&Handlers{}).Add(handlers...)
}

// Add appends handlers to the list. Nil handlers are ignored.
func (hs *Handlers) Add(handlers ...*Handler) *Handlers {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			hs.handlers = append(hs.handlers, h)
		}
	}
	return hs
}

// Metadata returns the metadata of every handler in registration order
func (hs *Handlers) Metadata() []Metadata {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	meta := make([]Metadata, len(hs.handlers))
	for i, h := range hs.handlers {
		meta[i] = h.Metadata()
	}
	return meta
}

// BootstrapOption configures Bootstrap
type BootstrapOption func(*bootstrapOptions)

type bootstrapOptions struct {
	logger    *slog.Logger
	overrides queue.WorkOverrides
}

// WithLogger sets the logger used to report registrations
func WithLogger(l *slog.Logger) BootstrapOption {
	return func(o *bootstrapOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWorkOverrides replaces work options declared in code, per job name.
// Typically loaded with queue.LoadWorkOverridesFile.
func WithWorkOverrides(overrides queue.WorkOverrides) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.overrides = overrides
	}
}

// Bootstrap validates the list and starts one engine worker per handler.
// Any configuration error aborts before a worker is started; a failing
// engine registration stops the workers started so far.
// A list can be bootstrapped successfully only once.
func (hs *Handlers) Bootstrap(ctx context.Context, engine queue.Engine, opts ...BootstrapOption) error {
	if engine == nil {
		return ErrNilEngine
	}

	o := bootstrapOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.done {
		return ErrAlreadyBootstrapped
	}

	plan, err := hs.plan(o.overrides)
	if err != nil {
		return err
	}

	started := make([]string, 0, len(plan))
	for _, p := range plan {
		workerID, err := engine.Work(ctx, p.meta.JobName, p.meta.WorkOptions, p.handler.Work)
		if err != nil {
			err = fmt.Errorf("register handler for %s: %w", p.meta.JobName, err)
			return errors.Join(err, stopWorkers(ctx, engine, started))
		}
		started = append(started, p.meta.JobName)

		o.logger.InfoContext(ctx, "job handler registered",
			logger.JobName(p.meta.JobName),
			logger.Token(p.meta.Token.String()),
			logger.WorkerID(workerID),
			slog.Bool("batch", p.handler.Batch()),
			slog.Int("batch_size", p.meta.WorkOptions.BatchSize),
			slog.Int("local_concurrency", p.meta.WorkOptions.Concurrency()))
	}

	hs.engine = engine
	hs.started = started
	hs.done = true
	return nil
}

// Shutdown stops the workers started by Bootstrap
func (hs *Handlers) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	engine, started := hs.engine, hs.started
	hs.started = nil
	hs.mu.Unlock()

	if engine == nil {
		return nil
	}
	return stopWorkers(ctx, engine, started)
}

type planned struct {
	handler *Handler
	meta    Metadata
}

// plan validates every handler with its effective work options
func (hs *Handlers) plan(overrides queue.WorkOverrides) ([]planned, error) {
	seen := make(map[Token]struct{}, len(hs.handlers))
	plan := make([]planned, 0, len(hs.handlers))

	var errs []error
	for _, h := range hs.handlers {
		meta := h.Metadata()
		if _, dup := seen[meta.Token]; dup {
			errs = append(errs, fmt.Errorf("%s: %w", meta.JobName, ErrDuplicateHandler))
			continue
		}
		seen[meta.Token] = struct{}{}

		meta.WorkOptions = overrides.Apply(meta.JobName, meta.WorkOptions)
		effective := &Handler{meta: meta, batch: h.batch, nilFn: h.nilFn, work: h.work}
		if err := effective.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		plan = append(plan, planned{handler: effective, meta: meta})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return plan, nil
}

func stopWorkers(ctx context.Context, engine queue.Engine, names []string) error {
	var errs []error
	for _, name := range names {
		if err := engine.OffWork(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("stop worker for %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
