package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

type (
	// SingleHandler processes one job at a time
	SingleHandler[D any] func(ctx context.Context, job *Job[D]) error

	// BatchHandler processes every job fetched by one poll, in fetch order
	BatchHandler[D any] func(ctx context.Context, jobs []*Job[D]) error
)

// Job is the typed view of a queue job handed to handlers
type Job[D any] struct {
	ID           uuid.UUID
	Name         string
	Data         D
	Priority     int
	RetryCount   int
	RetryLimit   int
	SingletonKey string
	StartedOn    *time.Time
	CreatedOn    time.Time
}

// Metadata is attached to a handler when it is bound to a job definition
// and read once by Bootstrap.
type Metadata struct {
	Token       Token
	JobName     string
	WorkOptions queue.WorkOptions
}

// Handler is a typed handler bound to a job name, with its payload type erased
// so that handlers of different job types can share one registration list.
type Handler struct {
	meta  Metadata
	batch bool
	nilFn bool
	work  queue.WorkHandler
}

// Handle binds a single-job handler to the definition.
// Options are optional; when several are given, later non-zero fields win.
func (d *Definition[D]) Handle(fn SingleHandler[D], opts ...queue.WorkOptions) *Handler {
	var wo queue.WorkOptions
	for _, o := range opts {
		wo = wo.Merge(o)
	}

	return &Handler{
		meta:  d.metadata(wo),
		nilFn: fn == nil,
		work: func(ctx context.Context, jobs []queue.Job) error {
			var errs []error
			for i := range jobs {
				j, err := decodeJob[D](&jobs[i])
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if err := fn(ctx, j); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// HandleBatch binds a batch handler to the definition.
// opts.BatchSize must be positive.
func (d *Definition[D]) HandleBatch(fn BatchHandler[D], opts queue.WorkOptions) *Handler {
	return &Handler{
		meta:  d.metadata(opts),
		batch: true,
		nilFn: fn == nil,
		work: func(ctx context.Context, jobs []queue.Job) error {
			typed := make([]*Job[D], 0, len(jobs))
			for i := range jobs {
				j, err := decodeJob[D](&jobs[i])
				if err != nil {
					return err
				}
				typed = append(typed, j)
			}
			return fn(ctx, typed)
		},
	}
}

// Metadata returns the token, job name and work options of the handler
func (h *Handler) Metadata() Metadata {
	return h.meta
}

// Batch reports whether the handler expects a batch of jobs
func (h *Handler) Batch() bool {
	return h.batch
}

// Validate reports configuration errors: a nil function or
// work options that do not match the handler shape.
func (h *Handler) Validate() error {
	if h.nilFn {
		return fmt.Errorf("%s: %w", h.meta.JobName, ErrNilHandler)
	}
	if h.batch && h.meta.WorkOptions.BatchSize <= 0 {
		return fmt.Errorf("%s: %w", h.meta.JobName, ErrBatchSizeRequired)
	}
	if !h.batch && h.meta.WorkOptions.BatchSize > 0 {
		return fmt.Errorf("%s: %w", h.meta.JobName, ErrBatchSizeNotAllowed)
	}
	return nil
}

// Work decodes the payloads and runs the typed handler.
// It has the queue.WorkHandler signature so it can be passed to Engine.Work.
func (h *Handler) Work(ctx context.Context, jobs []queue.Job) error {
	return h.work(ctx, jobs)
}

func decodeJob[D any](j *queue.Job) (*Job[D], error) {
	out := &Job[D]{
		ID:           j.ID,
		Name:         j.Name,
		Priority:     j.Priority,
		RetryCount:   j.RetryCount,
		RetryLimit:   j.RetryLimit,
		SingletonKey: j.SingletonKey,
		StartedOn:    j.StartedOn,
		CreatedOn:    j.CreatedOn,
	}
	if len(j.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(j.Data, &out.Data); err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, errors.Join(ErrInvalidPayload, err))
	}
	return out, nil
}
