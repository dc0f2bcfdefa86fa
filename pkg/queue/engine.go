package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkHandler receives the jobs fetched by a single poll.
// Without a batch size the slice holds exactly one job.
type WorkHandler func(ctx context.Context, jobs []Job) error

// Engine is the durable queue the job layer sends to and registers workers with.
//
// Every send returns the id of the created job, or uuid.Nil with a nil error
// when the engine declined to create one because of a singleton key,
// a throttle window or a pending debounced job.
type Engine interface {
	// Send enqueues a job.
	Send(ctx context.Context, name string, data any, opts SendOptions) (uuid.UUID, error)

	// SendAfter enqueues a job that must not start before startAfter.
	SendAfter(ctx context.Context, name string, data any, opts SendOptions, startAfter time.Time) (uuid.UUID, error)

	// SendThrottled enqueues a job unless one with the same name and key was
	// enqueued less than window ago. An empty key throttles by name only.
	SendThrottled(ctx context.Context, name string, data any, opts SendOptions, window time.Duration, key string) (uuid.UUID, error)

	// SendDebounced collapses a burst of sends with the same name and key into
	// one job that starts window after the last send of the burst.
	SendDebounced(ctx context.Context, name string, data any, opts SendOptions, window time.Duration, key string) (uuid.UUID, error)

	// Insert enqueues several jobs at once. Entries rejected by a singleton key are skipped.
	Insert(ctx context.Context, jobs []JobInsert) error

	// Schedule registers (or replaces) the cron schedule of name.
	Schedule(ctx context.Context, name, cron string, data any, opts ScheduleOptions) error

	// Unschedule removes the cron schedule of name. Removing a missing schedule is not an error.
	Unschedule(ctx context.Context, name string) error

	// Work starts polling name and returns the worker id.
	Work(ctx context.Context, name string, opts WorkOptions, handler WorkHandler) (string, error)

	// OffWork stops the worker of name and waits for in-flight jobs.
	OffWork(ctx context.Context, name string) error
}
