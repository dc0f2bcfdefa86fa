package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Insert is a single entry of Sender.Insert.
// It has no name: every entry gets the sender's job name.
type Insert[D any] struct {
	ID      uuid.UUID
	Data    D
	Options queue.SendOptions
}

// Sender enqueues jobs of one name. It holds the name and a shared engine
// and nothing else, so one instance serves concurrent callers.
//
// Every send returns the id of the created job. uuid.Nil with a nil error
// means the engine declined to create it (singleton key taken, throttled,
// folded into a pending debounced job). Engine errors are returned as is.
type Sender[D any] struct {
	name   string
	engine queue.Engine
}

// NewSender creates a sender for name backed by engine.
// Most code gets senders through Definition.Inject instead.
func NewSender[D any](name string, engine queue.Engine) *Sender[D] {
	return &Sender[D]{name: name, engine: engine}
}

// Name returns the job name
func (s *Sender[D]) Name() string {
	return s.name
}

// Token returns the token the sender is registered under
func (s *Sender[D]) Token() Token {
	return TokenFor(s.name)
}

// Send enqueues a job. Several jobs of this name may run at the same time.
func (s *Sender[D]) Send(ctx context.Context, data D, opts queue.SendOptions) (uuid.UUID, error) {
	return s.engine.Send(ctx, s.name, data, opts)
}

// SendAfter enqueues a job that is not delivered before when
func (s *Sender[D]) SendAfter(ctx context.Context, data D, opts queue.SendOptions, when time.Time) (uuid.UUID, error) {
	return s.engine.SendAfter(ctx, s.name, data, opts, when)
}

// SendOnce enqueues a job unless a job of this name with the same key is
// still queued, retrying or running.
func (s *Sender[D]) SendOnce(ctx context.Context, data D, opts queue.SendOptions, key string) (uuid.UUID, error) {
	opts.SingletonKey = key
	return s.engine.Send(ctx, s.name, data, opts)
}

// SendSingleton is SendOnce keyed by the job name:
// at most one job of this name is in flight.
func (s *Sender[D]) SendSingleton(ctx context.Context, data D, opts queue.SendOptions) (uuid.UUID, error) {
	return s.SendOnce(ctx, data, opts, s.name)
}

// SendThrottled enqueues at most one job per window for the key.
// An empty key throttles the job name as a whole.
func (s *Sender[D]) SendThrottled(ctx context.Context, data D, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	return s.engine.SendThrottled(ctx, s.name, data, opts, window, key)
}

// SendDebounced collapses a burst of sends for the key into one job that
// starts window after the last send. An empty key debounces the job name as a whole.
func (s *Sender[D]) SendDebounced(ctx context.Context, data D, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	return s.engine.SendDebounced(ctx, s.name, data, opts, window, key)
}

// Insert enqueues several jobs of this name at once
func (s *Sender[D]) Insert(ctx context.Context, jobs []Insert[D]) error {
	inserts := make([]queue.JobInsert, len(jobs))
	for i, j := range jobs {
		inserts[i] = queue.JobInsert{
			ID:          j.ID,
			Name:        s.name,
			Data:        j.Data,
			SendOptions: j.Options,
		}
	}
	return s.engine.Insert(ctx, inserts)
}

// Schedule registers a cron schedule that enqueues data on every tick.
// Scheduling again replaces the previous schedule of this name.
func (s *Sender[D]) Schedule(ctx context.Context, cron string, data D, opts queue.ScheduleOptions) error {
	return s.engine.Schedule(ctx, s.name, cron, data, opts)
}

// Unschedule removes the cron schedule of this name, if any
func (s *Sender[D]) Unschedule(ctx context.Context) error {
	return s.engine.Unschedule(ctx, s.name)
}
