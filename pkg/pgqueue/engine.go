package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

var (
	_ queue.Engine      = (*Engine)(nil)
	_ queue.WorkerStore = (*Engine)(nil)
)

// errDeclined rolls back a transaction whose job insert was skipped
var errDeclined = errors.New("job insert declined")

// Engine is a queue.Engine backed by PostgreSQL.
// Several processes may share one database: claims use SKIP LOCKED and
// cron ticks are guarded by the last_tick column of each schedule.
type Engine struct {
	pool    *pgxpool.Pool
	opts    queue.EngineOptions
	workers *queue.Workers

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New creates an engine over pool and starts its schedule and maintenance loop.
// The schema must already be applied, see Migrate. The pool stays owned by the caller.
func New(pool *pgxpool.Pool, opts ...queue.EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		pool:     pool,
		opts:     queue.NewEngineOptions(opts...),
		workers:  queue.NewWorkers(),
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}

	go e.loop(ctx)

	return e
}

// Close stops every worker and the background loop. It does not close the pool.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.cancel()
		<-e.loopDone

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
		defer cancel()
		err = e.workers.StopAll(ctx)
	})
	return err
}

// Send implements queue.Engine
func (e *Engine) Send(ctx context.Context, name string, data any, opts queue.SendOptions) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, queue.ErrEngineClosed
	}

	job, err := queue.NewJob(name, data, opts, e.now())
	if err != nil {
		return uuid.Nil, err
	}

	id, err := insertJob(ctx, e.pool, job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("send %q: %w", name, err)
	}
	return id, nil
}

// SendAfter implements queue.Engine
func (e *Engine) SendAfter(ctx context.Context, name string, data any, opts queue.SendOptions, startAfter time.Time) (uuid.UUID, error) {
	opts.StartAfter = &startAfter
	return e.Send(ctx, name, data, opts)
}

// SendThrottled implements queue.Engine.
// The throttle row is claimed and the job inserted in one transaction;
// a job declined by its singleton key does not consume the window.
func (e *Engine) SendThrottled(ctx context.Context, name string, data any, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, queue.ErrEngineClosed
	}
	if err := queue.ValidateWindow(window); err != nil {
		return uuid.Nil, err
	}

	now := e.now()
	job, err := queue.NewJob(name, data, opts, now)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		var until time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO jobkit_throttles (kind, name, key, until)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind, name, key) DO UPDATE SET until = EXCLUDED.until
			WHERE jobkit_throttles.until IS NULL OR jobkit_throttles.until <= $5
			RETURNING until`,
			kindThrottle, name, key, now.Add(window), now,
		).Scan(&until)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errDeclined
			}
			return fmt.Errorf("claim throttle: %w", err)
		}

		id, err = insertJob(ctx, tx, job)
		if err != nil {
			return err
		}
		if id == uuid.Nil {
			return errDeclined
		}
		return nil
	})
	if errors.Is(err, errDeclined) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("send throttled %q: %w", name, err)
	}
	return id, nil
}

// SendDebounced implements queue.Engine.
// While the debounced job is still in created state, later sends replace
// its data, push its start back by window and return uuid.Nil.
func (e *Engine) SendDebounced(ctx context.Context, name string, data any, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, queue.ErrEngineClosed
	}
	if err := queue.ValidateWindow(window); err != nil {
		return uuid.Nil, err
	}

	now := e.now()
	startAfter := now.Add(window)
	opts.StartAfter = &startAfter

	job, err := queue.NewJob(name, data, opts, now)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		// The row lock serialises concurrent sends of one debounce key
		if _, err := tx.Exec(ctx, `
			INSERT INTO jobkit_throttles (kind, name, key)
			VALUES ($1, $2, $3)
			ON CONFLICT (kind, name, key) DO NOTHING`,
			kindDebounce, name, key,
		); err != nil {
			return fmt.Errorf("ensure debounce key: %w", err)
		}

		var pending *uuid.UUID
		if err := tx.QueryRow(ctx, `
			SELECT job_id FROM jobkit_throttles
			WHERE kind = $1 AND name = $2 AND key = $3
			FOR UPDATE`,
			kindDebounce, name, key,
		).Scan(&pending); err != nil {
			return fmt.Errorf("lock debounce key: %w", err)
		}

		if pending != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE jobkit_jobs SET data = $2, start_after = $3
				WHERE id = $1 AND state = 'created'`,
				*pending, job.Data, startAfter,
			)
			if err != nil {
				return fmt.Errorf("extend debounced job: %w", err)
			}
			if tag.RowsAffected() == 1 {
				return nil
			}
		}

		id, err = insertJob(ctx, tx, job)
		if err != nil || id == uuid.Nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobkit_throttles SET job_id = $4
			WHERE kind = $1 AND name = $2 AND key = $3`,
			kindDebounce, name, key, id,
		); err != nil {
			return fmt.Errorf("store debounced job: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("send debounced %q: %w", name, err)
	}
	return id, nil
}

// Insert implements queue.Engine.
// All entries are written in one transaction; entries rejected by a
// singleton key or an existing id are skipped.
func (e *Engine) Insert(ctx context.Context, inserts []queue.JobInsert) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}
	if len(inserts) == 0 {
		return queue.ErrNoJobsToInsert
	}

	now := e.now()
	batch := &pgx.Batch{}
	for i, in := range inserts {
		job, err := queue.NewJob(in.Name, in.Data, in.SendOptions, now)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
		if in.ID != uuid.Nil {
			job.ID = in.ID
		}
		batch.Queue(insertJobSQL, insertArgs(job)...)
	}

	err := pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert %d job(s): %w", len(inserts), err)
	}
	return nil
}

// Work implements queue.Engine
func (e *Engine) Work(ctx context.Context, name string, opts queue.WorkOptions, handler queue.WorkHandler) (string, error) {
	if e.closed.Load() {
		return "", queue.ErrEngineClosed
	}
	return e.workers.Start(ctx, e, name, opts, handler, e.opts.Logger)
}

// OffWork implements queue.Engine
func (e *Engine) OffWork(ctx context.Context, name string) error {
	return e.workers.Stop(ctx, name)
}

// Job returns the job with the given id
func (e *Engine) Job(ctx context.Context, id uuid.UUID) (queue.Job, error) {
	job, err := scanJob(e.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobkit_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Jobs returns every job of name, oldest first
func (e *Engine) Jobs(ctx context.Context, name string) ([]queue.Job, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobkit_jobs
		WHERE name = $1
		ORDER BY created_on ASC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs of %q: %w", name, err)
	}
	return collectJobs(rows)
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)

	scheduleTicker := time.NewTicker(e.opts.ScheduleInterval)
	defer scheduleTicker.Stop()
	maintenanceTicker := time.NewTicker(e.opts.MaintenanceInterval)
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduleTicker.C:
			if err := e.CheckSchedules(ctx); err != nil && !isShutdown(err) {
				e.opts.Logger.Error("failed to check schedules", logger.Error(err))
			}
		case <-maintenanceTicker.C:
			if err := e.Maintain(ctx); err != nil && !isShutdown(err) {
				e.opts.Logger.Error("failed to run maintenance", logger.Error(err))
			}
		}
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Clock()
}

func isShutdown(err error) bool {
	return errors.Is(err, queue.ErrEngineClosed) || errors.Is(err, context.Canceled)
}
