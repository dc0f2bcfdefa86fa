package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

type storedSchedule struct {
	queue.Schedule
	lastTick time.Time
}

// Schedule implements queue.Engine.
// Replacing a schedule restarts its tick evaluation from now.
func (e *Engine) Schedule(ctx context.Context, name, expr string, data any, opts queue.ScheduleOptions) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}
	if err := queue.ValidateName(name); err != nil {
		return err
	}
	if _, err := queue.ParseCron(expr, opts.TZ); err != nil {
		return err
	}
	raw, err := queue.EncodeData(data)
	if err != nil {
		return err
	}

	now := e.now()
	if _, err := e.pool.Exec(ctx, `
		INSERT INTO jobkit_schedules (name, cron, tz, data, options, last_tick, created_on, updated_on)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (name) DO UPDATE SET
			cron = EXCLUDED.cron,
			tz = EXCLUDED.tz,
			data = EXCLUDED.data,
			options = EXCLUDED.options,
			last_tick = EXCLUDED.last_tick,
			updated_on = EXCLUDED.updated_on`,
		name, expr, opts.TZ, raw, opts.SendOptions, now,
	); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	e.opts.Logger.Info("schedule registered",
		logger.JobName(name),
		slog.String("cron", expr),
		slog.String("tz", opts.TZ))

	return nil
}

// Unschedule implements queue.Engine
func (e *Engine) Unschedule(ctx context.Context, name string) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}

	tag, err := e.pool.Exec(ctx, `DELETE FROM jobkit_schedules WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("unschedule %q: %w", name, err)
	}
	if tag.RowsAffected() > 0 {
		e.opts.Logger.Info("schedule removed", logger.JobName(name))
	}
	return nil
}

// Schedules returns the registered schedules sorted by name
func (e *Engine) Schedules(ctx context.Context) ([]queue.Schedule, error) {
	stored, err := e.listSchedules(ctx)
	if err != nil {
		return nil, err
	}

	schedules := make([]queue.Schedule, 0, len(stored))
	for _, s := range stored {
		schedules = append(schedules, s.Schedule)
	}
	return schedules, nil
}

// CheckSchedules enqueues one job for every schedule that has a due tick.
// The background loop calls it every ScheduleInterval.
func (e *Engine) CheckSchedules(ctx context.Context) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}

	stored, err := e.listSchedules(ctx)
	if err != nil {
		return err
	}

	now := e.now()
	var errs []error
	for _, s := range stored {
		sched, err := queue.ParseCron(s.Cron, s.TZ)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", s.Name, err))
			continue
		}

		tick, due := queue.LastTick(sched, s.lastTick, now)
		if !due {
			continue
		}
		if err := e.enqueueTick(ctx, s, tick, now); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// enqueueTick advances last_tick and inserts the tick's job in one transaction.
// The compare-and-set on last_tick lets one process win when several evaluate
// the same schedule; the unique index on singleton_on backs it up.
func (e *Engine) enqueueTick(ctx context.Context, s storedSchedule, tick, now time.Time) error {
	opts := s.TickOptions()
	job, err := queue.NewJob(s.Name, s.Data, opts, now)
	if err != nil {
		return err
	}
	job.SingletonKey = queue.ScheduleSingletonKey
	job.SingletonOn = &tick

	return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobkit_schedules SET last_tick = $2
			WHERE name = $1 AND last_tick = $3`,
			s.Name, tick, s.lastTick,
		)
		if err != nil {
			return fmt.Errorf("advance last tick: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		id, err := insertJob(ctx, tx, job)
		if err != nil {
			return err
		}

		e.opts.Logger.Debug("scheduled job created",
			logger.JobName(s.Name),
			logger.JobID(id),
			slog.Time("tick", tick))
		return nil
	})
}

func (e *Engine) listSchedules(ctx context.Context) ([]storedSchedule, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT name, cron, tz, data, options, last_tick, created_on, updated_on
		FROM jobkit_schedules
		ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var stored []storedSchedule
	for rows.Next() {
		var (
			s    storedSchedule
			data []byte
		)
		if err := rows.Scan(
			&s.Name, &s.Cron, &s.TZ, &data, &s.Options,
			&s.lastTick, &s.CreatedOn, &s.UpdatedOn,
		); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		if len(data) > 0 {
			s.Data = data
		}
		stored = append(stored, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return stored, nil
}
