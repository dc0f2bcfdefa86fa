package redisqueue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// tickGuardTTL keeps per-tick guards long enough to outlive any clock skew between processes
const tickGuardTTL = 24 * time.Hour

type storedSchedule struct {
	queue.Schedule
	LastTick time.Time `json:"last_tick"`
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
	s := storedSchedule{
		Schedule: queue.Schedule{
			Name:      name,
			Cron:      expr,
			TZ:        opts.TZ,
			Data:      raw,
			Options:   opts.SendOptions,
			CreatedOn: now,
			UpdatedOn: now,
		},
		LastTick: now,
	}

	existing, err := e.client.HGet(ctx, e.keys.schedules(), name).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("schedule %q: %w", name, err)
	default:
		var prev storedSchedule
		if json.Unmarshal([]byte(existing), &prev) == nil {
			s.CreatedOn = prev.CreatedOn
		}
	}

	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	if err := e.client.HSet(ctx, e.keys.schedules(), name, encoded).Err(); err != nil {
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

	removed, err := e.client.HDel(ctx, e.keys.schedules(), name).Result()
	if err != nil {
		return fmt.Errorf("unschedule %q: %w", name, err)
	}
	if removed > 0 {
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

	all, err := e.client.HGetAll(ctx, e.keys.schedules()).Result()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := e.now()
	var errs []error
	for name, raw := range all {
		var s storedSchedule
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", name, err))
			continue
		}

		sched, err := queue.ParseCron(s.Cron, s.TZ)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", name, err))
			continue
		}

		tick, due := queue.LastTick(sched, s.LastTick, now)
		if !due {
			continue
		}
		if err := e.enqueueTick(ctx, s, raw, tick, now); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// enqueueTick inserts the tick's job behind a SET NX guard, then advances
// last_tick unless the schedule was replaced in the meantime.
func (e *Engine) enqueueTick(ctx context.Context, s storedSchedule, raw string, tick, now time.Time) error {
	won, err := e.client.SetNX(ctx, e.keys.tick(s.Name, tick), now.UnixMicro(), tickGuardTTL).Result()
	if err != nil {
		return fmt.Errorf("guard tick: %w", err)
	}

	if won {
		opts := s.TickOptions()
		job, err := queue.NewJob(s.Name, s.Data, opts, now)
		if err != nil {
			return err
		}
		job.SingletonKey = queue.ScheduleSingletonKey
		job.SingletonOn = &tick

		id, err := e.insert(ctx, sendScript, job, "", "")
		if err != nil {
			return err
		}

		e.opts.Logger.Debug("scheduled job created",
			logger.JobName(s.Name),
			logger.JobID(id),
			slog.Time("tick", tick))
	}

	s.LastTick = tick
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}

	err = e.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, e.keys.schedules(), s.Name).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != raw {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, e.keys.schedules(), s.Name, encoded)
			return nil
		})
		return err
	}, e.keys.schedules())
	if errors.Is(err, redis.TxFailedErr) {
		// Another process advanced or replaced the schedule
		return nil
	}
	return err
}

func (e *Engine) listSchedules(ctx context.Context) ([]storedSchedule, error) {
	all, err := e.client.HGetAll(ctx, e.keys.schedules()).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	stored := make([]storedSchedule, 0, len(all))
	for name, raw := range all {
		var s storedSchedule
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode schedule %q: %w", name, err)
		}
		stored = append(stored, s)
	}
	slices.SortFunc(stored, func(a, b storedSchedule) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return stored, nil
}
