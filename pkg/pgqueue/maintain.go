package pgqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Maintain fails active jobs that outlived their expiry, deletes finished jobs
// older than the retention window and drops stale throttle and debounce keys. The background loop calls it every MaintenanceInterval.
func (e *Engine) Maintain(ctx context.Context) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}

	now := e.now()
	var errs []error

	err := pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+` FROM jobkit_jobs
			WHERE state = 'active'
			  AND started_on < $1::timestamptz - make_interval(secs => CASE
					WHEN expire_in_seconds > 0 THEN expire_in_seconds
					ELSE $2::int
				END)
			FOR UPDATE SKIP LOCKED`,
			now, int(queue.DefaultExpireIn.Seconds()),
		)
		if err != nil {
			return err
		}

		expired, err := collectJobs(rows)
		if err != nil {
			return err
		}

		for i := range expired {
			if err := e.failJob(ctx, tx, &expired[i], "job expired", now); err != nil {
				return err
			}
			e.opts.Logger.Warn("active job expired",
				logger.JobName(expired[i].Name),
				logger.JobID(expired[i].ID))
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("expire jobs: %w", err))
	}

	if _, err := e.pool.Exec(ctx, `
		DELETE FROM jobkit_jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND completed_on < $1`,
		now.Add(-e.opts.Retention),
	); err != nil {
		errs = append(errs, fmt.Errorf("drop finished jobs: %w", err))
	}

	if _, err := e.pool.Exec(ctx, `
		DELETE FROM jobkit_throttles
		WHERE kind = $1 AND until <= $2`,
		kindThrottle, now,
	); err != nil {
		errs = append(errs, fmt.Errorf("drop stale throttles: %w", err))
	}

	if _, err := e.pool.Exec(ctx, `
		DELETE FROM jobkit_throttles AS t
		WHERE t.kind = $1
		  AND t.job_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM jobkit_jobs AS j
			WHERE j.id = t.job_id AND j.state = 'created'
		  )`,
		kindDebounce,
	); err != nil {
		errs = append(errs, fmt.Errorf("drop stale debounces: %w", err))
	}

	return errors.Join(errs...)
}
