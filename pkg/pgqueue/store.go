package pgqueue

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Fetch implements queue.WorkerStore.
// Claims due jobs with SELECT FOR UPDATE SKIP LOCKED so concurrent workers
// never receive the same job. Higher priority first, then oldest first.
func (e *Engine) Fetch(ctx context.Context, name string, limit int) ([]queue.Job, error) {
	if e.closed.Load() {
		return nil, queue.ErrEngineClosed
	}

	rows, err := e.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM jobkit_jobs
			WHERE name = $1
			  AND state IN ('created', 'retry')
			  AND start_after <= $2
			ORDER BY priority DESC, created_on ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobkit_jobs AS j
		SET state = 'active', started_on = $2
		FROM due
		WHERE j.id = due.id
		RETURNING `+prefixed("j", jobColumns),
		name, e.now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", name, err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", name, err)
	}

	// RETURNING does not keep the order of the claim
	slices.SortFunc(jobs, func(a, b queue.Job) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.CreatedOn.Compare(b.CreatedOn)
	})
	return jobs, nil
}

// Complete implements queue.WorkerStore
func (e *Engine) Complete(ctx context.Context, ids []uuid.UUID) error {
	return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		jobs, err := lockJobs(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("complete jobs: %w", err)
		}

		active := make([]uuid.UUID, 0, len(jobs))
		for _, job := range jobs {
			if job.State == queue.JobStateActive {
				active = append(active, job.ID)
			}
		}
		if len(active) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobkit_jobs SET state = 'completed', completed_on = $2
			WHERE id = ANY($1)`,
			active, e.now(),
		); err != nil {
			return fmt.Errorf("complete jobs: %w", err)
		}
		return nil
	})
}

// Fail implements queue.WorkerStore
func (e *Engine) Fail(ctx context.Context, ids []uuid.UUID, errMsg string) error {
	return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		jobs, err := lockJobs(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("fail jobs: %w", err)
		}

		now := e.now()
		for i := range jobs {
			if jobs[i].State != queue.JobStateActive {
				continue
			}
			if err := e.failJob(ctx, tx, &jobs[i], errMsg, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// lockJobs selects ids for update and reports unknown ids as queue.ErrJobNotFound
func lockJobs(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]queue.Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM jobkit_jobs
		WHERE id = ANY($1)
		FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, err
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	if len(jobs) < len(ids) {
		found := make(map[uuid.UUID]struct{}, len(jobs))
		for _, job := range jobs {
			found[job.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return nil, fmt.Errorf("job %s: %w", id, queue.ErrJobNotFound)
			}
		}
	}
	return jobs, nil
}

// failJob either reschedules job for another attempt or marks it failed
// and enqueues a copy of its data to the dead letter queue.
func (e *Engine) failJob(ctx context.Context, tx pgx.Tx, job *queue.Job, errMsg string, now time.Time) error {
	if job.CanRetry() {
		job.RetryCount++
		if _, err := tx.Exec(ctx, `
			UPDATE jobkit_jobs
			SET state = 'retry', retry_count = $2, start_after = $3, error = $4
			WHERE id = $1`,
			job.ID, job.RetryCount, job.RetryAfter(now), errMsg,
		); err != nil {
			return fmt.Errorf("retry job %s: %w", job.ID, err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobkit_jobs
		SET state = 'failed', completed_on = $2, error = $3
		WHERE id = $1`,
		job.ID, now, errMsg,
	); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	if job.DeadLetter == "" {
		return nil
	}
	dead, err := queue.NewJob(job.DeadLetter, job.Data, queue.SendOptions{}, now)
	if err != nil {
		e.opts.Logger.Error("failed to create dead letter job",
			logger.JobName(job.Name),
			slog.String("dead_letter", job.DeadLetter),
			logger.Error(err))
		return nil
	}
	if _, err := insertJob(ctx, tx, dead); err != nil {
		return fmt.Errorf("dead letter job %s: %w", job.ID, err)
	}
	return nil
}

// prefixed qualifies every column of a column list with alias
func prefixed(alias, columns string) string {
	fields := strings.Split(columns, ",")
	for i, f := range fields {
		fields[i] = alias + "." + strings.TrimSpace(f)
	}
	return strings.Join(fields, ", ")
}
