package pgqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/jobkit/pkg/pg"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

const (
	kindThrottle = "throttle"
	kindDebounce = "debounce"
)

const jobColumns = `id, name, data, state, priority,
	retry_count, retry_limit, retry_delay, retry_backoff, expire_in_seconds,
	singleton_key, singleton_on, dead_letter,
	start_after, started_on, completed_on, created_on, error`

// Rows rejected by a singleton index or an existing id are skipped,
// so RETURNING yields no row and the caller gets uuid.Nil.
const insertJobSQL = `
	INSERT INTO jobkit_jobs (
		id, name, data, state, priority,
		retry_count, retry_limit, retry_delay, retry_backoff, expire_in_seconds,
		singleton_key, singleton_on, dead_letter,
		start_after, created_on
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13,
		$14, $15
	)
	ON CONFLICT DO NOTHING
	RETURNING id`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertArgs(j *queue.Job) []any {
	return []any{
		j.ID, j.Name, j.Data, string(j.State), j.Priority,
		j.RetryCount, j.RetryLimit, j.RetryDelay, j.RetryBackoff, j.ExpireInSeconds,
		nilIfEmpty(j.SingletonKey), j.SingletonOn, nilIfEmpty(j.DeadLetter),
		j.StartAfter, j.CreatedOn,
	}
}

func insertJob(ctx context.Context, q querier, j *queue.Job) (uuid.UUID, error) {
	var id uuid.UUID
	if err := q.QueryRow(ctx, insertJobSQL, insertArgs(j)...).Scan(&id); err != nil {
		if pg.IsNotFoundError(err) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		j            queue.Job
		data         []byte
		state        string
		singletonKey *string
		deadLetter   *string
	)
	err := row.Scan(
		&j.ID, &j.Name, &data, &state, &j.Priority,
		&j.RetryCount, &j.RetryLimit, &j.RetryDelay, &j.RetryBackoff, &j.ExpireInSeconds,
		&singletonKey, &j.SingletonOn, &deadLetter,
		&j.StartAfter, &j.StartedOn, &j.CompletedOn, &j.CreatedOn, &j.Error,
	)
	if err != nil {
		return queue.Job{}, err
	}

	if len(data) > 0 {
		j.Data = json.RawMessage(data)
	}
	j.State = queue.JobState(state)
	if singletonKey != nil {
		j.SingletonKey = *singletonKey
	}
	if deadLetter != nil {
		j.DeadLetter = *deadLetter
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]queue.Job, error) {
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
