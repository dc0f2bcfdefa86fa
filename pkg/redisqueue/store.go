package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// maxWatchRetries bounds optimistic transaction retries on contended jobs
const maxWatchRetries = 10

// claimScanFactor sizes the due window a claim inspects relative to its limit
const claimScanFactor = 10

// claimScanSize is how many due ids a claim of limit jobs inspects
func claimScanSize(limit int) int {
	return max(limit, 1) * claimScanFactor
}

// Fetch implements queue.WorkerStore
func (e *Engine) Fetch(ctx context.Context, name string, limit int) ([]queue.Job, error) {
	if e.closed.Load() {
		return nil, queue.ErrEngineClosed
	}

	ids, err := claimScript.Run(ctx, e.client,
		[]string{e.keys.queue(name), e.keys.active(name)},
		micros(e.now()), limit, e.keys.jobPrefix(), int(queue.DefaultExpireIn.Seconds()),
		claimScanSize(limit),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", name, err)
	}

	jobs, err := e.loadJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", name, err)
	}
	return jobs, nil
}

// Complete implements queue.WorkerStore
func (e *Engine) Complete(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		err := e.settle(ctx, id, func(job *queue.Job, pipe redis.Pipeliner) error {
			now := e.now()
			pipe.HSet(ctx, e.keys.job(id.String()),
				"state", string(queue.JobStateCompleted),
				"completed_on", micros(now))
			pipe.ZRem(ctx, e.keys.active(job.Name), id.String())
			e.release(ctx, pipe, job)
			return nil
		})
		if err != nil {
			return fmt.Errorf("complete job %s: %w", id, err)
		}
	}
	return nil
}

// Fail implements queue.WorkerStore
func (e *Engine) Fail(ctx context.Context, ids []uuid.UUID, errMsg string) error {
	for _, id := range ids {
		if err := e.fail(ctx, id, errMsg); err != nil {
			return fmt.Errorf("fail job %s: %w", id, err)
		}
	}
	return nil
}

// fail either reschedules the job for another attempt or marks it failed
// and enqueues a copy of its data to the dead letter queue.
func (e *Engine) fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	var deadLetter *queue.Job

	err := e.settle(ctx, id, func(job *queue.Job, pipe redis.Pipeliner) error {
		now := e.now()
		key := e.keys.job(id.String())
		deadLetter = nil

		pipe.ZRem(ctx, e.keys.active(job.Name), id.String())

		if job.CanRetry() {
			job.RetryCount++
			startAfter := job.RetryAfter(now)
			pipe.HSet(ctx, key,
				"state", string(queue.JobStateRetry),
				"retry_count", strconv.Itoa(job.RetryCount),
				"start_after", micros(startAfter),
				"error", errMsg,
				"has_error", "1")
			pipe.ZAdd(ctx, e.keys.queue(job.Name), redis.Z{Score: score(startAfter), Member: id.String()})
			return nil
		}

		pipe.HSet(ctx, key,
			"state", string(queue.JobStateFailed),
			"completed_on", micros(now),
			"error", errMsg,
			"has_error", "1")
		e.release(ctx, pipe, job)

		if job.DeadLetter != "" {
			dead, err := queue.NewJob(job.DeadLetter, job.Data, queue.SendOptions{}, now)
			if err != nil {
				e.opts.Logger.Error("failed to create dead letter job",
					logger.JobName(job.Name),
					slog.String("dead_letter", job.DeadLetter),
					logger.Error(err))
				return nil
			}
			deadLetter = dead
		}
		return nil
	})
	if err != nil || deadLetter == nil {
		return err
	}

	if _, err := e.insert(ctx, sendScript, deadLetter, "", ""); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	return nil
}

// settle applies fn to an active job inside a WATCH transaction.
// Jobs that are no longer active are left alone.
func (e *Engine) settle(ctx context.Context, id uuid.UUID, fn func(job *queue.Job, pipe redis.Pipeliner) error) error {
	key := e.keys.job(id.String())

	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		job, err := parseJob(m)
		if err != nil {
			return err
		}
		if job.State != queue.JobStateActive {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return fn(&job, pipe)
		})
		return err
	}

	for range maxWatchRetries {
		err := e.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job kept changing after %d attempts: %w", maxWatchRetries, redis.TxFailedErr)
}

// release queues the removal of the job's singleton marker
func (e *Engine) release(ctx context.Context, pipe redis.Pipeliner, job *queue.Job) {
	if job.SingletonKey == "" || job.SingletonOn != nil {
		return
	}
	// Eval, not Run: a pipeline cannot fall back from EvalSha
	releaseScript.Eval(ctx, pipe, []string{e.keys.singleton(job.Name, job.SingletonKey)}, job.ID.String())
}

// expire fails active jobs of name whose deadline passed
func (e *Engine) expire(ctx context.Context, name string, now time.Time) error {
	ids, err := e.client.ZRangeByScore(ctx, e.keys.active(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: micros(now),
	}).Result()
	if err != nil {
		return fmt.Errorf("list expired jobs of %q: %w", name, err)
	}

	var errs []error
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			e.client.ZRem(ctx, e.keys.active(name), raw)
			continue
		}
		if err := e.fail(ctx, id, "job expired"); err != nil {
			errs = append(errs, fmt.Errorf("expire job %s: %w", id, err))
			continue
		}
		e.opts.Logger.Warn("active job expired",
			logger.JobName(name),
			logger.JobID(id))
	}
	return errors.Join(errs...)
}
