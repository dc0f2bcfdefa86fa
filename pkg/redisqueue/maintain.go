package redisqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Maintain fails active jobs that outlived their expiry and drops debounce
// markers whose job has started. Throttle markers expire on their own.
// The background loop calls it every MaintenanceInterval.
func (e *Engine) Maintain(ctx context.Context) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}

	names, err := e.client.SMembers(ctx, e.keys.names()).Result()
	if err != nil {
		return fmt.Errorf("list job names: %w", err)
	}

	now := e.now()
	var errs []error
	for _, name := range names {
		if err := e.expire(ctx, name, now); err != nil {
			errs = append(errs, err)
		}
	}

	if err := e.dropStaleDebounces(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) dropStaleDebounces(ctx context.Context) error {
	iter := e.client.Scan(ctx, 0, e.keys.debouncePattern(), 100).Iterator()
	for iter.Next(ctx) {
		marker := iter.Val()
		id, err := e.client.Get(ctx, marker).Result()
		if err != nil {
			continue
		}
		state, err := e.client.HGet(ctx, e.keys.job(id), "state").Result()
		if err == nil && state == string(queue.JobStateCreated) {
			continue
		}
		// Compare and delete so a marker replaced since GET survives
		releaseScript.Run(ctx, e.client, []string{marker}, id)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan debounce markers: %w", err)
	}
	return nil
}
