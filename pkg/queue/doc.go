// Package queue defines the boundary between typed job definitions and the
// durable queue engine that stores, delivers and retries jobs.
//
// Engine lists the operations a job definition needs: the send variants,
// bulk insert, cron scheduling and worker registration. Worker is the polling
// loop shared by every engine in this module; it claims due jobs through a
// WorkerStore and settles them after the handler ran. MemoryEngine is an
// in-process Engine for tests and local development.
//
// PostgreSQL and Redis engines live in the pgqueue and redisqueue packages and
// implement the same semantics.
//
// # Delivery modes
//
// Engines understand four ways of refusing to create a job. In every case the
// send returns uuid.Nil and a nil error; declining is an expected outcome:
//
//  1. SendOptions.SingletonKey: refused while a job with the same name and key
//     is created, waiting for retry or active.
//  2. SendThrottled: refused while less than window has passed since the last
//     accepted send with the same name and key.
//  3. SendDebounced: while a debounced job has not started yet, further sends
//     replace its data and push its start back by window.
//  4. Schedule: each cron tick creates at most one job.
//
// # Usage
//
//	engine := queue.NewMemoryEngine(queue.WithScheduleInterval(time.Second))
//	defer engine.Close()
//
//	id, err := engine.Send(ctx, "send-welcome-email", payload, queue.SendOptions{
//	    SingletonKey: "user-42",
//	    RetryLimit:   3,
//	})
//	if err != nil {
//	    return err
//	}
//	if id == uuid.Nil {
//	    // an identical job is already queued
//	}
//
//	_, err = engine.Work(ctx, "send-welcome-email", queue.WorkOptions{}, func(ctx context.Context, jobs []queue.Job) error {
//	    // jobs holds one job unless BatchSize is set
//	    return nil
//	})
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrInvalidJobName, ErrInvalidCron,
// ErrEngineClosed) can be checked with errors.Is.
package queue
