package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// DefaultKeyPrefix namespaces engine keys when no prefix is given
const DefaultKeyPrefix = "jobkit"

var (
	_ queue.Engine      = (*Engine)(nil)
	_ queue.WorkerStore = (*Engine)(nil)
)

// Engine is a queue.Engine backed by Redis.
// Every state change that must be atomic runs as a Lua script or inside a
// WATCH transaction, so several processes may share one server.
// The scripts touch keys of several job names in one call, so the engine
// needs a single server or a primary behind Sentinel, not a Cluster.
type Engine struct {
	client  *redis.Client
	keys    keys
	opts    queue.EngineOptions
	workers *queue.Workers

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New creates an engine that stores its keys under prefix and starts its
// schedule and maintenance loop. The client stays owned by the caller.
func New(client *redis.Client, prefix string, opts ...queue.EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		client:   client,
		keys:     newKeys(prefix),
		opts:     queue.NewEngineOptions(opts...),
		workers:  queue.NewWorkers(),
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}

	go e.loop(ctx)

	return e
}

// Close stops every worker and the background loop. It does not close the client.
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

	id, err := e.insert(ctx, sendScript, job, "", "")
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
// The window is a SET NX PX marker, so Redis expires it on its own.
func (e *Engine) SendThrottled(ctx context.Context, name string, data any, opts queue.SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, queue.ErrEngineClosed
	}
	if err := queue.ValidateWindow(window); err != nil {
		return uuid.Nil, err
	}

	job, err := queue.NewJob(name, data, opts, e.now())
	if err != nil {
		return uuid.Nil, err
	}

	windowMs := strconv.FormatInt(max(window.Milliseconds(), 1), 10)
	id, err := e.insert(ctx, throttleScript, job, e.keys.throttle(name, key), windowMs)
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

	id, err := e.insert(ctx, debounceScript, job, e.keys.debounce(name, key), string(job.Data))
	if err != nil {
		return uuid.Nil, fmt.Errorf("send debounced %q: %w", name, err)
	}
	return id, nil
}

// Insert implements queue.Engine.
// Entries are pipelined; entries rejected by a singleton key or an existing id are skipped.
func (e *Engine) Insert(ctx context.Context, inserts []queue.JobInsert) error {
	if e.closed.Load() {
		return queue.ErrEngineClosed
	}
	if len(inserts) == 0 {
		return queue.ErrNoJobsToInsert
	}

	now := e.now()
	jobs := make([]*queue.Job, 0, len(inserts))
	for i, in := range inserts {
		job, err := queue.NewJob(in.Name, in.Data, in.SendOptions, now)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
		if in.ID != uuid.Nil {
			job.ID = in.ID
		}
		jobs = append(jobs, job)
	}

	// Make sure the script is cached, EvalSha cannot fall back inside a pipeline
	if err := sendScript.Load(ctx, e.client).Err(); err != nil {
		return fmt.Errorf("insert %d job(s): %w", len(jobs), err)
	}

	_, err := e.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, job := range jobs {
			keys, args := e.insertArgs(job, "", "")
			sendScript.EvalSha(ctx, pipe, keys, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %d job(s): %w", len(jobs), err)
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
	m, err := e.client.HGetAll(ctx, e.keys.job(id.String())).Result()
	if err != nil {
		return queue.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return parseJob(m)
}

// Jobs returns every job of name, oldest first
func (e *Engine) Jobs(ctx context.Context, name string) ([]queue.Job, error) {
	ids, err := e.client.ZRange(ctx, e.keys.jobs(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs of %q: %w", name, err)
	}
	return e.loadJobs(ctx, ids)
}

// insert runs one of the insert scripts and maps a declined job to uuid.Nil
func (e *Engine) insert(ctx context.Context, script *redis.Script, job *queue.Job, marker, extra string) (uuid.UUID, error) {
	keys, args := e.insertArgs(job, marker, extra)
	created, err := script.Run(ctx, e.client, keys, args...).Int()
	if err != nil {
		return uuid.Nil, err
	}
	if created == 0 {
		return uuid.Nil, nil
	}
	return job.ID, nil
}

func (e *Engine) insertArgs(job *queue.Job, marker, extra string) ([]string, []any) {
	id := job.ID.String()

	singleton := "0"
	if job.SingletonKey != "" && job.SingletonOn == nil {
		singleton = "1"
	}
	if marker == "" {
		marker = e.keys.singleton(job.Name, job.SingletonKey)
	}

	keys := []string{
		e.keys.job(id),
		e.keys.queue(job.Name),
		e.keys.jobs(job.Name),
		e.keys.names(),
		e.keys.singleton(job.Name, job.SingletonKey),
		marker,
	}
	args := append([]any{
		id,
		job.Name,
		micros(job.StartAfter),
		micros(job.CreatedOn),
		singleton,
		extra,
		e.keys.jobPrefix(),
	}, jobFields(job)...)

	return keys, args
}

func (e *Engine) loadJobs(ctx context.Context, ids []string) ([]queue.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := e.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, e.keys.job(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %d job(s): %w", len(ids), err)
	}

	jobs := make([]queue.Job, 0, len(ids))
	for _, cmd := range cmds {
		job, err := parseJob(cmd.Val())
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
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
