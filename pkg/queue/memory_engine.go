package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

var (
	_ Engine      = (*MemoryEngine)(nil)
	_ WorkerStore = (*MemoryEngine)(nil)
)

// MemoryEngine is an in-process Engine for tests and local development.
// Nothing survives a restart.
type MemoryEngine struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*Job
	byName map[string][]uuid.UUID

	// Deduplication indexes, keyed by name and key
	singletons map[string]uuid.UUID
	throttles  map[string]time.Time
	debounces  map[string]uuid.UUID

	schedules map[string]*memorySchedule
	workers   *Workers

	opts      EngineOptions
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

type memorySchedule struct {
	Schedule
	sched    cron.Schedule
	lastTick time.Time
}

// NewMemoryEngine creates an in-memory engine and starts its schedule and maintenance loop
func NewMemoryEngine(opts ...EngineOption) *MemoryEngine {
	e := &MemoryEngine{
		jobs:       make(map[uuid.UUID]*Job),
		byName:     make(map[string][]uuid.UUID),
		singletons: make(map[string]uuid.UUID),
		throttles:  make(map[string]time.Time),
		debounces:  make(map[string]uuid.UUID),
		schedules:  make(map[string]*memorySchedule),
		workers:    NewWorkers(),
		opts:       NewEngineOptions(opts...),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}

	go e.loop()

	return e
}

// Close stops every worker and the background loop
func (e *MemoryEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		<-e.loopDone

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
		defer cancel()
		err = e.workers.StopAll(ctx)
	})
	return err
}

// Send implements Engine
func (e *MemoryEngine) Send(ctx context.Context, name string, data any, opts SendOptions) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, ErrEngineClosed
	}

	job, err := NewJob(name, data, opts, e.now())
	if err != nil {
		return uuid.Nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.insertLocked(job), nil
}

// SendAfter implements Engine
func (e *MemoryEngine) SendAfter(ctx context.Context, name string, data any, opts SendOptions, startAfter time.Time) (uuid.UUID, error) {
	opts.StartAfter = &startAfter
	return e.Send(ctx, name, data, opts)
}

// SendThrottled implements Engine
func (e *MemoryEngine) SendThrottled(ctx context.Context, name string, data any, opts SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, ErrEngineClosed
	}
	if err := ValidateWindow(window); err != nil {
		return uuid.Nil, err
	}

	now := e.now()
	job, err := NewJob(name, data, opts, now)
	if err != nil {
		return uuid.Nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := compositeKey(name, key)
	if until, ok := e.throttles[k]; ok && now.Before(until) {
		return uuid.Nil, nil
	}

	id := e.insertLocked(job)
	if id != uuid.Nil {
		e.throttles[k] = now.Add(window)
	}
	return id, nil
}

// SendDebounced implements Engine.
// While the debounced job has not started, later sends replace its data,
// push its start back by window and return uuid.Nil.
func (e *MemoryEngine) SendDebounced(ctx context.Context, name string, data any, opts SendOptions, window time.Duration, key string) (uuid.UUID, error) {
	if e.closed.Load() {
		return uuid.Nil, ErrEngineClosed
	}
	if err := ValidateWindow(window); err != nil {
		return uuid.Nil, err
	}

	now := e.now()
	startAfter := now.Add(window)
	opts.StartAfter = &startAfter

	job, err := NewJob(name, data, opts, now)
	if err != nil {
		return uuid.Nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := compositeKey(name, key)
	if id, ok := e.debounces[k]; ok {
		if pending, ok := e.jobs[id]; ok && pending.State == JobStateCreated {
			pending.Data = job.Data
			pending.StartAfter = startAfter
			return uuid.Nil, nil
		}
		delete(e.debounces, k)
	}

	id := e.insertLocked(job)
	if id != uuid.Nil {
		e.debounces[k] = id
	}
	return id, nil
}

// Insert implements Engine
func (e *MemoryEngine) Insert(ctx context.Context, inserts []JobInsert) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if len(inserts) == 0 {
		return ErrNoJobsToInsert
	}

	now := e.now()
	jobs := make([]*Job, 0, len(inserts))
	for i, in := range inserts {
		job, err := NewJob(in.Name, in.Data, in.SendOptions, now)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
		if in.ID != uuid.Nil {
			job.ID = in.ID
		}
		jobs = append(jobs, job)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, job := range jobs {
		if _, exists := e.jobs[job.ID]; exists {
			continue
		}
		e.insertLocked(job)
	}
	return nil
}

// Schedule implements Engine
func (e *MemoryEngine) Schedule(ctx context.Context, name, expr string, data any, opts ScheduleOptions) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	sched, err := ParseCron(expr, opts.TZ)
	if err != nil {
		return err
	}
	raw, err := EncodeData(data)
	if err != nil {
		return err
	}

	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &memorySchedule{
		Schedule: Schedule{
			Name:      name,
			Cron:      expr,
			TZ:        opts.TZ,
			Data:      raw,
			Options:   opts.SendOptions,
			CreatedOn: now,
			UpdatedOn: now,
		},
		sched:    sched,
		lastTick: now,
	}
	if existing, ok := e.schedules[name]; ok {
		s.CreatedOn = existing.CreatedOn
	}
	e.schedules[name] = s

	e.opts.Logger.Info("schedule registered",
		logger.JobName(name),
		slog.String("cron", expr),
		slog.String("tz", opts.TZ))

	return nil
}

// Unschedule implements Engine
func (e *MemoryEngine) Unschedule(ctx context.Context, name string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	_, existed := e.schedules[name]
	delete(e.schedules, name)
	e.mu.Unlock()

	if existed {
		e.opts.Logger.Info("schedule removed", logger.JobName(name))
	}
	return nil
}

// Work implements Engine
func (e *MemoryEngine) Work(ctx context.Context, name string, opts WorkOptions, handler WorkHandler) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	return e.workers.Start(ctx, e, name, opts, handler, e.opts.Logger)
}

// OffWork implements Engine
func (e *MemoryEngine) OffWork(ctx context.Context, name string) error {
	return e.workers.Stop(ctx, name)
}

// Fetch implements WorkerStore.
// Higher priority first, then oldest first.
func (e *MemoryEngine) Fetch(ctx context.Context, name string, limit int) ([]Job, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var due []*Job
	for _, id := range e.byName[name] {
		job := e.jobs[id]
		if !job.State.Claimable() || job.StartAfter.After(now) {
			continue
		}
		due = append(due, job)
	}

	slices.SortFunc(due, func(a, b *Job) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.CreatedOn.Compare(b.CreatedOn)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, job := range due {
		job.State = JobStateActive
		job.StartedOn = &now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// Complete implements WorkerStore
func (e *MemoryEngine) Complete(ctx context.Context, ids []uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, id := range ids {
		job, ok := e.jobs[id]
		if !ok {
			return fmt.Errorf("complete job %s: %w", id, ErrJobNotFound)
		}
		if job.State != JobStateActive {
			continue
		}
		job.State = JobStateCompleted
		job.CompletedOn = &now
		e.releaseLocked(job)
	}
	return nil
}

// Fail implements WorkerStore
func (e *MemoryEngine) Fail(ctx context.Context, ids []uuid.UUID, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		job, ok := e.jobs[id]
		if !ok {
			return fmt.Errorf("fail job %s: %w", id, ErrJobNotFound)
		}
		if job.State != JobStateActive {
			continue
		}
		e.failLocked(job, errMsg)
	}
	return nil
}

// Job returns a copy of the job with the given id
func (e *MemoryEngine) Job(id uuid.UUID) (Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	job, ok := e.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Jobs returns copies of every job of name, oldest first
func (e *MemoryEngine) Jobs(name string) []Job {
	e.mu.RLock()
	defer e.mu.RUnlock()

	jobs := make([]Job, 0, len(e.byName[name]))
	for _, id := range e.byName[name] {
		jobs = append(jobs, *e.jobs[id])
	}
	slices.SortStableFunc(jobs, func(a, b Job) int {
		return a.CreatedOn.Compare(b.CreatedOn)
	})
	return jobs
}

// Schedules returns the registered schedules sorted by name
func (e *MemoryEngine) Schedules() []Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	schedules := make([]Schedule, 0, len(e.schedules))
	for _, s := range e.schedules {
		schedules = append(schedules, s.Schedule)
	}
	slices.SortFunc(schedules, func(a, b Schedule) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return schedules
}

// CheckSchedules enqueues one job for every schedule that has a due tick.
// The background loop calls it every ScheduleInterval.
func (e *MemoryEngine) CheckSchedules(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var errs []error
	for _, s := range e.schedules {
		tick, due := LastTick(s.sched, s.lastTick, now)
		if !due {
			continue
		}
		s.lastTick = tick

		opts := s.TickOptions()
		job, err := NewJob(s.Name, s.Data, opts, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", s.Name, err))
			continue
		}
		job.SingletonKey = ScheduleSingletonKey
		job.SingletonOn = &tick
		e.insertLocked(job)

		e.opts.Logger.Debug("scheduled job created",
			logger.JobName(s.Name),
			logger.JobID(job.ID),
			slog.Time("tick", tick))
	}
	return errors.Join(errs...)
}

// Maintain fails active jobs that outlived their expiry, drops finished jobs
// older than the retention window and drops stale dedup entries.
func (e *MemoryEngine) Maintain(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, job := range e.jobs {
		if job.State != JobStateActive || job.StartedOn == nil {
			continue
		}
		if now.Sub(*job.StartedOn) > job.ExpireIn() {
			e.failLocked(job, "job expired")
			e.opts.Logger.Warn("active job expired",
				logger.JobName(job.Name),
				logger.JobID(job.ID))
		}
	}

	e.purgeLocked(now.Add(-e.opts.Retention))

	for k, until := range e.throttles {
		if !now.Before(until) {
			delete(e.throttles, k)
		}
	}
	for k, id := range e.debounces {
		if job, ok := e.jobs[id]; !ok || job.State != JobStateCreated {
			delete(e.debounces, k)
		}
	}
}

// purgeLocked removes jobs that finished before cutoff
func (e *MemoryEngine) purgeLocked(cutoff time.Time) {
	purged := make(map[string]bool)
	for id, job := range e.jobs {
		if job.State.InFlight() || job.CompletedOn == nil || !job.CompletedOn.Before(cutoff) {
			continue
		}
		delete(e.jobs, id)
		purged[job.Name] = true
	}
	if len(purged) == 0 {
		return
	}

	for name := range purged {
		ids := slices.DeleteFunc(e.byName[name], func(id uuid.UUID) bool {
			_, ok := e.jobs[id]
			return !ok
		})
		if len(ids) == 0 {
			delete(e.byName, name)
			continue
		}
		e.byName[name] = ids
	}
	for k, id := range e.singletons {
		if _, ok := e.jobs[id]; !ok {
			delete(e.singletons, k)
		}
	}
}

func (e *MemoryEngine) loop() {
	defer close(e.loopDone)

	scheduleTicker := time.NewTicker(e.opts.ScheduleInterval)
	defer scheduleTicker.Stop()
	maintenanceTicker := time.NewTicker(e.opts.MaintenanceInterval)
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-scheduleTicker.C:
			if err := e.CheckSchedules(context.Background()); err != nil && !errors.Is(err, ErrEngineClosed) {
				e.opts.Logger.Error("failed to check schedules", logger.Error(err))
			}
		case <-maintenanceTicker.C:
			e.Maintain(context.Background())
		}
	}
}

// insertLocked stores job unless an in-flight job holds its singleton key.
// Jobs created by a schedule carry SingletonOn and skip the in-flight check.
func (e *MemoryEngine) insertLocked(job *Job) uuid.UUID {
	if job.SingletonKey != "" && job.SingletonOn == nil {
		k := compositeKey(job.Name, job.SingletonKey)
		if id, ok := e.singletons[k]; ok {
			if holder, ok := e.jobs[id]; ok && holder.State.InFlight() {
				return uuid.Nil
			}
		}
		e.singletons[k] = job.ID
	}

	e.jobs[job.ID] = job
	e.byName[job.Name] = append(e.byName[job.Name], job.ID)
	return job.ID
}

func (e *MemoryEngine) failLocked(job *Job, errMsg string) {
	now := e.now()
	job.Error = &errMsg

	if job.CanRetry() {
		job.RetryCount++
		job.State = JobStateRetry
		job.StartAfter = job.RetryAfter(now)
		return
	}

	job.State = JobStateFailed
	job.CompletedOn = &now
	e.releaseLocked(job)

	if job.DeadLetter == "" {
		return
	}
	dead, err := NewJob(job.DeadLetter, job.Data, SendOptions{}, now)
	if err != nil {
		e.opts.Logger.Error("failed to create dead letter job",
			logger.JobName(job.Name),
			slog.String("dead_letter", job.DeadLetter),
			logger.Error(err))
		return
	}
	e.insertLocked(dead)
}

func (e *MemoryEngine) releaseLocked(job *Job) {
	if job.SingletonKey == "" || job.SingletonOn != nil {
		return
	}
	k := compositeKey(job.Name, job.SingletonKey)
	if e.singletons[k] == job.ID {
		delete(e.singletons, k)
	}
}

func (e *MemoryEngine) now() time.Time {
	return e.opts.Clock()
}

func compositeKey(name, key string) string {
	return name + "\x00" + key
}
