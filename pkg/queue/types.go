package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a job inside an engine
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateRetry     JobState = "retry"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateFailed    JobState = "failed"
)

// InFlight reports whether the job still counts against its singleton key
func (s JobState) InFlight() bool {
	return s == JobStateCreated || s == JobStateRetry || s == JobStateActive
}

// Claimable reports whether a worker may pick the job up
func (s JobState) Claimable() bool {
	return s == JobStateCreated || s == JobStateRetry
}

const (
	// DefaultExpireIn bounds a single handler invocation when ExpireInSeconds is not set
	DefaultExpireIn = 15 * time.Minute

	// DefaultPollingInterval is used when WorkOptions.PollingIntervalSeconds is not set
	DefaultPollingInterval = 2 * time.Second

	// ScheduleSingletonKey marks jobs created by a cron schedule
	ScheduleSingletonKey = "__jobkit_cron__"

	maxBackoffShift = 16
)

// SendOptions is forwarded to the engine as is.
// Field names mirror the engine schema.
type SendOptions struct {
	Priority        int        `json:"priority,omitempty" yaml:"priority,omitempty"`
	StartAfter      *time.Time `json:"startAfter,omitempty" yaml:"startAfter,omitempty"`
	SingletonKey    string     `json:"singletonKey,omitempty" yaml:"singletonKey,omitempty"`
	RetryLimit      int        `json:"retryLimit,omitempty" yaml:"retryLimit,omitempty"`
	RetryDelay      int        `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"` // seconds
	RetryBackoff    bool       `json:"retryBackoff,omitempty" yaml:"retryBackoff,omitempty"`
	ExpireInSeconds int        `json:"expireInSeconds,omitempty" yaml:"expireInSeconds,omitempty"`
	DeadLetter      string     `json:"deadLetter,omitempty" yaml:"deadLetter,omitempty"`
}

// WorkOptions controls how a worker polls for and hands out jobs.
// A positive BatchSize selects the batch handler shape.
type WorkOptions struct {
	BatchSize              int     `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`
	PollingIntervalSeconds float64 `json:"pollingIntervalSeconds,omitempty" yaml:"pollingIntervalSeconds,omitempty"`
	LocalConcurrency       int     `json:"localConcurrency,omitempty" yaml:"localConcurrency,omitempty"`
}

// Batch reports whether the options select the batch handler shape
func (o WorkOptions) Batch() bool {
	return o.BatchSize > 0
}

// FetchSize is the number of jobs fetched per poll
func (o WorkOptions) FetchSize() int {
	return max(o.BatchSize, 1)
}

// Concurrency is the number of fetches a worker keeps in flight
func (o WorkOptions) Concurrency() int {
	return max(o.LocalConcurrency, 1)
}

// PollingInterval converts PollingIntervalSeconds, falling back to DefaultPollingInterval
func (o WorkOptions) PollingInterval() time.Duration {
	if o.PollingIntervalSeconds <= 0 {
		return DefaultPollingInterval
	}
	return time.Duration(o.PollingIntervalSeconds * float64(time.Second))
}

// Merge returns a copy of o where every non-zero field of override wins
func (o WorkOptions) Merge(override WorkOptions) WorkOptions {
	if override.BatchSize != 0 {
		o.BatchSize = override.BatchSize
	}
	if override.PollingIntervalSeconds != 0 {
		o.PollingIntervalSeconds = override.PollingIntervalSeconds
	}
	if override.LocalConcurrency != 0 {
		o.LocalConcurrency = override.LocalConcurrency
	}
	return o
}

// JobInsert is a single entry of a bulk insert
type JobInsert struct {
	ID   uuid.UUID `json:"id,omitempty"`
	Name string    `json:"name"`
	Data any       `json:"data,omitempty"`
	SendOptions
}

// ScheduleOptions configures a cron registration
type ScheduleOptions struct {
	SendOptions
	TZ string `json:"tz,omitempty" yaml:"tz,omitempty"`
}

// Schedule is a stored cron registration
type Schedule struct {
	Name      string          `json:"name"`
	Cron      string          `json:"cron"`
	TZ        string          `json:"tz,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Options   SendOptions     `json:"options"`
	CreatedOn time.Time       `json:"created_on"`
	UpdatedOn time.Time       `json:"updated_on"`
}

// TickOptions returns the send options for a job created by one tick.
// Ticks carry their own singleton marker and start right away, so the stored
// singleton key and start time are dropped.
func (s Schedule) TickOptions() SendOptions {
	opts := s.Options
	opts.SingletonKey = ""
	opts.StartAfter = nil
	return opts
}

// Job is a job as handed to workers
type Job struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Data            json.RawMessage `json:"data,omitempty"`
	State           JobState        `json:"state"`
	Priority        int             `json:"priority"`
	RetryCount      int             `json:"retry_count"`
	RetryLimit      int             `json:"retry_limit"`
	RetryDelay      int             `json:"retry_delay"`
	RetryBackoff    bool            `json:"retry_backoff"`
	ExpireInSeconds int             `json:"expire_in_seconds"`
	SingletonKey    string          `json:"singleton_key,omitempty"`
	SingletonOn     *time.Time      `json:"singleton_on,omitempty"`
	DeadLetter      string          `json:"dead_letter,omitempty"`
	StartAfter      time.Time       `json:"start_after"`
	StartedOn       *time.Time      `json:"started_on,omitempty"`
	CompletedOn     *time.Time      `json:"completed_on,omitempty"`
	CreatedOn       time.Time       `json:"created_on"`
	Error           *string         `json:"error,omitempty"`
}

// NewJob validates the name, encodes the payload and builds a job in created state
func NewJob(name string, data any, opts SendOptions, now time.Time) (*Job, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	raw, err := EncodeData(data)
	if err != nil {
		return nil, err
	}

	startAfter := now
	if opts.StartAfter != nil {
		startAfter = *opts.StartAfter
	}

	return &Job{
		ID:              uuid.New(),
		Name:            name,
		Data:            raw,
		State:           JobStateCreated,
		Priority:        opts.Priority,
		RetryLimit:      max(opts.RetryLimit, 0),
		RetryDelay:      max(opts.RetryDelay, 0),
		RetryBackoff:    opts.RetryBackoff,
		ExpireInSeconds: max(opts.ExpireInSeconds, 0),
		SingletonKey:    opts.SingletonKey,
		DeadLetter:      opts.DeadLetter,
		StartAfter:      startAfter,
		CreatedOn:       now,
	}, nil
}

// ExpireIn is the time limit of a single handler invocation
func (j *Job) ExpireIn() time.Duration {
	if j.ExpireInSeconds <= 0 {
		return DefaultExpireIn
	}
	return time.Duration(j.ExpireInSeconds) * time.Second
}

// CanRetry reports whether a failed attempt should be rescheduled
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.RetryLimit
}

// RetryAfter returns the earliest time of the next attempt.
// With RetryBackoff the delay doubles on every retry.
func (j *Job) RetryAfter(now time.Time) time.Time {
	delay := time.Duration(j.RetryDelay) * time.Second
	if j.RetryBackoff && j.RetryCount > 0 {
		delay <<= min(j.RetryCount-1, maxBackoffShift)
	}
	return now.Add(delay)
}
