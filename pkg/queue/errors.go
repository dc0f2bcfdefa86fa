package queue

import "errors"

var (
	// ErrInvalidJobName is returned for empty names or names with characters engines cannot key on
	ErrInvalidJobName = errors.New("job name must be non-empty and contain only letters, digits, '_', '-', '.', '/' or ':'")

	// ErrInvalidData is returned when a payload cannot be encoded as JSON
	ErrInvalidData = errors.New("failed to encode job data as JSON")

	// ErrInvalidCron is returned when a cron expression or time zone cannot be parsed
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidWindow is returned when a throttle or debounce window is not positive
	ErrInvalidWindow = errors.New("throttle and debounce windows must be positive")

	// ErrNoJobsToInsert is returned when Insert is called with an empty slice
	ErrNoJobsToInsert = errors.New("no jobs to insert")

	// ErrNilHandler is returned when Work is called without a handler
	ErrNilHandler = errors.New("work handler cannot be nil")

	// ErrWorkerExists is returned when a worker is already registered for the job name
	ErrWorkerExists = errors.New("worker already registered for job name")

	// ErrJobNotFound is returned when a job id is unknown to the engine
	ErrJobNotFound = errors.New("job not found")

	// ErrEngineClosed is returned by every operation after Close
	ErrEngineClosed = errors.New("queue engine is closed")

	// ErrInvalidOverrides is returned when a work overrides document cannot be decoded
	ErrInvalidOverrides = errors.New("invalid work overrides document")
)
