package queue

import (
	"log/slog"
	"time"
)

// DefaultRetention is how long finished jobs are kept when no retention is set
const DefaultRetention = 24 * time.Hour

// EngineOption is a functional option shared by the engines of this module
type EngineOption func(*EngineOptions)

// EngineOptions is the resolved configuration of an engine
type EngineOptions struct {
	Logger              *slog.Logger
	Clock               func() time.Time
	ScheduleInterval    time.Duration
	MaintenanceInterval time.Duration
	ShutdownTimeout     time.Duration

	// Retention is how long finished jobs are kept before maintenance drops them.
	// The Redis engine does not purge job hashes yet and ignores it.
	Retention time.Duration
}

// NewEngineOptions applies opts on top of the defaults
func NewEngineOptions(opts ...EngineOption) EngineOptions {
	o := EngineOptions{
		Logger:              slog.Default(),
		Clock:               time.Now,
		ScheduleInterval:    30 * time.Second,
		MaintenanceInterval: 30 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		Retention:           DefaultRetention,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithConfig copies the non-zero durations of cfg
func WithConfig(cfg Config) EngineOption {
	return func(o *EngineOptions) {
		WithScheduleInterval(cfg.ScheduleInterval)(o)
		WithMaintenanceInterval(cfg.MaintenanceInterval)(o)
		WithShutdownTimeout(cfg.ShutdownTimeout)(o)
		WithRetention(cfg.Retention)(o)
	}
}

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests that simulate time
func WithClock(clock func() time.Time) EngineOption {
	return func(o *EngineOptions) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithScheduleInterval sets how often cron schedules are evaluated
func WithScheduleInterval(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.ScheduleInterval = d
		}
	}
}

// WithMaintenanceInterval sets how often expired jobs and stale keys are swept
func WithMaintenanceInterval(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.MaintenanceInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for in-flight handlers
func WithShutdownTimeout(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithRetention sets how long completed and failed jobs are kept
func WithRetention(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.Retention = d
		}
	}
}
