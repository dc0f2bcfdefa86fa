package queue

import "time"

// Config holds the environment driven settings shared by every engine
type Config struct {
	ScheduleInterval    time.Duration `env:"QUEUE_SCHEDULE_INTERVAL" envDefault:"30s"`
	MaintenanceInterval time.Duration `env:"QUEUE_MAINTENANCE_INTERVAL" envDefault:"30s"`
	ShutdownTimeout     time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Retention           time.Duration `env:"QUEUE_RETENTION" envDefault:"24h"`
	WorkOverridesFile   string        `env:"QUEUE_WORK_OVERRIDES"`
}
