package httpserver

import "time"

// Config configures the operations endpoint. An empty Addr disables it.
type Config struct {
	Addr            string        `env:"JOBKIT_HTTP_ADDR"`                             // Addr is the listen address, e.g. ":8080".
	ReadTimeout     time.Duration `env:"JOBKIT_HTTP_READ_TIMEOUT" envDefault:"10s"`    // ReadTimeout bounds reading a whole request.
	WriteTimeout    time.Duration `env:"JOBKIT_HTTP_WRITE_TIMEOUT" envDefault:"10s"`   // WriteTimeout bounds writing a response.
	IdleTimeout     time.Duration `env:"JOBKIT_HTTP_IDLE_TIMEOUT" envDefault:"60s"`    // IdleTimeout closes idle keep-alive connections.
	ShutdownTimeout time.Duration `env:"JOBKIT_HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"` // ShutdownTimeout is the time allowed for graceful shutdown.
}

// Enabled reports whether an address is configured
func (c Config) Enabled() bool {
	return c.Addr != ""
}
