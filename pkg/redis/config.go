package redis

import "time"

type Config struct {
	URL            string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // URL in the form "redis://:password@localhost:6379/0".
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`             // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`            // RetryInterval is the pause between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`          // ConnectTimeout bounds all attempts together.
	KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"jobkit"`            // KeyPrefix namespaces every key written by the Redis engine.
}
