package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY,notEmpty"`

	// Dispatch tuning.
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchLimit    int           `env:"BATCH_LIMIT" envDefault:"100"`
	LeaseDuration time.Duration `env:"LEASE_DURATION" envDefault:"60s"`
	WorkerCount   int           `env:"WORKER_COUNT" envDefault:"8"`

	// Retry policy.
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase  time.Duration `env:"BACKOFF_BASE" envDefault:"30s"`
	BackoffCap   time.Duration `env:"BACKOFF_CAP" envDefault:"15m"`
	JitterWindow time.Duration `env:"JITTER_WINDOW" envDefault:"10s"`

	// How far in the past a requested due time may be and still count as "now".
	SchedulePastTolerance time.Duration `env:"SCHEDULE_PAST_TOLERANCE" envDefault:"1m"`

	// SMTP transport.
	SMTPHost     string        `env:"SMTP_HOST,notEmpty"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM,notEmpty"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
