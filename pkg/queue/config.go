package queue

import (
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/mongo"
	"github.com/dmitrymomot/jobqueue/pkg/redis"
)

// Config holds the configuration for the job queue
type Config struct {
	Driver          Driver `env:"QUEUE_DRIVER" envDefault:"redis"`
	Name            string `env:"QUEUE_NAME" envDefault:"default"`
	AtomicPromotion bool   `env:"QUEUE_REDIS_ATOMIC_PROMOTION" envDefault:"true"`

	DefaultMaxRetries  int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	HandlerTimeout     time.Duration `env:"QUEUE_HANDLER_TIMEOUT" envDefault:"5m"`

	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"168h"`
	JanitorInterval    time.Duration `env:"QUEUE_JANITOR_INTERVAL" envDefault:"1h"`

	Redis redis.Config
	Mongo mongo.Config
}
