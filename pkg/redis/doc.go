// Package redis connects the job queue to a Redis server.
//
// It wraps the go-redis client with:
//
//   - `Connect`, which parses a connection URL and retries the initial ping
//     according to the supplied configuration.
//   - `Healthcheck`, a ping-based check for readiness endpoints.
//
// Configuration is described by the `Config` struct whose fields are populated
// from environment variables via github.com/caarlos0/env.
//
// # Usage
//
//	cfg := redis.Config{
//	    ConnectionURL:  "redis://localhost:6379/0",
//	    RetryAttempts:  3,
//	    RetryInterval:  5 * time.Second,
//	    ConnectTimeout: 30 * time.Second,
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // the queue cannot work without its store
//	}
//	defer client.Close()
//
//	backend, err := queue.NewRedisBackend(client, "emails")
//
// # Errors
//
// Sentinel errors (ErrRedisNotReady, ErrHealthcheckFailed, ...) are joined with
// the underlying go-redis error using errors.Join, so both can be matched with
// errors.Is.
package redis
