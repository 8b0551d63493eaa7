package queue

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/jobqueue/pkg/mongo"
	"github.com/dmitrymomot/jobqueue/pkg/redis"
)

// Driver names a backend implementation
type Driver string

const (
	DriverRedis  Driver = "redis"
	DriverMongo  Driver = "mongo"
	DriverMemory Driver = "memory"
)

// CloseFunc releases the connection opened for a backend
type CloseFunc func(ctx context.Context) error

// Open connects to the store selected by cfg.Driver and returns the backend for queue cfg.Name.
// The returned CloseFunc must be called once the backend is no longer used.
// Options in opts are applied after the ones derived from cfg.
func Open(ctx context.Context, cfg Config, opts ...BackendOption) (Backend, CloseFunc, error) {
	opts = append([]BackendOption{WithAtomicPromotion(cfg.AtomicPromotion)}, opts...)

	switch cfg.Driver {
	case DriverRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		b, err := NewRedisBackend(client, cfg.Name, opts...)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return b, func(context.Context) error { return client.Close() }, nil

	case DriverMongo:
		db, err := mongo.NewWithDatabase(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func(ctx context.Context) error { return db.Client().Disconnect(ctx) }

		b, err := NewMongoBackend(db, cfg.Name, opts...)
		if err != nil {
			_ = closeFn(ctx)
			return nil, nil, err
		}
		if err := b.EnsureIndexes(ctx); err != nil {
			_ = closeFn(ctx)
			return nil, nil, err
		}
		return b, closeFn, nil

	case DriverMemory:
		return NewMemoryBackend(opts...), func(context.Context) error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
