package repositories

import (
	"context"
	"time"

	"vidswarm/internal/core/ports"
	"vidswarm/internal/infrastructure/distributed"
	"vidswarm/internal/infrastructure/repositories/memory"
	redisrepo "vidswarm/internal/infrastructure/repositories/redis"
	"vidswarm/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the stores a process needs, falling back to
// in-process implementations when Redis is disabled or unreachable.
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := redisrepo.Connect(ctx, redisrepo.OptionsFromConfig(cfg), logger)
		cancel()
		if err != nil {
			logger.Warnw("failed to connect to Redis, registry events stay local",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// CreateRegistryStore creates the tracker registry. The registry is process-local.
func (f *RepositoryFactory) CreateRegistryStore() ports.RegistryStore {
	return memory.NewMemoryRegistryStore(f.cfg.Tracker.PeerTimeout)
}

func (f *RepositoryFactory) CreateLibraryRepository() ports.LibraryRepository {
	return memory.NewMemoryLibraryRepository()
}

func (f *RepositoryFactory) CreateConnectionRepository() ports.ConnectionRepository {
	return memory.NewMemoryConnectionRepository()
}

// CreateEventBus returns the Redis event bus, or nil when Redis is not in use.
func (f *RepositoryFactory) CreateEventBus(instanceID string) *distributed.EventBus {
	if !f.useRedis || f.redisClient == nil {
		return nil
	}
	return distributed.NewEventBus(f.redisClient, f.cfg.Redis.Channel, instanceID, f.logger)
}

// CreateEventPublisher returns the Redis event bus or a publisher that drops events.
func (f *RepositoryFactory) CreateEventPublisher(instanceID string) ports.EventPublisher {
	if bus := f.CreateEventBus(instanceID); bus != nil {
		return bus
	}
	return distributed.NopPublisher{}
}

// RedisClient returns the shared client, or nil.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	return redisrepo.Close(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
