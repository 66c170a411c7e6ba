package repositories

import (
	"context"
	"sync"

	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/distributed"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/internal/infrastructure/repositories/memory"
	redisrepo "audiocast/internal/infrastructure/repositories/redis"
	"audiocast/pkg/config"
	pkgdistributed "audiocast/pkg/distributed"
	"audiocast/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support. Memory
// repositories are created once and shared, so every caller of one factory
// sees the same store.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	bus         *distributed.EventBus
	feed        *realtime.Feed
	cfg         *config.Config
	logger      *zap.SugaredLogger

	once        sync.Once
	sessions    ports.SessionRepository
	permissions ports.PermissionRepository
	profiles    ports.ProfileRepository
	cached      *CachedProfileRepository
	credentials ports.CredentialRepository
	locker      ports.Locker
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled but unreachable the factory falls back to memory repositories.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		feed:     realtime.NewFeed(),
		cfg:      cfg,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Attempts: cfg.Redis.ConnectAttempts,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			bus := distributed.NewEventBus(client, utils.GenerateInstanceID(), factory.feed, logger)
			if err := bus.Start(ctx); err != nil {
				logger.Warnw("failed to subscribe to change events, falling back to memory repositories",
					"error", err,
				)
				redisrepo.CloseRedisClient(client)
				factory.useRedis = false
			} else {
				factory.redisClient = client
				factory.bus = bus
				logger.Info("using Redis repositories")
			}
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

func (f *RepositoryFactory) build() {
	f.once.Do(func() {
		if f.useRedis && f.redisClient != nil {
			f.sessions = redisrepo.NewRedisSessionRepository(f.redisClient, f.bus)
			f.permissions = redisrepo.NewRedisPermissionRepository(f.redisClient, f.bus)
			f.profiles = redisrepo.NewRedisProfileRepository(f.redisClient)
			if ttl := f.cfg.Redis.ProfileCacheTTL; ttl > 0 {
				f.cached = NewCachedProfileRepository(f.profiles, ttl)
				f.profiles = f.cached
			}
			f.credentials = redisrepo.NewRedisCredentialRepository(f.redisClient)
			f.locker = pkgdistributed.NewLockManager(
				f.redisClient,
				"audiocast:lock:",
				f.cfg.Assignments.LockTTL,
				f.cfg.Assignments.LockTimeout,
			)
			return
		}

		f.sessions = memory.NewMemorySessionRepository(f.feed)
		f.permissions = memory.NewMemoryPermissionRepository(f.feed)
		f.profiles = memory.NewMemoryProfileRepository()
		f.credentials = memory.NewMemoryCredentialRepository()
		f.locker = pkgdistributed.NewLocalLocker()
	})
}

// CreateSessionRepository returns the session repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateSessionRepository() ports.SessionRepository {
	f.build()
	return f.sessions
}

// CreatePermissionRepository returns the permission repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreatePermissionRepository() ports.PermissionRepository {
	f.build()
	return f.permissions
}

// CreateProfileRepository returns the profile repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateProfileRepository() ports.ProfileRepository {
	f.build()
	return f.profiles
}

// CreateCredentialRepository returns the credential repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateCredentialRepository() ports.CredentialRepository {
	f.build()
	return f.credentials
}

// CreateLocker returns a Redis lock manager, or a process-local locker in memory mode
func (f *RepositoryFactory) CreateLocker() ports.Locker {
	f.build()
	return f.locker
}

// UsingRedis reports whether the factory ended up on Redis
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// Close stops the event bus and closes the Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.cached != nil {
		f.cached.Stop()
	}
	if f.bus != nil {
		if err := f.bus.Close(); err != nil {
			f.logger.Warnw("failed to close event bus", "error", err)
		}
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
