package cache

import (
	"fmt"

	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/infrastructure/config"
	"github.com/larklabs/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UsageStoreFactory creates the usage store selected by configuration
type UsageStoreFactory struct {
	storeConfig config.StoreConfig
	redisConfig config.RedisConfig
	db          *gorm.DB
	logger      *zap.Logger
}

// UsageStoreFactoryOption is a functional option for configuring the factory
type UsageStoreFactoryOption func(*UsageStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) UsageStoreFactoryOption {
	return func(f *UsageStoreFactory) {
		f.logger = logger
	}
}

// WithDatabase supplies the connection used by the postgres driver
func WithDatabase(db *gorm.DB) UsageStoreFactoryOption {
	return func(f *UsageStoreFactory) {
		f.db = db
	}
}

// NewUsageStoreFactory creates a new factory
func NewUsageStoreFactory(cfg *config.Config, opts ...UsageStoreFactoryOption) *UsageStoreFactory {
	f := &UsageStoreFactory{
		storeConfig: cfg.Store,
		redisConfig: cfg.Redis,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore builds the configured store. The returned close function
// releases store-owned resources and is never nil.
func (f *UsageStoreFactory) CreateStore() (quota.UsageStore, func() error, error) {
	noop := func() error { return nil }

	switch f.storeConfig.Driver {
	case config.StoreDriverMemory:
		f.logger.Warn("Using in-memory usage store; usage is lost on restart")
		return NewInMemoryUsageStore(), noop, nil

	case config.StoreDriverRedis:
		store, err := NewRedisUsageStore(f.redisConfig)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Redis usage store: %w", err)
		}
		f.logger.Info("Using Redis usage store",
			zap.String("addr", f.redisConfig.Addr()),
			zap.String("key_prefix", f.redisConfig.KeyPrefix))
		return store, store.Close, nil

	case config.StoreDriverPostgres:
		if f.db == nil {
			return nil, noop, fmt.Errorf("postgres usage store requires a database connection")
		}
		f.logger.Info("Using PostgreSQL usage store")
		return persistence.NewGormUsageStore(f.db), noop, nil
	}

	return nil, noop, fmt.Errorf("unknown store driver %q", f.storeConfig.Driver)
}
