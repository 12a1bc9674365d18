package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/store"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
)

// StoreFactory creates intelligence stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates an intelligence store based on the configuration
func (f *StoreFactory) CreateStore() (core.IntelStore, error) {
	storeCfg, err := f.cfg.GetStore()
	if err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	pool := store.PoolConfig{
		MaxOpenConns:    storeCfg.MaxOpenConns,
		MaxIdleConns:    storeCfg.MaxIdleConns,
		ConnMaxIdleTime: storeCfg.ConnMaxIdleTime,
	}

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storeCfg.SQLitePath, pool, f.logger)
	case "mysql":
		return store.NewMySQLStore(storeCfg.MySQLDSN, pool, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
