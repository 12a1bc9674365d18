package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/dedup"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
)

// DedupFactory creates the processed-message dedup cache
type DedupFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDedupFactory creates a new dedup factory
func NewDedupFactory(cfg *config.Config, logger *zap.Logger) *DedupFactory {
	return &DedupFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDedupCache creates the configured dedup cache. The "store" type
// returns nil, which makes the service fall back to the message-id lookup
// in the intelligence store.
func (f *DedupFactory) CreateDedupCache() (core.DedupCache, error) {
	switch f.cfg.GetString("dedup.type") {
	case "redis":
		ttl, err := f.cfg.GetDuration("dedup.ttl")
		if err != nil {
			return nil, fmt.Errorf("invalid dedup TTL: %w", err)
		}
		return dedup.NewRedisCache(
			f.cfg.GetString("dedup.redis_addr"),
			f.cfg.GetString("dedup.redis_password"),
			f.cfg.GetInt("dedup.redis_db"),
			ttl,
			f.logger,
		)
	case "store", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported dedup type: %s", f.cfg.GetString("dedup.type"))
	}
}
