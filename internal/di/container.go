// Package di assembles the application object graph.
package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/api"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
	"github.com/mikey/phish-intel/internal/factory"
	"github.com/mikey/phish-intel/internal/logging"
	"github.com/mikey/phish-intel/internal/safelist"
	"github.com/mikey/phish-intel/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewNotifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewDedupFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register intelligence store
	if err := container.Provide(func(f *factory.StoreFactory) (core.IntelStore, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Classifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return nil, err
	}

	// Register notifier
	if err := container.Provide(func(f *factory.NotifierFactory) core.Notifier {
		return f.CreateNotifier()
	}); err != nil {
		return nil, err
	}

	// Register dedup cache
	if err := container.Provide(func(f *factory.DedupFactory) (core.DedupCache, error) {
		return f.CreateDedupCache()
	}); err != nil {
		return nil, err
	}

	// Register safe-domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *safelist.Checker {
		return safelist.NewChecker(cfg.GetStringSlice("extractor.safe_domains"), logger)
	}); err != nil {
		return nil, err
	}

	// Register IOC extractor
	if err := container.Provide(func(cfg *config.Config, checker *safelist.Checker) *core.IOCExtractor {
		return core.NewIOCExtractor(checker, cfg.GetFloat64("extractor.min_confidence"))
	}); err != nil {
		return nil, err
	}

	// Register pattern detector
	if err := container.Provide(func(cfg *config.Config, store core.IntelStore, logger *zap.Logger) (*core.PatternDetector, error) {
		lookback, err := cfg.GetDuration("patterns.lookback")
		if err != nil {
			return nil, err
		}
		return core.NewPatternDetector(store, logger, lookback, cfg.GetInt("patterns.threshold")), nil
	}); err != nil {
		return nil, err
	}

	// Register campaign alert service
	if err := container.Provide(func(cfg *config.Config, store core.IntelStore, notifier core.Notifier, logger *zap.Logger) (*core.CampaignAlertService, error) {
		alertCfg, err := cfg.GetAlerts()
		if err != nil {
			return nil, err
		}
		policy := core.AlertPolicy{
			MinDetections:  alertCfg.MinDetections,
			MinRecipients:  alertCfg.MinRecipients,
			MaxCampaignAge: alertCfg.MaxCampaignAge,
			ResendAfter:    alertCfg.DedupWindow,
		}
		if !alertCfg.Enabled {
			notifier = nil
		}
		return core.NewCampaignAlertService(store, notifier, logger, policy, alertCfg.Recipient), nil
	}); err != nil {
		return nil, err
	}

	// Register threat intel service
	if err := container.Provide(core.NewThreatIntelService); err != nil {
		return nil, err
	}

	// Register API server
	if err := container.Provide(func(cfg *config.Config, store core.IntelStore, logger *zap.Logger) *api.Server {
		return api.NewServer(store,
			cfg.GetString("api.listen_address"),
			cfg.GetStringSlice("api.allowed_origins"),
			logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
