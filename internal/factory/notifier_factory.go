package factory

import (
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/notify"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
)

// NotifierFactory creates alert notifiers
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNotifier creates the SMTP notifier
func (f *NotifierFactory) CreateNotifier() core.Notifier {
	return notify.NewSMTPNotifier(
		f.cfg.GetString("notify.smtp_addr"),
		f.cfg.GetInt("notify.smtp_port"),
		f.cfg.GetString("notify.from"),
		f.cfg.GetString("notify.username"),
		f.cfg.GetString("notify.password"),
		f.logger,
	)
}
