package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/bedrock"
	"github.com/mikey/phish-intel/internal/adapters/gemini"
	"github.com/mikey/phish-intel/internal/adapters/openai"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
	"github.com/mikey/phish-intel/internal/utils"
)

// ClassifierFactory creates phishing classifiers
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a classifier based on the configured provider
func (f *ClassifierFactory) CreateClassifier() (core.Classifier, error) {
	switch f.cfg.GetLLM().Provider {
	case "bedrock":
		c := f.cfg.GetBedrock()
		factory := bedrock.NewFactory(c.Region, c.ModelID, c.MaxTokens,
			c.Temperature, c.TopP, c.MaxBodySize, f.logger, f.textProcessor)
		return factory.CreateClassifier()
	case "gemini":
		c := f.cfg.GetGemini()
		factory := gemini.NewFactory(c.APIKey, c.ModelName, c.MaxTokens,
			c.Temperature, c.TopP, c.MaxBodySize, f.logger, f.textProcessor)
		return factory.CreateClassifier()
	case "openai":
		c := f.cfg.GetOpenAI()
		factory := openai.NewFactory(c.APIKey, c.ModelName, c.MaxTokens,
			c.Temperature, c.TopP, c.MaxBodySize, f.logger, f.textProcessor)
		return factory.CreateClassifier()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", f.cfg.GetLLM().Provider)
	}
}
