package openai

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/utils"
)

// Factory creates OpenAI classifiers
type Factory struct {
	apiKey        string
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new OpenAI factory
func NewFactory(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Factory {
	return &Factory{
		apiKey:        apiKey,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a new OpenAI classifier
func (f *Factory) CreateClassifier() (*OpenAIClient, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return NewOpenAIClient(
		f.apiKey,
		f.modelName,
		f.maxTokens,
		f.temperature,
		f.topP,
		f.maxBodySize,
		f.logger,
		f.textProcessor,
	), nil
}
