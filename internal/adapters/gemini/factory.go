package gemini

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/utils"
)

// Factory creates Gemini classifiers
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

// NewFactory creates a new Gemini factory
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

// CreateClassifier creates a new Gemini classifier
func (f *Factory) CreateClassifier() (*GeminiClient, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	return NewGeminiClient(
		f.apiKey,
		f.modelName,
		f.maxTokens,
		f.temperature,
		f.topP,
		f.maxBodySize,
		f.logger,
		f.textProcessor,
	)
}
