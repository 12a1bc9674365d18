package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/phish-intel/internal/core"
	"github.com/mikey/phish-intel/internal/utils"
)

// GeminiClient implements the Classifier port using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	promptFormat  string
}

type phishingResponse struct {
	IsPhishing      bool     `json:"is_phishing"`
	Confidence      string   `json:"confidence"`
	Indicators      []string `json:"indicators"`
	Recommendations []string `json:"recommendations"`
}

const phishingPrompt = `You are a phishing detection system. Analyze the following email and determine if it's a phishing attempt.
Respond with a JSON object containing:
- is_phishing: boolean (true if phishing, false if not)
- confidence: one of "very_high", "high", "medium", "low", "very_low"
- indicators: array of short strings naming the suspicious signals you found
- recommendations: array of short strings with suggested handling actions

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// NewGeminiClient creates a new Gemini classifier
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat:  phishingPrompt,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify analyzes an email and produces a phishing verdict
func (c *GeminiClient) Classify(ctx context.Context, email *core.InboundEmail) (*core.Verdict, error) {
	start := time.Now()
	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}

	processedBody := c.textProcessor.ProcessText(email.Body, c.maxBodySize)
	prompt := fmt.Sprintf(c.promptFormat, email.From, to, email.Subject, processedBody)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

	parsed, err := parseVerdictJSON(responseText)
	if err != nil {
		return nil, err
	}

	verdict := &core.Verdict{
		IsPhishing:      parsed.IsPhishing,
		Confidence:      core.ConfidenceLabel(parsed.Confidence),
		Indicators:      parsed.Indicators,
		Recommendations: parsed.Recommendations,
		Provider:        "gemini",
		Model:           c.modelName,
		ProcessingTime:  time.Since(start),
	}
	if resp.UsageMetadata != nil {
		verdict.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		verdict.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return verdict, nil
}

func parseVerdictJSON(responseText string) (*phishingResponse, error) {
	var parsed phishingResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err == nil {
		return &parsed, nil
	}

	jsonStart := strings.IndexByte(responseText, '{')
	jsonEnd := strings.LastIndexByte(responseText, '}')
	if jsonStart < 0 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("failed to extract JSON from LLM response")
	}
	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &parsed, nil
}
