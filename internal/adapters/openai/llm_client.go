package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/core"
	"github.com/mikey/phish-intel/internal/utils"
)

// OpenAIClient implements the Classifier port using OpenAI chat completions
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	promptFormat  string
}

// phishingResponse is the structured verdict returned by the model
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

// NewOpenAIClient creates a new OpenAI classifier
func NewOpenAIClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        openai.NewClient(apiKey),
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat:  phishingPrompt,
	}
}

// Classify analyzes an email and produces a phishing verdict
func (c *OpenAIClient) Classify(ctx context.Context, email *core.InboundEmail) (*core.Verdict, error) {
	start := time.Now()
	prompt := fmt.Sprintf(c.promptFormat, email.From, formatRecipients(email.To),
		email.Subject, c.textProcessor.ProcessText(email.Body, c.maxBodySize))

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a phishing detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: "json_object"}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	parsed, err := parseVerdictJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &core.Verdict{
		IsPhishing:      parsed.IsPhishing,
		Confidence:      core.ConfidenceLabel(parsed.Confidence),
		Indicators:      parsed.Indicators,
		Recommendations: parsed.Recommendations,
		Provider:        "openai",
		Model:           c.modelName,
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
		ProcessingTime:  time.Since(start),
	}, nil
}

func formatRecipients(to []string) string {
	if len(to) == 0 {
		return ""
	}
	out := to[0]
	if len(to) > 1 {
		out += fmt.Sprintf(" and %d others", len(to)-1)
	}
	return out
}

// parseVerdictJSON parses the model output, tolerating prose around the
// JSON object
func parseVerdictJSON(responseText string) (*phishingResponse, error) {
	var parsed phishingResponse
	if err := json.Unmarshal([]byte(responseText), &parsed); err == nil {
		return &parsed, nil
	}

	jsonStart := -1
	jsonEnd := -1
	for i := 0; i < len(responseText); i++ {
		if responseText[i] == '{' {
			jsonStart = i
			break
		}
	}
	for i := len(responseText) - 1; i >= 0; i-- {
		if responseText[i] == '}' {
			jsonEnd = i + 1
			break
		}
	}
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("failed to extract JSON from LLM response")
	}
	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &parsed, nil
}
