package config

import "time"

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// StoreConfig represents the configuration for the intelligence store
type StoreConfig struct {
	Type            string
	SQLitePath      string
	MySQLDSN        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// AlertConfig represents the configuration for campaign alerting
type AlertConfig struct {
	Enabled        bool
	Recipient      string
	MinDetections  int
	MinRecipients  int
	MaxCampaignAge time.Duration
	DedupWindow    time.Duration
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() (StoreConfig, error) {
	idle, err := c.GetDuration("store.conn_max_idle_time")
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Type:            c.GetString("store.type"),
		SQLitePath:      c.GetString("store.sqlite_path"),
		MySQLDSN:        c.GetString("store.mysql_dsn"),
		MaxOpenConns:    c.GetInt("store.max_open_conns"),
		MaxIdleConns:    c.GetInt("store.max_idle_conns"),
		ConnMaxIdleTime: idle,
	}, nil
}

// GetAlerts returns the alerting configuration
func (c *Config) GetAlerts() (AlertConfig, error) {
	age, err := c.GetDuration("alerts.max_campaign_age")
	if err != nil {
		return AlertConfig{}, err
	}
	window, err := c.GetDuration("alerts.dedup_window")
	if err != nil {
		return AlertConfig{}, err
	}
	return AlertConfig{
		Enabled:        c.GetBool("alerts.enabled"),
		Recipient:      c.GetString("alerts.recipient"),
		MinDetections:  c.GetInt("alerts.min_detections"),
		MinRecipients:  c.GetInt("alerts.min_recipients"),
		MaxCampaignAge: age,
		DedupWindow:    window,
	}, nil
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
