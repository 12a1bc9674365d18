package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/export"
	"github.com/mikey/phish-intel/internal/config"
	"github.com/mikey/phish-intel/internal/core"
	"github.com/mikey/phish-intel/internal/factory"
	"github.com/mikey/phish-intel/internal/logging"
	"github.com/mikey/phish-intel/internal/safelist"
)

var (
	// LLM provider flags
	provider    = flag.String("provider", "openai", "LLM provider (bedrock, gemini, openai)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for LLM response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for LLM generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for LLM generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum email body size to send to LLM")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4o-mini", "OpenAI model name")

	// Store flags
	storeType  = flag.String("store", "sqlite", "Intelligence store backend (memory, sqlite, mysql)")
	sqlitePath = flag.String("sqlite-path", "./phish_intel.db", "SQLite database path")
	mysqlDSN   = flag.String("mysql-dsn", "", "MySQL DSN")

	// Extraction flags
	minConfidence = flag.Float64("min-confidence", 0, "Minimum indicator confidence (0 selects the default)")
	safeDomains   = flag.String("safe-domains", "", "Comma-separated list of additional safe domains")
	profileID     = flag.String("profile", "", "Profile/tenant identifier to stamp on the analysis")

	// Mode flags
	exportFormat = flag.String("export", "", "Export stored indicators instead of processing an email (stix, csv)")
	inputFile    = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog      = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile   = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cfg *config.Config
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	store, err := factory.NewStoreFactory(cfg, logger).CreateStore()
	if err != nil {
		logger.Fatal("Failed to create intelligence store", zap.Error(err))
	}
	defer func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *exportFormat != "" {
		if err := exportIndicators(ctx, store, *exportFormat); err != nil {
			logger.Fatal("Export failed", zap.Error(err))
		}
		return
	}

	if err := processEmail(ctx, cfg, store, logger); err != nil {
		logger.Fatal("Processing failed", zap.Error(err))
	}
}

func exportIndicators(ctx context.Context, store core.IntelStore, format string) error {
	indicators, err := store.GetActiveIndicators(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("failed to load indicators: %w", err)
	}
	switch format {
	case "stix":
		return export.WriteSTIX(os.Stdout, indicators)
	case "csv":
		return export.WriteCSV(os.Stdout, indicators)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func processEmail(ctx context.Context, cfg *config.Config, store core.IntelStore, logger *zap.Logger) error {
	textProcessor := factory.NewTextProcessorFactory(logger).CreateTextProcessor()
	classifier, err := factory.NewClassifierFactory(cfg, logger, textProcessor).CreateClassifier()
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	defer func() {
		if closer, ok := classifier.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	email, err := readEmail(logger)
	if err != nil {
		return err
	}
	email.ProfileID = *profileID

	verdict, err := classifier.Classify(ctx, email)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	checker := safelist.NewChecker(cfg.GetStringSlice("extractor.safe_domains"), logger)
	extractor := core.NewIOCExtractor(checker, cfg.GetFloat64("extractor.min_confidence"))
	patterns := core.NewPatternDetector(store, logger, 0, 0)
	alerts := core.NewCampaignAlertService(store, nil, logger, core.DefaultAlertPolicy(), "")
	service := core.NewThreatIntelService(store, extractor, patterns, alerts, nil, logger)

	result, err := service.ProcessVerdict(ctx, email, verdict)
	if err != nil {
		return fmt.Errorf("failed to persist verdict: %w", err)
	}

	return printResult(verdict, result)
}

func readEmail(logger *zap.Logger) (*core.InboundEmail, error) {
	var reader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		reader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		reader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	msg, err := mail.ReadMessage(bufio.NewReader(reader))
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read email body: %w", err)
	}

	email := &core.InboundEmail{
		MessageID: msg.Header.Get("Message-Id"),
		Subject:   msg.Header.Get("Subject"),
		Body:      string(body),
	}
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		email.From = addr.Address
	} else {
		email.From = msg.Header.Get("From")
	}
	if toList, err := msg.Header.AddressList("To"); err == nil {
		for _, a := range toList {
			email.To = append(email.To, a.Address)
		}
	}
	return email, nil
}

func printResult(verdict *core.Verdict, result *core.ProcessResult) error {
	type indicatorOut struct {
		Type       string  `json:"type"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
		Severity   string  `json:"severity"`
	}
	type patternOut struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		IsNew bool   `json:"is_new"`
	}

	out := struct {
		IsPhishing      bool           `json:"is_phishing"`
		Confidence      string         `json:"confidence"`
		RiskLevel       string         `json:"risk_level"`
		Duplicate       bool           `json:"duplicate"`
		AnalysisID      string         `json:"analysis_id,omitempty"`
		Indicators      []indicatorOut `json:"indicators"`
		Patterns        []patternOut   `json:"patterns"`
		Recommendations []string       `json:"recommendations,omitempty"`
	}{
		IsPhishing: verdict.IsPhishing,
		Confidence: string(verdict.Confidence),
		RiskLevel:  string(verdict.RiskLevel()),
		Duplicate:  result.Duplicate,
	}
	if result.Analysis != nil {
		out.AnalysisID = result.Analysis.ID
	}
	for _, ind := range result.Indicators {
		out.Indicators = append(out.Indicators, indicatorOut{
			Type:       string(ind.Type),
			Value:      ind.Value,
			Confidence: ind.Confidence,
			Severity:   string(ind.Severity),
		})
	}
	for _, p := range result.Patterns {
		out.Patterns = append(out.Patterns, patternOut{
			Type:  string(p.Pattern.Type),
			Name:  p.Pattern.Name,
			IsNew: p.IsNew,
		})
	}
	out.Recommendations = verdict.Recommendations

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// createConfigFromFlags builds a configuration from the command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("llm.provider", *provider)

	v.Set("bedrock.region", *bedrockRegion)
	v.Set("bedrock.model_id", *bedrockModelID)
	v.Set("bedrock.max_tokens", *maxTokens)
	v.Set("bedrock.temperature", *temperature)
	v.Set("bedrock.top_p", *topP)
	v.Set("bedrock.max_body_size", *maxBodySize)

	v.Set("gemini.api_key", firstNonEmpty(*geminiAPIKey, os.Getenv("GEMINI_API_KEY")))
	v.Set("gemini.model_name", *geminiModelName)
	v.Set("gemini.max_tokens", *maxTokens)
	v.Set("gemini.temperature", *temperature)
	v.Set("gemini.top_p", *topP)
	v.Set("gemini.max_body_size", *maxBodySize)

	v.Set("openai.api_key", firstNonEmpty(*openaiAPIKey, os.Getenv("OPENAI_API_KEY")))
	v.Set("openai.model_name", *openaiModelName)
	v.Set("openai.max_tokens", *maxTokens)
	v.Set("openai.temperature", *temperature)
	v.Set("openai.top_p", *topP)
	v.Set("openai.max_body_size", *maxBodySize)

	v.Set("store.type", *storeType)
	v.Set("store.sqlite_path", *sqlitePath)
	if *mysqlDSN != "" {
		v.Set("store.mysql_dsn", *mysqlDSN)
	}

	if *minConfidence > 0 {
		v.Set("extractor.min_confidence", *minConfidence)
	}
	if *safeDomains != "" {
		domains := strings.Split(*safeDomains, ",")
		for i := range domains {
			domains[i] = strings.TrimSpace(domains[i])
		}
		v.Set("extractor.safe_domains", domains)
	}

	return config.NewFromViper(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
