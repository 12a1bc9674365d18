package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessResult summarizes what one verdict produced
type ProcessResult struct {
	Analysis   *EmailAnalysis
	Indicators []IndicatorCandidate
	Patterns   []PatternHit
	Duplicate  bool
}

// ThreatIntelService persists verdicts, extracts indicators, and drives
// the correlation and alerting enrichment for one email at a time. It is
// safe for concurrent use; all cross-invocation state lives in the store.
type ThreatIntelService struct {
	store     IntelStore
	extractor *IOCExtractor
	patterns  *PatternDetector
	alerts    *CampaignAlertService
	dedup     DedupCache
	logger    *zap.Logger
}

// NewThreatIntelService wires the engine. dedup may be nil, in which case
// HasBeenAnalyzed is used for duplicate suppression.
func NewThreatIntelService(
	store IntelStore,
	extractor *IOCExtractor,
	patterns *PatternDetector,
	alerts *CampaignAlertService,
	dedup DedupCache,
	logger *zap.Logger,
) *ThreatIntelService {
	return &ThreatIntelService{
		store:     store,
		extractor: extractor,
		patterns:  patterns,
		alerts:    alerts,
		dedup:     dedup,
		logger:    logger,
	}
}

// ProcessVerdict records one classified email: persists the analysis and
// its indicators, then runs best-effort pattern and campaign enrichment.
// Only the primary persistence path can fail the call.
func (s *ThreatIntelService) ProcessVerdict(ctx context.Context, email *InboundEmail, verdict *Verdict) (*ProcessResult, error) {
	dup, err := s.alreadyProcessed(ctx, email.MessageID)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		s.logger.Debug("Skipping already-analyzed message",
			zap.String("message_id", email.MessageID))
		return &ProcessResult{Duplicate: true}, nil
	}

	analysis := BuildAnalysis(email, verdict)
	if err := s.store.StoreAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	s.markProcessed(ctx, email.MessageID)

	candidates := s.extractor.Extract(email, verdict)
	now := time.Now().UTC()
	for _, c := range candidates {
		ind := &ThreatIndicator{
			Type:            c.Type,
			Value:           c.Value,
			Hash:            HashIndicator(c.Type, c.Value),
			ConfidenceScore: c.Confidence,
			Severity:        c.Severity,
			TimesSeen:       1,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			IsActive:        true,
			Metadata:        c.Metadata,
		}
		if err := s.store.UpsertIndicator(ctx, ind); err != nil {
			return nil, fmt.Errorf("upsert indicator %s/%s: %w", c.Type, c.Value, err)
		}
	}

	s.recordUsage(ctx, analysis, verdict)

	result := &ProcessResult{Analysis: analysis, Indicators: candidates}
	if !verdict.IsPhishing {
		return result, nil
	}

	result.Patterns = s.patterns.Scan(ctx, analysis, email.Links)

	recipient := ""
	if len(email.To) > 0 {
		recipient = strings.ToLower(email.To[0])
	}
	s.alerts.HandleDetection(ctx, analysis.FromDomain, email.Subject, recipient,
		analysis.RiskLevel, analysis.Indicators)

	return result, nil
}

func (s *ThreatIntelService) alreadyProcessed(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, messageID)
		if err == nil {
			return seen, nil
		}
		// A degraded cache falls through to the store check
		s.logger.Warn("Dedup cache unavailable, falling back to store", zap.Error(err))
	}
	return s.store.HasBeenAnalyzed(ctx, messageID)
}

// markProcessed stamps the dedup cache once the analysis is durable. A
// failed stamp only costs one extra store lookup on a repeat, so it is
// logged and ignored.
func (s *ThreatIntelService) markProcessed(ctx context.Context, messageID string) {
	if s.dedup == nil || messageID == "" {
		return
	}
	if err := s.dedup.Mark(ctx, messageID); err != nil {
		s.logger.Warn("Failed to mark message in dedup cache", zap.Error(err))
	}
}

func (s *ThreatIntelService) recordUsage(ctx context.Context, a *EmailAnalysis, v *Verdict) {
	if v.Provider == "" {
		return
	}
	usage := &AIUsage{
		AnalysisID:    &a.ID,
		Provider:      v.Provider,
		Model:         v.Model,
		InputTokens:   v.InputTokens,
		OutputTokens:  v.OutputTokens,
		EstimatedCost: estimateCost(v),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.RecordUsage(ctx, usage); err != nil {
		// The usage ledger is optional; persistence failures don't block
		s.logger.Warn("Failed to record AI usage", zap.Error(err))
	}
}

// BuildAnalysis assembles the immutable analysis record for one verdict
func BuildAnalysis(email *InboundEmail, verdict *Verdict) *EmailAnalysis {
	return &EmailAnalysis{
		ID:                       uuid.New().String(),
		MessageID:                email.MessageID,
		ProfileID:                email.ProfileID,
		FromEmail:                strings.ToLower(strings.TrimSpace(email.From)),
		FromDomain:               email.FromDomain(),
		Subject:                  email.Subject,
		IsPhishing:               verdict.IsPhishing,
		ConfidenceScore:          verdict.Confidence.Score(),
		RiskLevel:                verdict.RiskLevel(),
		Indicators:               verdict.Indicators,
		VIPImpersonationDetected: mentionsImpersonation(verdict.Indicators),
		AIProvider:               verdict.Provider,
		AIModel:                  verdict.Model,
		ProcessingTimeMs:         verdict.ProcessingTime.Milliseconds(),
		CreatedAt:                time.Now().UTC(),
	}
}

// rough per-1k-token prices used for the optional cost ledger
var providerCostPer1K = map[string]struct {
	input  float64
	output float64
}{
	"openai":  {0.0025, 0.01},
	"bedrock": {0.003, 0.015},
	"gemini":  {0.00125, 0.005},
}

func estimateCost(v *Verdict) float64 {
	rates, ok := providerCostPer1K[strings.ToLower(v.Provider)]
	if !ok {
		return 0
	}
	return float64(v.InputTokens)/1000*rates.input + float64(v.OutputTokens)/1000*rates.output
}
