package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RiskLevel classifies an analyzed email's overall risk
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskSafe     RiskLevel = "safe"
)

var riskRank = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the risk level's position in the escalation order (safe lowest)
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// MaxRisk returns the worse of two risk levels
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Severity classifies an indicator's threat severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the severity's position in the ordering critical>high>medium>low
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the worse of two severities
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ConfidenceLabel is the coarse confidence reported by the AI classifier
type ConfidenceLabel string

const (
	ConfidenceVeryHigh ConfidenceLabel = "very_high"
	ConfidenceHigh     ConfidenceLabel = "high"
	ConfidenceMedium   ConfidenceLabel = "medium"
	ConfidenceLow      ConfidenceLabel = "low"
	ConfidenceVeryLow  ConfidenceLabel = "very_low"
	ConfidenceUnknown  ConfidenceLabel = "unknown"
)

// Score maps a confidence label to a fixed numeric score in [0,1].
// Boundaries are explicit rather than derived from label ordering.
func (c ConfidenceLabel) Score() float64 {
	switch c {
	case ConfidenceVeryHigh:
		return 0.95
	case ConfidenceHigh:
		return 0.80
	case ConfidenceMedium:
		return 0.60
	case ConfidenceLow:
		return 0.40
	case ConfidenceVeryLow:
		return 0.20
	default:
		return 0.50
	}
}

// Verdict is the classification result produced by the AI capability.
// This engine never produces verdicts, it only persists and correlates them.
type Verdict struct {
	IsPhishing      bool
	Confidence      ConfidenceLabel
	Indicators      []string
	Recommendations []string
	Provider        string
	Model           string
	InputTokens     int
	OutputTokens    int
	ProcessingTime  time.Duration
}

// RiskLevel derives the analysis risk level from the verdict
func (v *Verdict) RiskLevel() RiskLevel {
	if !v.IsPhishing {
		return RiskSafe
	}
	switch v.Confidence {
	case ConfidenceVeryHigh:
		return RiskCritical
	case ConfidenceHigh:
		return RiskHigh
	case ConfidenceMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// InboundEmail carries the fields supplied by the ingestion collaborator
type InboundEmail struct {
	MessageID string
	From      string
	To        []string
	Subject   string
	Body      string
	Links     []string
	ProfileID string
}

// FromDomain returns the lowercased domain of the sender address
func (e *InboundEmail) FromDomain() string {
	parts := strings.Split(e.From, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// EmailAnalysis is the durable per-email verdict record. Immutable once stored.
type EmailAnalysis struct {
	ID                       string
	MessageID                string
	ProfileID                string
	FromEmail                string
	FromDomain               string
	Subject                  string
	IsPhishing               bool
	ConfidenceScore          float64
	RiskLevel                RiskLevel
	Indicators               []string
	VIPImpersonationDetected bool
	AIProvider               string
	AIModel                  string
	ProcessingTimeMs         int64
	CreatedAt                time.Time
}

// IndicatorType enumerates supported IOC categories
type IndicatorType string

const (
	IndicatorDomain         IndicatorType = "domain"
	IndicatorIP             IndicatorType = "ip"
	IndicatorURL            IndicatorType = "url"
	IndicatorEmail          IndicatorType = "email"
	IndicatorHash           IndicatorType = "hash"
	IndicatorFileName       IndicatorType = "file_name"
	IndicatorSubjectPattern IndicatorType = "subject_pattern"
)

// ThreatIndicator is a durable IOC row, unique on (type, hash)
type ThreatIndicator struct {
	ID              string
	Type            IndicatorType
	Value           string
	Hash            string
	ConfidenceScore float64
	Severity        Severity
	TimesSeen       int
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	IsActive        bool
	ExpiresAt       *time.Time
	Metadata        map[string]string
}

// HashIndicator computes the uniqueness key for an indicator:
// SHA256 over the type concatenated with the lowercased value.
func HashIndicator(typ IndicatorType, value string) string {
	sum := sha256.Sum256([]byte(string(typ) + strings.ToLower(value)))
	return hex.EncodeToString(sum[:])
}

// Merge folds a re-sighting into an existing indicator row per the
// duplicate-insert rules: timesSeen+1, max confidence, max severity.
// Store backends implement the same rules in SQL; this is the in-memory
// reference used by the memory store.
func (i *ThreatIndicator) Merge(other *ThreatIndicator) {
	i.TimesSeen++
	if other.ConfidenceScore > i.ConfidenceScore {
		i.ConfidenceScore = other.ConfidenceScore
	}
	i.Severity = MaxSeverity(i.Severity, other.Severity)
	if other.LastSeenAt.After(i.LastSeenAt) {
		i.LastSeenAt = other.LastSeenAt
	}
}

// IndicatorCandidate is an extraction result not yet persisted
type IndicatorCandidate struct {
	Type       IndicatorType
	Value      string
	Confidence float64
	Severity   Severity
	Metadata   map[string]string
}

// PatternType enumerates cross-email campaign pattern categories
type PatternType string

const (
	PatternDomainCampaign PatternType = "domain_campaign"
	PatternSubject        PatternType = "subject_pattern"
	PatternImpersonation  PatternType = "impersonation"
	PatternURLCampaign    PatternType = "url_campaign"
)

// DetectedPattern is a recurring attack pattern, unique on (type, name)
type DetectedPattern struct {
	ID                string
	Type              PatternType
	Name              string
	Criteria          PatternCriteria
	MatchCount        int
	IsConfirmedThreat bool
	FirstDetectedAt   time.Time
	LastDetectedAt    time.Time
}

// PatternCriteria is the per-type structured payload, serialized as JSON
// only at the persistence boundary. One group of fields is set per type.
type PatternCriteria struct {
	Domain         string   `json:"domain,omitempty"`
	MatchedPhrases []string `json:"matched_phrases,omitempty"`
	IndicatorTerms []string `json:"indicator_terms,omitempty"`
	Hostnames      []string `json:"hostnames,omitempty"`
}

// Campaign is a cluster of detections sharing one signature
type Campaign struct {
	ID               string
	Signature        string
	SenderDomain     string
	SubjectPattern   string
	DetectionCount   int
	UniqueRecipients int
	RiskLevel        RiskLevel
	SampleIndicators []string
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	AlertSentAt      *time.Time
	IsActive         bool
}

// CampaignState is the post-transaction snapshot returned by
// TrackCampaignDetection. Threshold evaluation runs on this snapshot,
// outside the transaction.
type CampaignState struct {
	CampaignID       string
	Signature        string
	DetectionCount   int
	UniqueRecipients int
	RiskLevel        RiskLevel
	FirstSeenAt      time.Time
	AlertSentAt      *time.Time
}

// CampaignDetection is one qualifying sighting handed to the store
type CampaignDetection struct {
	SenderDomain      string
	NormalizedSubject string
	Recipient         string
	RiskLevel         RiskLevel
	Indicators        []string
}

// AIUsage is one row of the optional provider-usage ledger
type AIUsage struct {
	ID            string
	AnalysisID    *string
	Provider      string
	Model         string
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64
	CreatedAt     time.Time
}

// IntelStats summarizes store contents
type IntelStats struct {
	TotalAnalyses      int
	PhishingDetected   int
	ActiveIndicators   int
	DetectedPatterns   int
	ActiveCampaigns    int
	TotalEstimatedCost float64
}
