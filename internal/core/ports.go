package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches. Callers treat it
// as the empty/optional case, never as a store failure.
var ErrNotFound = errors.New("not found")

// SearchFilter narrows SearchAnalyses results. Zero values mean "no filter".
// Limit is clamped to [1,1000] and Offset to >=0 by every backend.
type SearchFilter struct {
	Since      *time.Time
	Until      *time.Time
	IsPhishing *bool
	RiskLevel  RiskLevel
	FromDomain string
	ProfileID  string
	Limit      int
	Offset     int
}

// IntelStore is the durable persistence port for the engine. Mutating
// operations that must survive concurrent writers (indicator and pattern
// upserts, campaign tracking) are atomic per call.
type IntelStore interface {
	// StoreAnalysis persists one immutable analysis record
	StoreAnalysis(ctx context.Context, a *EmailAnalysis) error

	// GetAnalysis retrieves an analysis by id, or ErrNotFound
	GetAnalysis(ctx context.Context, id string) (*EmailAnalysis, error)

	// SearchAnalyses lists analyses matching the filter, newest first
	SearchAnalyses(ctx context.Context, f SearchFilter) ([]*EmailAnalysis, error)

	// HasBeenAnalyzed reports whether a message id was already recorded
	HasBeenAnalyzed(ctx context.Context, messageID string) (bool, error)

	// UpsertIndicator inserts a new indicator or merges a re-sighting
	// (timesSeen+1, max confidence, max severity) in one atomic statement
	UpsertIndicator(ctx context.Context, ind *ThreatIndicator) error

	// LookupIndicators returns indicators of the given type whose value
	// matches any of the supplied values
	LookupIndicators(ctx context.Context, typ IndicatorType, values []string) ([]*ThreatIndicator, error)

	// GetActiveIndicators returns unexpired active indicators, most recently
	// seen first. An empty type matches all types; limit is clamped to 1000.
	GetActiveIndicators(ctx context.Context, typ IndicatorType, limit int) ([]*ThreatIndicator, error)

	// UpsertPattern inserts or refreshes a detected pattern keyed by
	// (type, name), incrementing matchCount on update. It reports whether
	// the call created the row, so callers learn of first sightings even
	// when the match count jumps past a threshold between scans.
	UpsertPattern(ctx context.Context, p *DetectedPattern) (created bool, err error)

	// GetPatterns lists detected patterns, most recently refreshed first
	GetPatterns(ctx context.Context, limit int) ([]*DetectedPattern, error)

	// GetStats summarizes store contents
	GetStats(ctx context.Context) (*IntelStats, error)

	// TrackCampaignDetection atomically records one campaign sighting and
	// returns the post-update state. The transaction carries no alerting
	// side effects; thresholds are evaluated by the caller on the snapshot.
	TrackCampaignDetection(ctx context.Context, d CampaignDetection) (*CampaignState, error)

	// MarkCampaignAlerted stamps alertSentAt on a campaign
	MarkCampaignAlerted(ctx context.Context, campaignID string) error

	// GetCampaignDetails retrieves full campaign state, or ErrNotFound
	GetCampaignDetails(ctx context.Context, campaignID string) (*Campaign, error)

	// RecordUsage appends one row to the AI usage ledger
	RecordUsage(ctx context.Context, u *AIUsage) error

	// CountRecentPhishingByDomain counts phishing analyses from a sender
	// domain since the given time
	CountRecentPhishingByDomain(ctx context.Context, domain string, since time.Time) (int, error)

	// CountRecentPhishingBySubjectPhrases counts phishing analyses whose
	// subject contains any of the phrases, since the given time
	CountRecentPhishingBySubjectPhrases(ctx context.Context, phrases []string, since time.Time) (int, error)

	// CountRecentImpersonation counts analyses flagged for VIP impersonation
	// or whose indicator text mentions impersonation, since the given time
	CountRecentImpersonation(ctx context.Context, since time.Time) (int, error)

	// CountRecentPhishingByIndicatorReference counts phishing analyses whose
	// stored indicator text references any of the given terms, since the
	// given time. Substring matching is intentional (see DESIGN.md).
	CountRecentPhishingByIndicatorReference(ctx context.Context, terms []string, since time.Time) (int, error)
}

// Classifier is the AI classification capability: one call per email,
// performed before this engine runs
type Classifier interface {
	Classify(ctx context.Context, email *InboundEmail) (*Verdict, error)
}

// Alert is a rendered flood notification ready for delivery
type Alert struct {
	Subject  string
	HTMLBody string
	TextBody string
	To       string
}

// Notifier delivers rendered alerts and returns a provider message id
type Notifier interface {
	Send(ctx context.Context, alert *Alert) (string, error)
}

// DedupCache is a short-TTL message-id set used to skip re-processing.
// It replaces the process-local seen-set of a single-process deployment.
type DedupCache interface {
	// Seen reports whether the message id was already recorded, without
	// recording it
	Seen(ctx context.Context, messageID string) (bool, error)

	// Mark records the message id. Called only after the analysis has
	// persisted, so a failed persist stays retryable.
	Mark(ctx context.Context, messageID string) error
}
