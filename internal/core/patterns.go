package core

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPatternLookback is how far back correlation queries reach
	DefaultPatternLookback = 168 * time.Hour
	// DefaultPatternThreshold is the match count that promotes related
	// sightings into a DetectedPattern
	DefaultPatternThreshold = 3
)

// subjectPhraseCategories are the fixed phishing phrase buckets matched
// against subject lines, most specific phrases first within each bucket
var subjectPhraseCategories = map[string][]string{
	"urgency": {
		"urgent", "immediate action", "action required",
		"expires today", "final notice", "last warning",
	},
	"credential_reset": {
		"reset your password", "password expires", "password has expired",
		"password will expire", "change your password",
	},
	"account_suspension": {
		"account suspended", "account has been suspended", "account locked",
		"account disabled", "unusual activity",
	},
	"invoice_payment": {
		"invoice", "payment due", "payment overdue", "outstanding payment",
		"billing statement", "wire transfer",
	},
	"shipping": {
		"package delivery", "delivery attempt", "shipment",
		"tracking number", "customs fee",
	},
	"security_alert": {
		"security alert", "suspicious sign-in", "suspicious login",
		"new sign-in", "security notice",
	},
	"account_verify": {
		"verify your account", "confirm your identity",
		"update your account", "validate your account", "verify your identity",
	},
}

var impersonationTerms = []string{"impersonat", "spoof", "vip", "executive", "display name"}

// PatternHit is one detector firing for the current email
type PatternHit struct {
	Pattern *DetectedPattern
	// IsNew is true exactly on the call that created the pattern row,
	// so callers notify once per pattern even when the windowed count
	// jumps past the threshold between scans
	IsNew bool
}

// PatternDetector correlates a freshly classified phishing email against
// recent history in the store. All queries are windowed time-range lookups,
// never unbounded scans.
type PatternDetector struct {
	store     IntelStore
	logger    *zap.Logger
	lookback  time.Duration
	threshold int
	now       func() time.Time
}

// NewPatternDetector creates a detector; non-positive lookback or threshold
// select the defaults (168h, 3)
func NewPatternDetector(store IntelStore, logger *zap.Logger, lookback time.Duration, threshold int) *PatternDetector {
	if lookback <= 0 {
		lookback = DefaultPatternLookback
	}
	if threshold <= 0 {
		threshold = DefaultPatternThreshold
	}
	return &PatternDetector{
		store:     store,
		logger:    logger,
		lookback:  lookback,
		threshold: threshold,
		now:       time.Now,
	}
}

// Scan runs all four detectors for one stored analysis and returns the
// patterns that fired. Store failures disable the affected detector for
// this call only; Scan itself never fails.
func (d *PatternDetector) Scan(ctx context.Context, analysis *EmailAnalysis, links []string) []PatternHit {
	since := d.now().Add(-d.lookback)
	var hits []PatternHit

	if hit := d.detectDomainCampaign(ctx, analysis, since); hit != nil {
		hits = append(hits, *hit)
	}
	if hit := d.detectSubjectPattern(ctx, analysis, since); hit != nil {
		hits = append(hits, *hit)
	}
	if hit := d.detectImpersonation(ctx, analysis, since); hit != nil {
		hits = append(hits, *hit)
	}
	if hit := d.detectURLCampaign(ctx, analysis, links, since); hit != nil {
		hits = append(hits, *hit)
	}
	return hits
}

func (d *PatternDetector) detectDomainCampaign(ctx context.Context, a *EmailAnalysis, since time.Time) *PatternHit {
	if a.FromDomain == "" {
		return nil
	}
	count, err := d.store.CountRecentPhishingByDomain(ctx, a.FromDomain, since)
	if err != nil {
		d.logger.Warn("Domain campaign detection skipped",
			zap.Error(err), zap.String("domain", a.FromDomain))
		return nil
	}
	if count < d.threshold {
		return nil
	}
	return d.record(ctx, &DetectedPattern{
		Type:       PatternDomainCampaign,
		Name:       "domain_campaign_" + a.FromDomain,
		Criteria:   PatternCriteria{Domain: a.FromDomain},
		MatchCount: count,
	}, count)
}

func (d *PatternDetector) detectSubjectPattern(ctx context.Context, a *EmailAnalysis, since time.Time) *PatternHit {
	matched := MatchSubjectPhrases(a.Subject)
	if len(matched) == 0 {
		return nil
	}
	if len(matched) > 3 {
		matched = matched[:3]
	}
	count, err := d.store.CountRecentPhishingBySubjectPhrases(ctx, matched, since)
	if err != nil {
		d.logger.Warn("Subject pattern detection skipped", zap.Error(err))
		return nil
	}
	if count < d.threshold {
		return nil
	}
	return d.record(ctx, &DetectedPattern{
		Type:       PatternSubject,
		Name:       "subject_pattern_" + phraseSlug(matched[0]),
		Criteria:   PatternCriteria{MatchedPhrases: matched},
		MatchCount: count,
	}, count)
}

func (d *PatternDetector) detectImpersonation(ctx context.Context, a *EmailAnalysis, since time.Time) *PatternHit {
	if !mentionsImpersonation(a.Indicators) && !a.VIPImpersonationDetected {
		return nil
	}
	count, err := d.store.CountRecentImpersonation(ctx, since)
	if err != nil {
		d.logger.Warn("Impersonation detection skipped", zap.Error(err))
		return nil
	}
	if count < d.threshold {
		return nil
	}
	return d.record(ctx, &DetectedPattern{
		Type:       PatternImpersonation,
		Name:       "impersonation_campaign",
		Criteria:   PatternCriteria{IndicatorTerms: impersonationTerms},
		MatchCount: count,
	}, count)
}

func (d *PatternDetector) detectURLCampaign(ctx context.Context, a *EmailAnalysis, links []string, since time.Time) *PatternHit {
	hosts := linkHostnames(links)
	if len(hosts) == 0 {
		return nil
	}
	count, err := d.store.CountRecentPhishingByIndicatorReference(ctx, hosts, since)
	if err != nil {
		d.logger.Warn("URL campaign detection skipped", zap.Error(err))
		return nil
	}
	if count < d.threshold {
		return nil
	}
	return d.record(ctx, &DetectedPattern{
		Type:       PatternURLCampaign,
		Name:       "url_campaign_" + hosts[0],
		Criteria:   PatternCriteria{Hostnames: hosts},
		MatchCount: count,
	}, count)
}

func (d *PatternDetector) record(ctx context.Context, p *DetectedPattern, count int) *PatternHit {
	now := d.now()
	p.FirstDetectedAt = now
	p.LastDetectedAt = now
	created, err := d.store.UpsertPattern(ctx, p)
	if err != nil {
		d.logger.Warn("Pattern upsert failed",
			zap.Error(err),
			zap.String("pattern", p.Name))
		return nil
	}
	d.logger.Info("Attack pattern detected",
		zap.String("type", string(p.Type)),
		zap.String("pattern", p.Name),
		zap.Int("matches", count))
	return &PatternHit{Pattern: p, IsNew: created}
}

// MatchSubjectPhrases returns the phishing phrases found in a subject,
// deterministically ordered by category then phrase position
func MatchSubjectPhrases(subject string) []string {
	lower := strings.ToLower(subject)

	categories := make([]string, 0, len(subjectPhraseCategories))
	for cat := range subjectPhraseCategories {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var matched []string
	for _, cat := range categories {
		for _, phrase := range subjectPhraseCategories[cat] {
			if strings.Contains(lower, phrase) {
				matched = append(matched, phrase)
			}
		}
	}
	return matched
}

func mentionsImpersonation(indicators []string) bool {
	for _, ind := range indicators {
		lower := strings.ToLower(ind)
		for _, term := range impersonationTerms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

func phraseSlug(phrase string) string {
	return strings.ReplaceAll(strings.ToLower(phrase), " ", "_")
}

func linkHostnames(links []string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	return hosts
}
