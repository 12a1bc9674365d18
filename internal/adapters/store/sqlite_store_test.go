package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/core"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "intel.db"), DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreAnalysisRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &core.EmailAnalysis{
		MessageID:                "<msg-1@evil.example>",
		ProfileID:                "tenant-a",
		FromEmail:                "billing@evil.example",
		FromDomain:               "evil.example",
		Subject:                  "Invoice #4521 Due",
		IsPhishing:               true,
		ConfidenceScore:          0.8,
		RiskLevel:                core.RiskHigh,
		Indicators:               []string{"lookalike domain", "urgent language"},
		VIPImpersonationDetected: true,
		AIProvider:               "openai",
		AIModel:                  "gpt-4o-mini",
		ProcessingTimeMs:         412,
	}
	require.NoError(t, s.StoreAnalysis(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := s.GetAnalysis(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.MessageID, got.MessageID)
	assert.Equal(t, a.Indicators, got.Indicators)
	assert.Equal(t, core.RiskHigh, got.RiskLevel)
	assert.True(t, got.VIPImpersonationDetected)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	analyzed, err := s.HasBeenAnalyzed(ctx, a.MessageID)
	require.NoError(t, err)
	assert.True(t, analyzed)

	analyzed, err = s.HasBeenAnalyzed(ctx, "<other@x>")
	require.NoError(t, err)
	assert.False(t, analyzed)
}

func TestSQLiteStoreSearchOrderingAndFilters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	// distinct seconds so lexicographic timestamp ordering is unambiguous
	for i := 0; i < 3; i++ {
		require.NoError(t, s.StoreAnalysis(ctx, &core.EmailAnalysis{
			FromDomain: "evil.example",
			IsPhishing: true,
			RiskLevel:  core.RiskHigh,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.StoreAnalysis(ctx, &core.EmailAnalysis{
		FromDomain: "benign.example",
		RiskLevel:  core.RiskSafe,
		CreatedAt:  base.Add(10 * time.Second),
	}))

	results, err := s.SearchAnalyses(ctx, core.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i := 1; i < len(results); i++ {
		assert.False(t, results[i].CreatedAt.After(results[i-1].CreatedAt))
	}

	phishing := true
	results, err = s.SearchAnalyses(ctx, core.SearchFilter{IsPhishing: &phishing, FromDomain: "evil.example"})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	since := base.Add(5 * time.Second)
	results, err = s.SearchAnalyses(ctx, core.SearchFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = s.SearchAnalyses(ctx, core.SearchFilter{Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSQLiteStoreIndicatorUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertIndicator(ctx, &core.ThreatIndicator{
		Type:            core.IndicatorURL,
		Value:           "https://Evil.Example/login",
		ConfidenceScore: 0.6,
		Severity:        core.SeverityMedium,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		Metadata:        map[string]string{"source": "body"},
	}))
	require.NoError(t, s.UpsertIndicator(ctx, &core.ThreatIndicator{
		Type:            core.IndicatorURL,
		Value:           "https://evil.example/login",
		ConfidenceScore: 0.9,
		Severity:        core.SeverityLow,
		FirstSeenAt:     now.Add(time.Second),
		LastSeenAt:      now.Add(time.Second),
	}))

	found, err := s.LookupIndicators(ctx, core.IndicatorURL, []string{"https://EVIL.example/login"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 2, found[0].TimesSeen)
	assert.Equal(t, 0.9, found[0].ConfidenceScore)
	assert.Equal(t, core.SeverityMedium, found[0].Severity)
	assert.True(t, found[0].FirstSeenAt.Equal(now))
	assert.Equal(t, "body", found[0].Metadata["source"])

	active, err := s.GetActiveIndicators(ctx, core.IndicatorURL, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// expired indicators drop out of the active set
	expired := now.Add(-time.Hour)
	require.NoError(t, s.UpsertIndicator(ctx, &core.ThreatIndicator{
		Type:        core.IndicatorDomain,
		Value:       "old.example",
		Severity:    core.SeverityLow,
		FirstSeenAt: now,
		LastSeenAt:  now,
		ExpiresAt:   &expired,
	}))
	active, err = s.GetActiveIndicators(ctx, core.IndicatorDomain, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSQLiteStorePatternUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := &core.DetectedPattern{
		Type:            core.PatternDomainCampaign,
		Name:            "campaign_from_evil.example",
		Criteria:        core.PatternCriteria{Domain: "evil.example"},
		MatchCount:      3,
		FirstDetectedAt: now,
		LastDetectedAt:  now,
	}
	created, err := s.UpsertPattern(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := p.ID

	p.LastDetectedAt = now.Add(time.Second)
	created, err = s.UpsertPattern(ctx, p)
	require.NoError(t, err)
	assert.False(t, created, "refresh of an existing pattern is not a creation")
	assert.Equal(t, firstID, p.ID, "the stored row id survives refreshes")

	patterns, err := s.GetPatterns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 4, patterns[0].MatchCount)
	assert.Equal(t, "evil.example", patterns[0].Criteria.Domain)
}

func TestSQLiteStoreCampaignTracking(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	d := core.CampaignDetection{
		SenderDomain:      "evil.example",
		NormalizedSubject: "invoice n due",
		Recipient:         "Alice@corp.example",
		RiskLevel:         core.RiskHigh,
		Indicators:        []string{"lookalike domain"},
	}

	st, err := s.TrackCampaignDetection(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DetectionCount)
	assert.Equal(t, 1, st.UniqueRecipients)
	assert.Equal(t, core.CampaignSignature("evil.example", "invoice n due"), st.Signature)

	d.Recipient = "ALICE@corp.example"
	st, err = s.TrackCampaignDetection(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 2, st.DetectionCount)
	assert.Equal(t, 1, st.UniqueRecipients)

	d.Recipient = "bob@corp.example"
	d.RiskLevel = core.RiskCritical
	d.Indicators = []string{"credential harvest page"}
	st, err = s.TrackCampaignDetection(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, st.DetectionCount)
	assert.Equal(t, 2, st.UniqueRecipients)
	assert.Equal(t, core.RiskCritical, st.RiskLevel)
	assert.Nil(t, st.AlertSentAt)

	require.NoError(t, s.MarkCampaignAlerted(ctx, st.CampaignID))
	c, err := s.GetCampaignDetails(ctx, st.CampaignID)
	require.NoError(t, err)
	require.NotNil(t, c.AlertSentAt)
	assert.ElementsMatch(t, []string{"lookalike domain", "credential harvest page"}, c.SampleIndicators)
	assert.Equal(t, 2, c.UniqueRecipients)

	assert.ErrorIs(t, s.MarkCampaignAlerted(ctx, "missing"), core.ErrNotFound)
	_, err = s.GetCampaignDetails(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStoreUsageAndStats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAnalysis(ctx, &core.EmailAnalysis{
		FromDomain: "evil.example",
		Subject:    "Verify your account immediately",
		IsPhishing: true,
		RiskLevel:  core.RiskHigh,
		Indicators: []string{"executive impersonation"},
	}))
	require.NoError(t, s.RecordUsage(ctx, &core.AIUsage{
		Provider:      "bedrock",
		Model:         "anthropic.claude-3-haiku",
		InputTokens:   900,
		OutputTokens:  120,
		EstimatedCost: 0.00037,
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAnalyses)
	assert.Equal(t, 1, stats.PhishingDetected)
	assert.InDelta(t, 0.00037, stats.TotalEstimatedCost, 1e-9)

	since := time.Now().UTC().Add(-time.Hour)
	n, err := s.CountRecentPhishingByDomain(ctx, "evil.example", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountRecentPhishingBySubjectPhrases(ctx, []string{"verify your account"}, since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountRecentImpersonation(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountRecentPhishingByIndicatorReference(ctx, []string{"nothing"}, since)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStoreSearchClamps(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < 60; i++ {
		require.NoError(t, s.StoreAnalysis(ctx, &core.EmailAnalysis{
			ID:         fmt.Sprintf("a-%04d", i),
			FromDomain: "evil.example",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	found, err := s.SearchAnalyses(ctx, core.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, found, 50, "zero limit selects the default page size")
	assert.Equal(t, "a-0059", found[0].ID)

	found, err = s.SearchAnalyses(ctx, core.SearchFilter{Limit: -1, Offset: -10})
	require.NoError(t, err)
	assert.Len(t, found, 50, "negative paging values are clamped, not rejected")
	assert.Equal(t, "a-0059", found[0].ID, "negative offset behaves as zero")

	found, err = s.SearchAnalyses(ctx, core.SearchFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, found, 60, "limits above the cap clamp to 1000, returning every row here")
}
