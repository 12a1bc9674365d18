package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(fs *fakeStore, dedup DedupCache, notifier Notifier) *ThreatIntelService {
	logger := zap.NewNop()
	extractor := NewIOCExtractor(stubSafeChecker{}, 0)
	patterns := NewPatternDetector(fs, logger, 0, 0)
	alerts := NewCampaignAlertService(fs, notifier, logger, DefaultAlertPolicy(), "soc@corp.example")
	return NewThreatIntelService(fs, extractor, patterns, alerts, dedup, logger)
}

func testEmail() *InboundEmail {
	return &InboundEmail{
		MessageID: "<msg-1@mal.example>",
		From:      "billing@mal.example",
		To:        []string{"Alice@corp.example"},
		Subject:   "Invoice #4521 Due",
		Body:      "Pay now at https://mal.example/pay",
		Links:     []string{"https://mal.example/pay"},
		ProfileID: "tenant-1",
	}
}

func testVerdict() *Verdict {
	return &Verdict{
		IsPhishing:     true,
		Confidence:     ConfidenceHigh,
		Indicators:     []string{"urgent language", "lookalike domain"},
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		InputTokens:    1200,
		OutputTokens:   300,
		ProcessingTime: 850 * time.Millisecond,
	}
}

func TestProcessVerdictPersistsAnalysisAndIndicators(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, nil, &fakeNotifier{})

	res, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	require.NoError(t, err)
	require.NotNil(t, res.Analysis)
	assert.False(t, res.Duplicate)

	require.Len(t, fs.analyses, 1)
	stored := fs.analyses[0]
	assert.Equal(t, "billing@mal.example", stored.FromEmail)
	assert.Equal(t, "mal.example", stored.FromDomain)
	assert.Equal(t, RiskHigh, stored.RiskLevel)
	assert.Equal(t, 0.80, stored.ConfidenceScore)
	assert.InDelta(t, int64(850), stored.ProcessingTimeMs, 1)

	assert.NotEmpty(t, res.Indicators)
	assert.NotEmpty(t, fs.indicators)
	for _, ind := range fs.indicators {
		assert.Equal(t, 1, ind.TimesSeen)
		assert.Equal(t, HashIndicator(ind.Type, ind.Value), ind.Hash)
		assert.True(t, ind.IsActive)
	}
}

func TestProcessVerdictRecordsUsage(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, nil, &fakeNotifier{})

	_, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	require.NoError(t, err)

	require.Len(t, fs.usage, 1)
	u := fs.usage[0]
	assert.Equal(t, "openai", u.Provider)
	assert.Equal(t, 1200, u.InputTokens)
	assert.Greater(t, u.EstimatedCost, 0.0)
	require.NotNil(t, u.AnalysisID)
	assert.Equal(t, fs.analyses[0].ID, *u.AnalysisID)
}

func TestProcessVerdictUsageFailureNonFatal(t *testing.T) {
	fs := newFakeStore()
	fs.usageErr = errors.New("ledger down")
	svc := newTestService(fs, nil, &fakeNotifier{})

	_, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	assert.NoError(t, err)
}

func TestProcessVerdictSkipsUsageWithoutProvider(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, nil, &fakeNotifier{})

	v := testVerdict()
	v.Provider = ""
	_, err := svc.ProcessVerdict(context.Background(), testEmail(), v)
	require.NoError(t, err)
	assert.Empty(t, fs.usage)
}

func TestProcessVerdictDuplicateViaStore(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, nil, &fakeNotifier{})
	ctx := context.Background()

	first, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Analysis)
	assert.Len(t, fs.analyses, 1, "duplicate is not re-persisted")
}

func TestProcessVerdictDuplicateViaDedupCache(t *testing.T) {
	fs := newFakeStore()
	dedup := newFakeDedup()
	svc := newTestService(fs, dedup, &fakeNotifier{})
	ctx := context.Background()

	first, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
}

func TestProcessVerdictDedupCacheFailureFallsBack(t *testing.T) {
	fs := newFakeStore()
	dedup := newFakeDedup()
	dedup.err = errors.New("redis down")
	svc := newTestService(fs, dedup, &fakeNotifier{})
	ctx := context.Background()

	_, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)

	second, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "store check still suppresses duplicates")
}

func TestProcessVerdictEmptyMessageIDNeverDuplicate(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, nil, &fakeNotifier{})
	ctx := context.Background()

	email := testEmail()
	email.MessageID = ""
	for i := 0; i < 2; i++ {
		res, err := svc.ProcessVerdict(ctx, email, testVerdict())
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	}
	assert.Len(t, fs.analyses, 2)
}

func TestProcessVerdictBenignSkipsEnrichment(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 10
	svc := newTestService(fs, nil, &fakeNotifier{})

	v := &Verdict{IsPhishing: false, Confidence: ConfidenceLow, Provider: "openai"}
	res, err := svc.ProcessVerdict(context.Background(), testEmail(), v)
	require.NoError(t, err)

	assert.Empty(t, res.Patterns)
	assert.Empty(t, fs.patterns, "benign verdicts never run correlation")
	assert.Empty(t, fs.campaigns, "benign verdicts never track campaigns")
	assert.Equal(t, RiskSafe, fs.analyses[0].RiskLevel)
}

func TestProcessVerdictPhishingRunsEnrichment(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 3
	svc := newTestService(fs, nil, &fakeNotifier{})

	res, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	require.NoError(t, err)

	require.NotEmpty(t, res.Patterns)
	assert.NotNil(t, hitOfType(res.Patterns, PatternDomainCampaign))

	sig := CampaignSignature("mal.example", NormalizeSubject("Invoice #4521 Due"))
	c := fs.campaignBySignature(sig)
	require.NotNil(t, c, "high-risk phishing starts a campaign")
	assert.Equal(t, 1, c.UniqueRecipients)
}

func TestProcessVerdictFailedPersistStaysRetryable(t *testing.T) {
	fs := newFakeStore()
	fs.storeAnalysisErr = errors.New("disk full")
	dedup := newFakeDedup()
	svc := newTestService(fs, dedup, &fakeNotifier{})
	ctx := context.Background()

	_, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.Error(t, err)
	assert.Empty(t, dedup.seen, "a failed persist leaves the cache unstamped")

	fs.storeAnalysisErr = nil
	res, err := svc.ProcessVerdict(ctx, testEmail(), testVerdict())
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "the retry is not treated as a duplicate")
	assert.True(t, dedup.seen[testEmail().MessageID])
	require.Len(t, fs.analyses, 1)
}

func TestProcessVerdictStoreFailureIsFatal(t *testing.T) {
	fs := newFakeStore()
	fs.storeAnalysisErr = errors.New("disk full")
	svc := newTestService(fs, nil, &fakeNotifier{})

	_, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	assert.Error(t, err)
}

func TestProcessVerdictIndicatorFailureIsFatal(t *testing.T) {
	fs := newFakeStore()
	fs.indicatorErr = errors.New("disk full")
	svc := newTestService(fs, nil, &fakeNotifier{})

	_, err := svc.ProcessVerdict(context.Background(), testEmail(), testVerdict())
	assert.Error(t, err)
}

func TestBuildAnalysis(t *testing.T) {
	email := testEmail()
	v := testVerdict()

	a := BuildAnalysis(email, v)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, email.MessageID, a.MessageID)
	assert.Equal(t, "tenant-1", a.ProfileID)
	assert.Equal(t, "billing@mal.example", a.FromEmail)
	assert.Equal(t, "mal.example", a.FromDomain)
	assert.True(t, a.IsPhishing)
	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.False(t, a.VIPImpersonationDetected)
	assert.False(t, a.CreatedAt.IsZero())

	v.Indicators = append(v.Indicators, "display name spoofed")
	assert.True(t, BuildAnalysis(email, v).VIPImpersonationDetected)
}

func TestEstimateCost(t *testing.T) {
	v := testVerdict()
	cost := estimateCost(v)
	assert.InDelta(t, 1.2*0.0025+0.3*0.01, cost, 1e-9)

	v.Provider = "unknown-provider"
	assert.Zero(t, estimateCost(v))
}
