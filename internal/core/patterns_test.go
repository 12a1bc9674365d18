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

func newTestDetector(fs *fakeStore, threshold int) *PatternDetector {
	return NewPatternDetector(fs, zap.NewNop(), 0, threshold)
}

func phishingAnalysis(domain, subject string) *EmailAnalysis {
	return &EmailAnalysis{
		ID:         "a-1",
		FromDomain: domain,
		Subject:    subject,
		IsPhishing: true,
		RiskLevel:  RiskHigh,
		CreatedAt:  time.Now().UTC(),
	}
}

func hitOfType(hits []PatternHit, typ PatternType) *PatternHit {
	for i := range hits {
		if hits[i].Pattern.Type == typ {
			return &hits[i]
		}
	}
	return nil
}

func TestDetectorDefaults(t *testing.T) {
	d := NewPatternDetector(newFakeStore(), zap.NewNop(), 0, 0)
	assert.Equal(t, DefaultPatternLookback, d.lookback)
	assert.Equal(t, DefaultPatternThreshold, d.threshold)
}

func TestDomainCampaignDetection(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 3
	d := newTestDetector(fs, 3)

	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	hit := hitOfType(hits, PatternDomainCampaign)
	require.NotNil(t, hit)
	assert.Equal(t, "domain_campaign_mal.example", hit.Pattern.Name)
	assert.Equal(t, "mal.example", hit.Pattern.Criteria.Domain)
	assert.Equal(t, 3, hit.Pattern.MatchCount)
	assert.True(t, hit.IsNew, "the creating scan reports the pattern as new")

	again := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	repeat := hitOfType(again, PatternDomainCampaign)
	require.NotNil(t, repeat)
	assert.False(t, repeat.IsNew, "refreshing an existing pattern is not new")
}

func TestDomainCampaignBelowThreshold(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 2
	d := newTestDetector(fs, 3)

	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	assert.Nil(t, hitOfType(hits, PatternDomainCampaign))
	assert.Empty(t, fs.patterns, "no upsert below the threshold")
}

func TestDomainCampaignNewWhenCountJumpsPastThreshold(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 5
	d := newTestDetector(fs, 3)

	// Two more sightings landed between scans; the first scan to see the
	// pattern still reports it as new
	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	hit := hitOfType(hits, PatternDomainCampaign)
	require.NotNil(t, hit)
	assert.True(t, hit.IsNew)

	again := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	repeat := hitOfType(again, PatternDomainCampaign)
	require.NotNil(t, repeat)
	assert.False(t, repeat.IsNew)
}

func TestSubjectPatternDetection(t *testing.T) {
	fs := newFakeStore()
	fs.subjectCount = 4
	d := newTestDetector(fs, 3)

	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "Invoice payment due now"), nil)
	hit := hitOfType(hits, PatternSubject)
	require.NotNil(t, hit)
	assert.Equal(t, "subject_pattern_invoice", hit.Pattern.Name)
	assert.Contains(t, hit.Pattern.Criteria.MatchedPhrases, "invoice")
	assert.Contains(t, hit.Pattern.Criteria.MatchedPhrases, "payment due")
}

func TestSubjectPatternNoPhrases(t *testing.T) {
	fs := newFakeStore()
	fs.subjectCount = 10
	d := newTestDetector(fs, 3)

	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "quarterly planning notes"), nil)
	assert.Nil(t, hitOfType(hits, PatternSubject))
}

func TestImpersonationDetection(t *testing.T) {
	fs := newFakeStore()
	fs.impersonationCount = 3
	d := newTestDetector(fs, 3)

	a := phishingAnalysis("mal.example", "hello")
	a.Indicators = []string{"Display name spoofing of the CFO"}

	hits := d.Scan(context.Background(), a, nil)
	hit := hitOfType(hits, PatternImpersonation)
	require.NotNil(t, hit)
	assert.Equal(t, "impersonation_campaign", hit.Pattern.Name)
}

func TestImpersonationViaAnalysisFlag(t *testing.T) {
	fs := newFakeStore()
	fs.impersonationCount = 3
	d := newTestDetector(fs, 3)

	a := phishingAnalysis("mal.example", "hello")
	a.VIPImpersonationDetected = true

	hits := d.Scan(context.Background(), a, nil)
	assert.NotNil(t, hitOfType(hits, PatternImpersonation))
}

func TestURLCampaignDetection(t *testing.T) {
	fs := newFakeStore()
	fs.urlCount = 3
	d := newTestDetector(fs, 3)

	links := []string{"https://evil.example/a", "https://evil.example/b", "https://other.test/x"}
	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), links)
	hit := hitOfType(hits, PatternURLCampaign)
	require.NotNil(t, hit)
	assert.Equal(t, "url_campaign_evil.example", hit.Pattern.Name)
	assert.Equal(t, []string{"evil.example", "other.test"}, hit.Pattern.Criteria.Hostnames)
}

func TestScanSurvivesStoreFailures(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 10
	fs.subjectCount = 10
	fs.countErr = errors.New("db down")
	d := newTestDetector(fs, 3)

	a := phishingAnalysis("mal.example", "Invoice due")
	a.Indicators = []string{"spoofed sender"}
	hits := d.Scan(context.Background(), a, []string{"https://evil.example/x"})
	assert.Empty(t, hits, "count failures disable detectors without failing the scan")
}

func TestScanSurvivesUpsertFailure(t *testing.T) {
	fs := newFakeStore()
	fs.domainCount = 5
	fs.patternErr = errors.New("db down")
	d := newTestDetector(fs, 3)

	hits := d.Scan(context.Background(), phishingAnalysis("mal.example", "hello"), nil)
	assert.Empty(t, hits)
}

func TestMatchSubjectPhrasesDeterministic(t *testing.T) {
	subject := "URGENT: Invoice overdue, verify your account"
	first := MatchSubjectPhrases(subject)
	second := MatchSubjectPhrases(subject)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "urgent")
	assert.Contains(t, first, "invoice")
	assert.Contains(t, first, "verify your account")
}

func TestMatchSubjectPhrasesCaseInsensitive(t *testing.T) {
	assert.NotEmpty(t, MatchSubjectPhrases("ACCOUNT SUSPENDED"))
	assert.Empty(t, MatchSubjectPhrases("lunch on friday?"))
}

func TestPhraseSlug(t *testing.T) {
	assert.Equal(t, "payment_due", phraseSlug("Payment Due"))
	assert.Equal(t, "invoice", phraseSlug("invoice"))
}

func TestLinkHostnames(t *testing.T) {
	hosts := linkHostnames([]string{
		"https://Evil.Example/a",
		"https://evil.example/b",
		"not a url at all",
		"https://other.test/",
	})
	assert.Equal(t, []string{"evil.example", "other.test"}, hosts)
}

func TestMentionsImpersonation(t *testing.T) {
	assert.True(t, mentionsImpersonation([]string{"Sender is SPOOFING the CEO"}))
	assert.True(t, mentionsImpersonation([]string{"possible executive impersonation"}))
	assert.False(t, mentionsImpersonation([]string{"urgent language", "shortened links"}))
	assert.False(t, mentionsImpersonation(nil))
}
