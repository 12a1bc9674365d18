package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-package IntelStore double with injectable counts and
// failures, so detector and service behavior can be exercised without a
// real backend.
type fakeStore struct {
	mu sync.Mutex

	analyses   []*EmailAnalysis
	byMessage  map[string]bool
	indicators map[string]*ThreatIndicator
	patterns   map[string]*DetectedPattern
	campaigns  map[string]*Campaign
	recipients map[string]map[string]bool
	usage      []*AIUsage

	domainCount        int
	subjectCount       int
	impersonationCount int
	urlCount           int

	countErr         error
	storeAnalysisErr error
	indicatorErr     error
	patternErr       error
	trackErr         error
	markErr          error
	detailsErr       error
	usageErr         error

	now func() time.Time
}

var _ IntelStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		byMessage:  make(map[string]bool),
		indicators: make(map[string]*ThreatIndicator),
		patterns:   make(map[string]*DetectedPattern),
		campaigns:  make(map[string]*Campaign),
		recipients: make(map[string]map[string]bool),
	}
}

func (f *fakeStore) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now().UTC()
}

func (f *fakeStore) StoreAnalysis(_ context.Context, a *EmailAnalysis) error {
	if f.storeAnalysisErr != nil {
		return f.storeAnalysisErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, a)
	if a.MessageID != "" {
		f.byMessage[a.MessageID] = true
	}
	return nil
}

func (f *fakeStore) GetAnalysis(_ context.Context, id string) (*EmailAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.analyses {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) SearchAnalyses(_ context.Context, _ SearchFilter) ([]*EmailAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*EmailAnalysis(nil), f.analyses...), nil
}

func (f *fakeStore) HasBeenAnalyzed(_ context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byMessage[messageID], nil
}

func (f *fakeStore) UpsertIndicator(_ context.Context, ind *ThreatIndicator) error {
	if f.indicatorErr != nil {
		return f.indicatorErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(ind.Type) + ":" + ind.Hash
	if existing, ok := f.indicators[key]; ok {
		existing.Merge(ind)
		return nil
	}
	cp := *ind
	f.indicators[key] = &cp
	return nil
}

func (f *fakeStore) LookupIndicators(_ context.Context, typ IndicatorType, values []string) ([]*ThreatIndicator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ThreatIndicator
	for _, v := range values {
		if ind, ok := f.indicators[string(typ)+":"+HashIndicator(typ, v)]; ok {
			out = append(out, ind)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveIndicators(_ context.Context, typ IndicatorType, _ int) ([]*ThreatIndicator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ThreatIndicator
	for _, ind := range f.indicators {
		if typ == "" || ind.Type == typ {
			out = append(out, ind)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPattern(_ context.Context, p *DetectedPattern) (bool, error) {
	if f.patternErr != nil {
		return false, f.patternErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(p.Type) + ":" + p.Name
	if existing, ok := f.patterns[key]; ok {
		existing.MatchCount = p.MatchCount
		existing.LastDetectedAt = p.LastDetectedAt
		return false, nil
	}
	cp := *p
	f.patterns[key] = &cp
	return true, nil
}

func (f *fakeStore) GetPatterns(_ context.Context, _ int) ([]*DetectedPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*DetectedPattern
	for _, p := range f.patterns {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetStats(_ context.Context) (*IntelStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &IntelStats{TotalAnalyses: len(f.analyses)}, nil
}

func (f *fakeStore) TrackCampaignDetection(_ context.Context, d CampaignDetection) (*CampaignState, error) {
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock()
	sig := CampaignSignature(d.SenderDomain, d.NormalizedSubject)
	c, ok := f.campaigns[sig]
	if !ok {
		c = &Campaign{
			ID:             "camp-" + sig,
			Signature:      sig,
			SenderDomain:   d.SenderDomain,
			SubjectPattern: d.NormalizedSubject,
			RiskLevel:      d.RiskLevel,
			FirstSeenAt:    now,
			IsActive:       true,
		}
		f.campaigns[sig] = c
		f.recipients[c.ID] = make(map[string]bool)
	}
	c.DetectionCount++
	c.LastSeenAt = now
	c.RiskLevel = MaxRisk(c.RiskLevel, d.RiskLevel)
	for _, ind := range d.Indicators {
		if len(c.SampleIndicators) >= 5 {
			break
		}
		dup := false
		for _, s := range c.SampleIndicators {
			if s == ind {
				dup = true
				break
			}
		}
		if !dup {
			c.SampleIndicators = append(c.SampleIndicators, ind)
		}
	}
	if r := strings.ToLower(strings.TrimSpace(d.Recipient)); r != "" {
		f.recipients[c.ID][r] = true
	}
	c.UniqueRecipients = len(f.recipients[c.ID])

	return &CampaignState{
		CampaignID:       c.ID,
		Signature:        c.Signature,
		DetectionCount:   c.DetectionCount,
		UniqueRecipients: c.UniqueRecipients,
		RiskLevel:        c.RiskLevel,
		FirstSeenAt:      c.FirstSeenAt,
		AlertSentAt:      c.AlertSentAt,
	}, nil
}

func (f *fakeStore) MarkCampaignAlerted(_ context.Context, campaignID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.ID == campaignID {
			now := f.clock()
			c.AlertSentAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) GetCampaignDetails(_ context.Context, campaignID string) (*Campaign, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.campaigns {
		if c.ID == campaignID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) RecordUsage(_ context.Context, u *AIUsage) error {
	if f.usageErr != nil {
		return f.usageErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, u)
	return nil
}

func (f *fakeStore) CountRecentPhishingByDomain(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.domainCount, f.countErr
}

func (f *fakeStore) CountRecentPhishingBySubjectPhrases(_ context.Context, _ []string, _ time.Time) (int, error) {
	return f.subjectCount, f.countErr
}

func (f *fakeStore) CountRecentImpersonation(_ context.Context, _ time.Time) (int, error) {
	return f.impersonationCount, f.countErr
}

func (f *fakeStore) CountRecentPhishingByIndicatorReference(_ context.Context, _ []string, _ time.Time) (int, error) {
	return f.urlCount, f.countErr
}

func (f *fakeStore) campaignBySignature(sig string) *Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[sig]
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*Alert
	err    error
}

func (n *fakeNotifier) Send(_ context.Context, alert *Alert) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return "msg-1", nil
}

func (n *fakeNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (d *fakeDedup) Seen(_ context.Context, messageID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[messageID], nil
}

func (d *fakeDedup) Mark(_ context.Context, messageID string) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[messageID] = true
	return nil
}

type stubSafeChecker struct {
	safe map[string]bool
}

func (s stubSafeChecker) IsSafe(domain string) bool {
	return s.safe[domain]
}
