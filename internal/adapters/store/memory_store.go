package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikey/phish-intel/internal/core"
)

// MemoryStore is an in-memory IntelStore used for tests and ephemeral runs.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	analyses   map[string]*core.EmailAnalysis
	byMessage  map[string]string
	indicators map[string]*core.ThreatIndicator
	patterns   map[string]*core.DetectedPattern
	campaigns  map[string]*core.Campaign
	recipients map[string]map[string]struct{}
	usage      []*core.AIUsage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses:   make(map[string]*core.EmailAnalysis),
		byMessage:  make(map[string]string),
		indicators: make(map[string]*core.ThreatIndicator),
		patterns:   make(map[string]*core.DetectedPattern),
		campaigns:  make(map[string]*core.Campaign),
		recipients: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) StoreAnalysis(_ context.Context, a *core.EmailAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.analyses[a.ID] = &cp
	if a.MessageID != "" {
		s.byMessage[a.MessageID] = a.ID
	}
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id string) (*core.EmailAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) SearchAnalyses(_ context.Context, f core.SearchFilter) ([]*core.EmailAnalysis, error) {
	f = clampSearch(f)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*core.EmailAnalysis
	for _, a := range s.analyses {
		if f.Since != nil && a.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && a.CreatedAt.After(*f.Until) {
			continue
		}
		if f.IsPhishing != nil && a.IsPhishing != *f.IsPhishing {
			continue
		}
		if f.RiskLevel != "" && a.RiskLevel != f.RiskLevel {
			continue
		}
		if f.FromDomain != "" && a.FromDomain != strings.ToLower(f.FromDomain) {
			continue
		}
		if f.ProfileID != "" && a.ProfileID != f.ProfileID {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) HasBeenAnalyzed(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byMessage[messageID]
	return ok, nil
}

func (s *MemoryStore) UpsertIndicator(_ context.Context, ind *core.ThreatIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ind.Hash == "" {
		ind.Hash = core.HashIndicator(ind.Type, ind.Value)
	}
	key := string(ind.Type) + ":" + ind.Hash
	if existing, ok := s.indicators[key]; ok {
		existing.Merge(ind)
		return nil
	}
	if ind.ID == "" {
		ind.ID = uuid.New().String()
	}
	ind.TimesSeen = 1
	ind.IsActive = true
	cp := *ind
	s.indicators[key] = &cp
	return nil
}

func (s *MemoryStore) LookupIndicators(_ context.Context, typ core.IndicatorType, values []string) ([]*core.ThreatIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.ThreatIndicator
	for _, v := range values {
		key := string(typ) + ":" + core.HashIndicator(typ, v)
		if ind, ok := s.indicators[key]; ok {
			cp := *ind
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetActiveIndicators(_ context.Context, typ core.IndicatorType, limit int) ([]*core.ThreatIndicator, error) {
	limit = clampIndicatorLimit(limit)
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.ThreatIndicator
	for _, ind := range s.indicators {
		if !ind.IsActive {
			continue
		}
		if ind.ExpiresAt != nil && !ind.ExpiresAt.After(now) {
			continue
		}
		if typ != "" && ind.Type != typ {
			continue
		}
		cp := *ind
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertPattern(_ context.Context, p *core.DetectedPattern) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(p.Type) + ":" + p.Name
	if existing, ok := s.patterns[key]; ok {
		existing.MatchCount++
		existing.Criteria = p.Criteria
		existing.IsConfirmedThreat = existing.IsConfirmedThreat || p.IsConfirmedThreat
		existing.LastDetectedAt = p.LastDetectedAt
		return false, nil
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	s.patterns[key] = &cp
	return true, nil
}

func (s *MemoryStore) GetPatterns(_ context.Context, limit int) ([]*core.DetectedPattern, error) {
	limit = clampIndicatorLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.DetectedPattern
	for _, p := range s.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastDetectedAt.After(out[j].LastDetectedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetStats(_ context.Context) (*core.IntelStats, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &core.IntelStats{
		TotalAnalyses:    len(s.analyses),
		DetectedPatterns: len(s.patterns),
	}
	for _, a := range s.analyses {
		if a.IsPhishing {
			st.PhishingDetected++
		}
	}
	for _, ind := range s.indicators {
		if ind.IsActive && (ind.ExpiresAt == nil || ind.ExpiresAt.After(now)) {
			st.ActiveIndicators++
		}
	}
	for _, c := range s.campaigns {
		if c.IsActive {
			st.ActiveCampaigns++
		}
	}
	for _, u := range s.usage {
		st.TotalEstimatedCost += u.EstimatedCost
	}
	return st, nil
}

func (s *MemoryStore) TrackCampaignDetection(_ context.Context, d core.CampaignDetection) (*core.CampaignState, error) {
	signature := core.CampaignSignature(d.SenderDomain, d.NormalizedSubject)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[signature]
	if !ok {
		c = &core.Campaign{
			ID:             uuid.New().String(),
			Signature:      signature,
			SenderDomain:   d.SenderDomain,
			SubjectPattern: d.NormalizedSubject,
			RiskLevel:      d.RiskLevel,
			FirstSeenAt:    now,
			IsActive:       true,
		}
		s.campaigns[signature] = c
		s.recipients[c.ID] = make(map[string]struct{})
	}
	c.DetectionCount++
	c.RiskLevel = core.MaxRisk(c.RiskLevel, d.RiskLevel)
	c.SampleIndicators = mergeSamples(c.SampleIndicators, d.Indicators)
	c.LastSeenAt = now
	c.IsActive = true
	if d.Recipient != "" {
		s.recipients[c.ID][strings.ToLower(d.Recipient)] = struct{}{}
	}

	state := &core.CampaignState{
		CampaignID:       c.ID,
		Signature:        signature,
		DetectionCount:   c.DetectionCount,
		UniqueRecipients: len(s.recipients[c.ID]),
		RiskLevel:        c.RiskLevel,
		FirstSeenAt:      c.FirstSeenAt,
	}
	if c.AlertSentAt != nil {
		t := *c.AlertSentAt
		state.AlertSentAt = &t
	}
	return state, nil
}

func (s *MemoryStore) MarkCampaignAlerted(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.campaigns {
		if c.ID == campaignID {
			now := time.Now().UTC()
			c.AlertSentAt = &now
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *MemoryStore) GetCampaignDetails(_ context.Context, campaignID string) (*core.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.campaigns {
		if c.ID == campaignID {
			cp := *c
			cp.UniqueRecipients = len(s.recipients[c.ID])
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MemoryStore) RecordUsage(_ context.Context, u *core.AIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.usage = append(s.usage, &cp)
	return nil
}

func (s *MemoryStore) CountRecentPhishingByDomain(_ context.Context, domain string, since time.Time) (int, error) {
	domain = strings.ToLower(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.analyses {
		if a.IsPhishing && a.FromDomain == domain && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountRecentPhishingBySubjectPhrases(_ context.Context, phrases []string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.analyses {
		if !a.IsPhishing || a.CreatedAt.Before(since) {
			continue
		}
		subject := strings.ToLower(a.Subject)
		for _, p := range phrases {
			if strings.Contains(subject, strings.ToLower(p)) {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) CountRecentImpersonation(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.analyses {
		if a.CreatedAt.Before(since) {
			continue
		}
		if a.VIPImpersonationDetected {
			n++
			continue
		}
		for _, ind := range a.Indicators {
			lower := strings.ToLower(ind)
			if strings.Contains(lower, "impersonat") || strings.Contains(lower, "spoof") {
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) CountRecentPhishingByIndicatorReference(_ context.Context, terms []string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.analyses {
		if !a.IsPhishing || a.CreatedAt.Before(since) {
			continue
		}
	match:
		for _, ind := range a.Indicators {
			lower := strings.ToLower(ind)
			for _, t := range terms {
				if strings.Contains(lower, strings.ToLower(t)) {
					n++
					break match
				}
			}
		}
	}
	return n, nil
}
