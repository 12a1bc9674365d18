package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/export"
	"github.com/mikey/phish-intel/internal/core"
)

type analysisResponse struct {
	ID                       string    `json:"id"`
	MessageID                string    `json:"message_id,omitempty"`
	ProfileID                string    `json:"profile_id,omitempty"`
	FromEmail                string    `json:"from_email"`
	FromDomain               string    `json:"from_domain"`
	Subject                  string    `json:"subject"`
	IsPhishing               bool      `json:"is_phishing"`
	ConfidenceScore          float64   `json:"confidence_score"`
	RiskLevel                string    `json:"risk_level"`
	Indicators               []string  `json:"indicators,omitempty"`
	VIPImpersonationDetected bool      `json:"vip_impersonation_detected"`
	AIProvider               string    `json:"ai_provider,omitempty"`
	AIModel                  string    `json:"ai_model,omitempty"`
	ProcessingTimeMs         int64     `json:"processing_time_ms"`
	CreatedAt                time.Time `json:"created_at"`
}

type indicatorResponse struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Value           string            `json:"value"`
	ConfidenceScore float64           `json:"confidence_score"`
	Severity        string            `json:"severity"`
	TimesSeen       int               `json:"times_seen"`
	FirstSeenAt     time.Time         `json:"first_seen_at"`
	LastSeenAt      time.Time         `json:"last_seen_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type patternResponse struct {
	ID                string               `json:"id"`
	Type              string               `json:"type"`
	Name              string               `json:"name"`
	Criteria          core.PatternCriteria `json:"criteria"`
	MatchCount        int                  `json:"match_count"`
	IsConfirmedThreat bool                 `json:"is_confirmed_threat"`
	FirstDetectedAt   time.Time            `json:"first_detected_at"`
	LastDetectedAt    time.Time            `json:"last_detected_at"`
}

type campaignResponse struct {
	ID               string     `json:"id"`
	Signature        string     `json:"signature"`
	SenderDomain     string     `json:"sender_domain"`
	SubjectPattern   string     `json:"subject_pattern"`
	DetectionCount   int        `json:"detection_count"`
	UniqueRecipients int        `json:"unique_recipients"`
	RiskLevel        string     `json:"risk_level"`
	SampleIndicators []string   `json:"sample_indicators,omitempty"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	AlertSentAt      *time.Time `json:"alert_sent_at,omitempty"`
	IsActive         bool       `json:"is_active"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearchAnalyses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSearchFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	analyses, err := s.store.SearchAnalyses(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to search analyses", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]analysisResponse, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, toAnalysisResponse(a))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"analyses": out, "count": len(out)})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		respondError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get analysis", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, toAnalysisResponse(a))
}

func (s *Server) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := s.activeIndicators(r)
	if err != nil {
		s.logger.Error("Failed to list indicators", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := make([]indicatorResponse, 0, len(indicators))
	for _, ind := range indicators {
		out = append(out, indicatorResponse{
			ID:              ind.ID,
			Type:            string(ind.Type),
			Value:           ind.Value,
			ConfidenceScore: ind.ConfidenceScore,
			Severity:        string(ind.Severity),
			TimesSeen:       ind.TimesSeen,
			FirstSeenAt:     ind.FirstSeenAt,
			LastSeenAt:      ind.LastSeenAt,
			Metadata:        ind.Metadata,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"indicators": out, "count": len(out)})
}

func (s *Server) handleExportIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := s.activeIndicators(r)
	if err != nil {
		s.logger.Error("Failed to export indicators", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="indicators.csv"`)
		if err := export.WriteCSV(w, indicators); err != nil {
			s.logger.Error("CSV export failed", zap.Error(err))
		}
	case "stix", "":
		w.Header().Set("Content-Type", "application/json")
		if err := export.WriteSTIX(w, indicators); err != nil {
			s.logger.Error("STIX export failed", zap.Error(err))
		}
	default:
		respondError(w, http.StatusBadRequest, "unsupported export format")
	}
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	patterns, err := s.store.GetPatterns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list patterns", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternResponse{
			ID:                p.ID,
			Type:              string(p.Type),
			Name:              p.Name,
			Criteria:          p.Criteria,
			MatchCount:        p.MatchCount,
			IsConfirmedThreat: p.IsConfirmedThreat,
			FirstDetectedAt:   p.FirstDetectedAt,
			LastDetectedAt:    p.LastDetectedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"patterns": out, "count": len(out)})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCampaignDetails(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get campaign", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, campaignResponse{
		ID:               c.ID,
		Signature:        c.Signature,
		SenderDomain:     c.SenderDomain,
		SubjectPattern:   c.SubjectPattern,
		DetectionCount:   c.DetectionCount,
		UniqueRecipients: c.UniqueRecipients,
		RiskLevel:        string(c.RiskLevel),
		SampleIndicators: c.SampleIndicators,
		FirstSeenAt:      c.FirstSeenAt,
		LastSeenAt:       c.LastSeenAt,
		AlertSentAt:      c.AlertSentAt,
		IsActive:         c.IsActive,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_analyses":       stats.TotalAnalyses,
		"phishing_detected":    stats.PhishingDetected,
		"active_indicators":    stats.ActiveIndicators,
		"detected_patterns":    stats.DetectedPatterns,
		"active_campaigns":     stats.ActiveCampaigns,
		"total_estimated_cost": stats.TotalEstimatedCost,
	})
}

func (s *Server) activeIndicators(r *http.Request) ([]*core.ThreatIndicator, error) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return s.store.GetActiveIndicators(r.Context(), core.IndicatorType(q.Get("type")), limit)
}

func parseSearchFilter(r *http.Request) (core.SearchFilter, error) {
	q := r.URL.Query()
	var f core.SearchFilter

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid since timestamp")
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid until timestamp")
		}
		f.Until = &t
	}
	if v := q.Get("is_phishing"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("invalid is_phishing flag")
		}
		f.IsPhishing = &b
	}
	f.RiskLevel = core.RiskLevel(q.Get("risk_level"))
	f.FromDomain = q.Get("from_domain")
	f.ProfileID = q.Get("profile_id")
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func toAnalysisResponse(a *core.EmailAnalysis) analysisResponse {
	return analysisResponse{
		ID:                       a.ID,
		MessageID:                a.MessageID,
		ProfileID:                a.ProfileID,
		FromEmail:                a.FromEmail,
		FromDomain:               a.FromDomain,
		Subject:                  a.Subject,
		IsPhishing:               a.IsPhishing,
		ConfidenceScore:          a.ConfidenceScore,
		RiskLevel:                string(a.RiskLevel),
		Indicators:               a.Indicators,
		VIPImpersonationDetected: a.VIPImpersonationDetected,
		AIProvider:               a.AIProvider,
		AIModel:                  a.AIModel,
		ProcessingTimeMs:         a.ProcessingTimeMs,
		CreatedAt:                a.CreatedAt,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
