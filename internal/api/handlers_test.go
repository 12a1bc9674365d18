package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/adapters/store"
	"github.com/mikey/phish-intel/internal/core"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewServer(st, ":0", nil, zap.NewNop()), st
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSearchAnalyses(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.StoreAnalysis(ctx, &core.EmailAnalysis{
		FromDomain: "evil.example",
		Subject:    "Invoice #4521 Due",
		IsPhishing: true,
		RiskLevel:  core.RiskHigh,
	}))
	require.NoError(t, st.StoreAnalysis(ctx, &core.EmailAnalysis{
		FromDomain: "benign.example",
		RiskLevel:  core.RiskSafe,
	}))

	rec := doRequest(t, s, "/api/v1/analyses?is_phishing=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Analyses []analysisResponse `json:"analyses"`
		Count    int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "evil.example", body.Analyses[0].FromDomain)

	rec = doRequest(t, s, "/api/v1/analyses?since=not-a-time")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnalysisNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "/api/v1/analyses/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAnalysisByID(t *testing.T) {
	s, st := newTestServer(t)
	a := &core.EmailAnalysis{FromDomain: "evil.example", IsPhishing: true, RiskLevel: core.RiskHigh}
	require.NoError(t, st.StoreAnalysis(context.Background(), a))

	rec := doRequest(t, s, "/api/v1/analyses/"+a.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got analysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "high", got.RiskLevel)
}

func TestListAndExportIndicators(t *testing.T) {
	s, st := newTestServer(t)
	now := time.Now().UTC()
	require.NoError(t, st.UpsertIndicator(context.Background(), &core.ThreatIndicator{
		Type:            core.IndicatorDomain,
		Value:           "evil.example",
		ConfidenceScore: 0.8,
		Severity:        core.SeverityHigh,
		FirstSeenAt:     now,
		LastSeenAt:      now,
	}))

	rec := doRequest(t, s, "/api/v1/indicators?type=domain")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evil.example")

	rec = doRequest(t, s, "/api/v1/indicators/export?format=stix")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type": "bundle"`)

	rec = doRequest(t, s, "/api/v1/indicators/export?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "evil.example")

	rec = doRequest(t, s, "/api/v1/indicators/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaign(t *testing.T) {
	s, st := newTestServer(t)
	state, err := st.TrackCampaignDetection(context.Background(), core.CampaignDetection{
		SenderDomain:      "evil.example",
		NormalizedSubject: "invoice n due",
		Recipient:         "alice@corp.example",
		RiskLevel:         core.RiskHigh,
	})
	require.NoError(t, err)

	rec := doRequest(t, s, "/api/v1/campaigns/"+state.CampaignID)
	require.Equal(t, http.StatusOK, rec.Code)

	var got campaignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "evil.example", got.SenderDomain)
	assert.Equal(t, 1, got.DetectionCount)

	rec = doRequest(t, s, "/api/v1/campaigns/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.StoreAnalysis(context.Background(), &core.EmailAnalysis{
		FromDomain: "evil.example",
		IsPhishing: true,
		RiskLevel:  core.RiskHigh,
	}))

	rec := doRequest(t, s, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["total_analyses"])
	assert.EqualValues(t, 1, stats["phishing_detected"])
}
