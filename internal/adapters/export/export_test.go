package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/phish-intel/internal/core"
)

func sampleIndicators() []*core.ThreatIndicator {
	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 15, 12, 30, 0, 0, time.UTC)
	return []*core.ThreatIndicator{
		{
			Type:            core.IndicatorDomain,
			Value:           "evil.example",
			Hash:            core.HashIndicator(core.IndicatorDomain, "evil.example"),
			ConfidenceScore: 0.85,
			Severity:        core.SeverityHigh,
			TimesSeen:       4,
			FirstSeenAt:     first,
			LastSeenAt:      last,
		},
		{
			Type:            core.IndicatorURL,
			Value:           "https://evil.example/o'brien",
			Hash:            core.HashIndicator(core.IndicatorURL, "https://evil.example/o'brien"),
			ConfidenceScore: 0.7,
			Severity:        core.SeverityMedium,
			TimesSeen:       1,
			FirstSeenAt:     first,
			LastSeenAt:      first,
		},
		{
			Type:            core.IndicatorHash,
			Value:           strings.Repeat("a", 32),
			Hash:            core.HashIndicator(core.IndicatorHash, strings.Repeat("a", 32)),
			ConfidenceScore: 0.9,
			Severity:        core.SeverityCritical,
			TimesSeen:       2,
			FirstSeenAt:     first,
			LastSeenAt:      last,
			Metadata:        map[string]string{"algorithm": "md5"},
		},
	}
}

func TestWriteSTIXBundle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSTIX(&buf, sampleIndicators()))

	var bundle struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Objects []struct {
			Type        string   `json:"type"`
			SpecVersion string   `json:"spec_version"`
			ID          string   `json:"id"`
			Pattern     string   `json:"pattern"`
			PatternType string   `json:"pattern_type"`
			Confidence  int      `json:"confidence"`
			Labels      []string `json:"labels"`
		} `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &bundle))

	assert.Equal(t, "bundle", bundle.Type)
	assert.True(t, strings.HasPrefix(bundle.ID, "bundle--"))
	require.Len(t, bundle.Objects, 3)

	domain := bundle.Objects[0]
	assert.Equal(t, "indicator", domain.Type)
	assert.Equal(t, "2.1", domain.SpecVersion)
	assert.Equal(t, "[domain-name:value = 'evil.example']", domain.Pattern)
	assert.Equal(t, 85, domain.Confidence)
	assert.Contains(t, domain.Labels, "phishing")
	assert.Contains(t, domain.Labels, "high")

	url := bundle.Objects[1]
	assert.Equal(t, `[url:value = 'https://evil.example/o\'brien']`, url.Pattern)

	hash := bundle.Objects[2]
	assert.Contains(t, hash.Pattern, "file:hashes.'MD5'")
}

func TestWriteSTIXStableObjectIDs(t *testing.T) {
	var a, b bytes.Buffer
	inds := sampleIndicators()
	require.NoError(t, WriteSTIX(&a, inds))
	require.NoError(t, WriteSTIX(&b, inds))

	var first, second stixBundle
	require.NoError(t, json.Unmarshal(a.Bytes(), &first))
	require.NoError(t, json.Unmarshal(b.Bytes(), &second))
	for i := range first.Objects {
		assert.Equal(t, first.Objects[i].ID, second.Objects[i].ID)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleIndicators()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "domain", records[1][0])
	assert.Equal(t, "evil.example", records[1][1])
	assert.Equal(t, "0.85", records[1][2])
	assert.Equal(t, "high", records[1][3])
	assert.Equal(t, "4", records[1][4])
	assert.Equal(t, "2026-08-01T10:00:00Z", records[1][5])
}
