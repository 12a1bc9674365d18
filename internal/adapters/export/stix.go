// Package export renders stored indicators in interchange formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikey/phish-intel/internal/core"
)

const stixSpecVersion = "2.1"

// stixBundle is a STIX 2.1 bundle wrapping indicator objects
type stixBundle struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type        string   `json:"type"`
	SpecVersion string   `json:"spec_version"`
	ID          string   `json:"id"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
	Name        string   `json:"name"`
	Pattern     string   `json:"pattern"`
	PatternType string   `json:"pattern_type"`
	ValidFrom   string   `json:"valid_from"`
	Confidence  int      `json:"confidence"`
	Labels      []string `json:"labels"`
}

// WriteSTIX renders the indicators as a STIX 2.1 bundle
func WriteSTIX(w io.Writer, indicators []*core.ThreatIndicator) error {
	bundle := stixBundle{
		Type:    "bundle",
		ID:      "bundle--" + uuid.New().String(),
		Objects: make([]stixObject, 0, len(indicators)),
	}

	for _, ind := range indicators {
		pattern, err := stixPattern(ind)
		if err != nil {
			return err
		}
		bundle.Objects = append(bundle.Objects, stixObject{
			Type:        "indicator",
			SpecVersion: stixSpecVersion,
			ID:          "indicator--" + stixUUID(ind),
			Created:     ind.FirstSeenAt.UTC().Format(time.RFC3339),
			Modified:    ind.LastSeenAt.UTC().Format(time.RFC3339),
			Name:        fmt.Sprintf("Phishing %s: %s", ind.Type, ind.Value),
			Pattern:     pattern,
			PatternType: "stix",
			ValidFrom:   ind.FirstSeenAt.UTC().Format(time.RFC3339),
			Confidence:  stixConfidence(ind.ConfidenceScore),
			Labels:      []string{"phishing", string(ind.Severity)},
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle)
}

// stixConfidence renders a [0,1] score on the STIX 0-100 scale
func stixConfidence(score float64) int {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 100
	}
	return int(score*100 + 0.5)
}

// stixUUID derives a stable object id from the indicator hash so repeated
// exports reference the same object
func stixUUID(ind *core.ThreatIndicator) string {
	h := ind.Hash
	if len(h) < 32 {
		return uuid.New().String()
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

func stixPattern(ind *core.ThreatIndicator) (string, error) {
	value := escapeSTIXValue(ind.Value)
	switch ind.Type {
	case core.IndicatorDomain:
		return fmt.Sprintf("[domain-name:value = '%s']", value), nil
	case core.IndicatorIP:
		return fmt.Sprintf("[ipv4-addr:value = '%s']", value), nil
	case core.IndicatorURL:
		return fmt.Sprintf("[url:value = '%s']", value), nil
	case core.IndicatorEmail:
		return fmt.Sprintf("[email-addr:value = '%s']", value), nil
	case core.IndicatorHash:
		return fmt.Sprintf("[file:hashes.'%s' = '%s']", hashAlgorithm(ind), value), nil
	case core.IndicatorFileName:
		return fmt.Sprintf("[file:name = '%s']", value), nil
	case core.IndicatorSubjectPattern:
		return fmt.Sprintf("[email-message:subject = '%s']", value), nil
	default:
		return "", fmt.Errorf("unsupported indicator type for STIX export: %s", ind.Type)
	}
}

func hashAlgorithm(ind *core.ThreatIndicator) string {
	switch ind.Metadata["algorithm"] {
	case "md5":
		return "MD5"
	case "sha1":
		return "SHA-1"
	default:
		return "SHA-256"
	}
}

func escapeSTIXValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
