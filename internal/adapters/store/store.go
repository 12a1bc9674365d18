// Package store provides the durable IntelStore backends. All backends
// implement identical merge and clamp semantics; the SQL ones express the
// merges as single atomic statements so concurrent writers converge.
package store

import (
	"encoding/json"
	"time"

	"github.com/mikey/phish-intel/internal/core"
)

const (
	defaultSearchLimit    = 50
	maxSearchLimit        = 1000
	defaultIndicatorLimit = 100
	maxIndicatorLimit     = 1000
	maxSampleIndicators   = 5

	// Fixed-width UTC layout so stored timestamps compare correctly as text
	timeLayout = "2006-01-02T15:04:05.000Z"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// PoolConfig bounds the backend connection pool so a struggling database
// degrades latency instead of exhausting caller resources
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns conservative pool bounds
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// clampSearch normalizes filter paging: limit into [1,1000] with a default
// for the zero value, offset never negative. Malformed input is clamped,
// never rejected.
func clampSearch(f core.SearchFilter) core.SearchFilter {
	if f.Limit <= 0 {
		f.Limit = defaultSearchLimit
	} else if f.Limit > maxSearchLimit {
		f.Limit = maxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func clampIndicatorLimit(limit int) int {
	if limit <= 0 {
		return defaultIndicatorLimit
	}
	if limit > maxIndicatorLimit {
		return maxIndicatorLimit
	}
	return limit
}

func marshalStrings(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func marshalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMetadata(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func marshalCriteria(c core.PatternCriteria) string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalCriteria(raw string) core.PatternCriteria {
	var c core.PatternCriteria
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &c)
	}
	return c
}

// mergeSamples appends new samples to existing ones, deduplicated and
// bounded to five entries
func mergeSamples(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, maxSampleIndicators)
	for _, s := range existing {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxSampleIndicators {
			return out
		}
	}
	for _, s := range incoming {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxSampleIndicators {
			return out
		}
	}
	return out
}
