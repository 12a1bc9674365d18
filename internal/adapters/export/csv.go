package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/mikey/phish-intel/internal/core"
)

var csvHeader = []string{
	"type", "value", "confidence", "severity", "times_seen", "first_seen_at", "last_seen_at",
}

// WriteCSV renders the indicators as CSV with a header row
func WriteCSV(w io.Writer, indicators []*core.ThreatIndicator) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ind := range indicators {
		record := []string{
			string(ind.Type),
			ind.Value,
			fmt.Sprintf("%.2f", ind.ConfidenceScore),
			string(ind.Severity),
			fmt.Sprintf("%d", ind.TimesSeen),
			ind.FirstSeenAt.UTC().Format(time.RFC3339),
			ind.LastSeenAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
