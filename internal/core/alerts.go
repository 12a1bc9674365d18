package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const signatureLength = 16

var (
	replyMarkerPattern = regexp.MustCompile(`^(re|fw|fwd)\s*:\s*`)
	digitRunPattern    = regexp.MustCompile(`[0-9]+`)
	punctPattern       = regexp.MustCompile(`[^\p{L}\s]`)
	spaceRunPattern    = regexp.MustCompile(`\s+`)
)

// NormalizeSubject collapses mass-mailed template variants of a subject
// into one canonical form: lowercase, reply/forward markers stripped, every
// digit run replaced with the placeholder token "n", punctuation stripped,
// whitespace collapsed, truncated to 100 characters. The normalization
// trades precision for recall and is idempotent.
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))

	for {
		stripped := replyMarkerPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = digitRunPattern.ReplaceAllString(s, "n")
	s = punctPattern.ReplaceAllString(s, "")
	s = spaceRunPattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > 100 {
		s = strings.TrimSpace(string(runes[:100]))
	}
	return s
}

// CampaignSignature derives the stable campaign key: the first 16 hex
// characters of SHA256(senderDomain + normalizedSubject)
func CampaignSignature(senderDomain, normalizedSubject string) string {
	sum := sha256.Sum256([]byte(senderDomain + normalizedSubject))
	return hex.EncodeToString(sum[:])[:signatureLength]
}

// AlertPolicy holds the flood-alert gating thresholds
type AlertPolicy struct {
	MinDetections  int
	MinRecipients  int
	MaxCampaignAge time.Duration
	ResendAfter    time.Duration
}

// DefaultAlertPolicy returns the standard gate: 3 detections from 2
// recipients within 4 hours, re-alerting at most once per 24 hours
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		MinDetections:  3,
		MinRecipients:  2,
		MaxCampaignAge: 4 * time.Hour,
		ResendAfter:    24 * time.Hour,
	}
}

// ShouldAlert evaluates the gate against a post-transaction campaign
// snapshot. Every clause must hold.
func (p AlertPolicy) ShouldAlert(st *CampaignState, now time.Time) bool {
	if st.DetectionCount < p.MinDetections {
		return false
	}
	if st.UniqueRecipients < p.MinRecipients {
		return false
	}
	if now.Sub(st.FirstSeenAt) > p.MaxCampaignAge {
		return false
	}
	if st.RiskLevel != RiskHigh && st.RiskLevel != RiskCritical {
		return false
	}
	if st.AlertSentAt != nil && now.Sub(*st.AlertSentAt) <= p.ResendAfter {
		return false
	}
	return true
}

// CampaignAlertService tracks campaign detections and fires deduplicated
// flood alerts. It holds no state between invocations; the store-returned
// snapshot is the only coordination point.
type CampaignAlertService struct {
	store    IntelStore
	notifier Notifier
	logger   *zap.Logger
	policy   AlertPolicy
	alertTo  string
	now      func() time.Time
}

// NewCampaignAlertService creates an alert service delivering to alertTo
func NewCampaignAlertService(
	store IntelStore,
	notifier Notifier,
	logger *zap.Logger,
	policy AlertPolicy,
	alertTo string,
) *CampaignAlertService {
	return &CampaignAlertService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		policy:   policy,
		alertTo:  alertTo,
		now:      time.Now,
	}
}

// HandleDetection records one detection and, if the gate is crossed,
// renders and delivers the flood alert. Failures here are logged and
// swallowed: campaign tracking is best-effort enrichment and must never
// fail the email-processing pipeline.
func (s *CampaignAlertService) HandleDetection(
	ctx context.Context,
	senderDomain, subject, recipient string,
	risk RiskLevel,
	indicators []string,
) {
	// Only high/critical detections start or extend a campaign
	if risk != RiskHigh && risk != RiskCritical {
		return
	}

	normalized := NormalizeSubject(subject)
	state, err := s.store.TrackCampaignDetection(ctx, CampaignDetection{
		SenderDomain:      senderDomain,
		NormalizedSubject: normalized,
		Recipient:         recipient,
		RiskLevel:         risk,
		Indicators:        indicators,
	})
	if err != nil {
		s.logger.Error("Failed to track campaign detection",
			zap.Error(err),
			zap.String("sender_domain", senderDomain))
		return
	}

	// Delivery may be disabled; tracking still happens above
	if s.notifier == nil || s.alertTo == "" {
		return
	}

	if !s.policy.ShouldAlert(state, s.now()) {
		return
	}

	campaign, err := s.store.GetCampaignDetails(ctx, state.CampaignID)
	if err != nil {
		s.logger.Error("Failed to load campaign for alerting",
			zap.Error(err),
			zap.String("campaign_id", state.CampaignID))
		return
	}

	alert := RenderCampaignAlert(campaign, s.alertTo)
	msgID, err := s.notifier.Send(ctx, alert)
	if err != nil {
		// A missed flood alert is recoverable at the next qualifying
		// detection, so the campaign is left unstamped
		s.logger.Error("Failed to deliver campaign alert",
			zap.Error(err),
			zap.String("campaign_id", state.CampaignID))
		return
	}

	if err := s.store.MarkCampaignAlerted(ctx, state.CampaignID); err != nil {
		s.logger.Error("Failed to mark campaign alerted",
			zap.Error(err),
			zap.String("campaign_id", state.CampaignID))
		return
	}

	s.logger.Info("Campaign alert sent",
		zap.String("campaign_id", state.CampaignID),
		zap.String("signature", state.Signature),
		zap.Int("detections", state.DetectionCount),
		zap.String("provider_message_id", msgID))
}

// HumanizeDomain renders a sender domain for non-technical recipients:
// the last non-TLD segment, capitalized ("login.paypal.com" -> "Paypal")
func HumanizeDomain(domain string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(domain)), ".")
	var label string
	switch {
	case len(parts) >= 2:
		label = parts[len(parts)-2]
	case len(parts) == 1:
		label = parts[0]
	}
	if label == "" {
		return domain
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// RenderCampaignAlert builds the human-readable flood alert
func RenderCampaignAlert(c *Campaign, to string) *Alert {
	label := HumanizeDomain(c.SenderDomain)

	samples := c.SampleIndicators
	if len(samples) > 3 {
		samples = samples[:3]
	}

	subject := fmt.Sprintf("Phishing campaign detected: suspicious emails impersonating %s", label)

	var text strings.Builder
	fmt.Fprintf(&text, "A coordinated phishing campaign is targeting your organization.\n\n")
	fmt.Fprintf(&text, "Sender:       %s (%s)\n", label, c.SenderDomain)
	fmt.Fprintf(&text, "Subject line: %q\n", c.SubjectPattern)
	fmt.Fprintf(&text, "Detections:   %d emails so far\n", c.DetectionCount)
	if len(samples) > 0 {
		fmt.Fprintf(&text, "\nWhat we found:\n")
		for _, s := range samples {
			fmt.Fprintf(&text, "  - %s\n", s)
		}
	}
	fmt.Fprintf(&text, "\nDo not click links or open attachments in these emails. Delete them or report them to your security team.\n")

	var html strings.Builder
	fmt.Fprintf(&html, "<h2>Phishing campaign detected</h2>")
	fmt.Fprintf(&html, "<p>A coordinated phishing campaign is targeting your organization.</p>")
	fmt.Fprintf(&html, "<ul><li><strong>Sender:</strong> %s (%s)</li>", label, c.SenderDomain)
	fmt.Fprintf(&html, "<li><strong>Subject line:</strong> %s</li>", c.SubjectPattern)
	fmt.Fprintf(&html, "<li><strong>Detections:</strong> %d emails so far</li></ul>", c.DetectionCount)
	if len(samples) > 0 {
		fmt.Fprintf(&html, "<p><strong>What we found:</strong></p><ul>")
		for _, s := range samples {
			fmt.Fprintf(&html, "<li>%s</li>", s)
		}
		fmt.Fprintf(&html, "</ul>")
	}
	fmt.Fprintf(&html, "<p>Do not click links or open attachments in these emails. Delete them or report them to your security team.</p>")

	return &Alert{
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
		To:       to,
	}
}
