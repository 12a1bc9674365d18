package safelist

import (
	"strings"

	"go.uber.org/zap"
)

// defaultDomains are well-known SaaS and infrastructure domains that should
// never be recorded as indicators, however often they appear in mail.
var defaultDomains = []string{
	"google.com",
	"googleapis.com",
	"gstatic.com",
	"youtube.com",
	"microsoft.com",
	"office.com",
	"office365.com",
	"live.com",
	"outlook.com",
	"windows.net",
	"apple.com",
	"icloud.com",
	"amazon.com",
	"amazonaws.com",
	"cloudfront.net",
	"paypal.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"github.com",
	"gitlab.com",
	"slack.com",
	"zoom.us",
	"dropbox.com",
	"salesforce.com",
	"hubspot.com",
	"mailchimp.com",
	"sendgrid.net",
	"zendesk.com",
	"atlassian.com",
	"adobe.com",
	"shopify.com",
	"stripe.com",
	"docusign.com",
	"wordpress.com",
	"cloudflare.com",
	"akamai.com",
	"unsubscribe.com",
}

// Checker answers whether a domain belongs to the known-safe allow-list
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker builds a checker over the default allow-list plus any extra
// configured domains. Domains are normalized to lowercase.
func NewChecker(extra []string, logger *zap.Logger) *Checker {
	domains := make([]string, 0, len(defaultDomains)+len(extra))
	domains = append(domains, defaultDomains...)
	for _, d := range extra {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}

	if len(extra) > 0 && logger != nil {
		logger.Info("Extended safe-domain allow-list", zap.Int("extra", len(extra)))
	}

	return &Checker{domains: domains, logger: logger}
}

// IsSafe reports whether the domain, or any parent of it, is allow-listed.
// "login.paypal.com" matches the "paypal.com" entry.
func (c *Checker) IsSafe(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, safe := range c.domains {
		if domain == safe || strings.HasSuffix(domain, "."+safe) {
			return true
		}
	}
	return false
}

// IsSafeEmail reports whether the address's domain is allow-listed
func (c *Checker) IsSafeEmail(address string) bool {
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return false
	}
	return c.IsSafe(parts[1])
}
