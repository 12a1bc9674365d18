package core

import (
	"math"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// SafeDomainChecker excludes well-known-safe domains from extraction
type SafeDomainChecker interface {
	IsSafe(domain string) bool
}

// DefaultMinConfidence is the boundary between heuristic noise and a
// durable indicator worth persisting
const DefaultMinConfidence = 0.3

const (
	phishingBaseConfidence = 0.7
	benignBaseConfidence   = 0.3
	heuristicBonus         = 0.1
	maxHeuristicBonus      = 0.2
)

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	md5Pattern    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
	sha1Pattern   = regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)
	sha256Pattern = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

var urlShortenerDomains = map[string]bool{
	"bit.ly":      true,
	"tinyurl.com": true,
	"goo.gl":      true,
	"t.co":        true,
	"ow.ly":       true,
	"is.gd":       true,
	"buff.ly":     true,
	"rebrand.ly":  true,
	"cutt.ly":     true,
	"rb.gy":       true,
}

var credentialParams = map[string]bool{
	"password": true,
	"passwd":   true,
	"pwd":      true,
	"token":    true,
	"auth":     true,
	"login":    true,
	"user":     true,
	"username": true,
	"account":  true,
	"session":  true,
	"verify":   true,
}

var roleLocalparts = map[string]bool{
	"admin":         true,
	"administrator": true,
	"support":       true,
	"security":      true,
	"billing":       true,
	"account":       true,
	"accounts":      true,
	"service":       true,
	"helpdesk":      true,
	"payroll":       true,
	"invoice":       true,
	"noreply":       true,
	"no-reply":      true,
	"notification":  true,
}

// IOCExtractor derives indicator candidates from one classified email.
// It is a pure function of its inputs: no persistence, no external calls,
// and identical inputs always produce the identical candidate set.
type IOCExtractor struct {
	safe          SafeDomainChecker
	minConfidence float64
}

// NewIOCExtractor creates an extractor. minConfidence <= 0 selects the
// default threshold of 0.3.
func NewIOCExtractor(safe SafeDomainChecker, minConfidence float64) *IOCExtractor {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &IOCExtractor{safe: safe, minConfidence: minConfidence}
}

// Extract produces the filtered candidate list for one email and verdict
func (x *IOCExtractor) Extract(email *InboundEmail, verdict *Verdict) []IndicatorCandidate {
	base := benignBaseConfidence
	if verdict.IsPhishing {
		base = phishingBaseConfidence
	}
	severity := candidateSeverity(verdict)

	byKey := make(map[string]IndicatorCandidate)
	add := func(c IndicatorCandidate) {
		key := string(c.Type) + "\x00" + strings.ToLower(c.Value)
		if prev, ok := byKey[key]; ok && prev.Confidence >= c.Confidence {
			return
		}
		byKey[key] = c
	}

	// URLs come from the extracted link list plus any literal URLs left in
	// the body text
	seen := make(map[string]bool)
	urls := make([]string, 0, len(email.Links))
	for _, u := range email.Links {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, u := range urlPattern.FindAllString(email.Body, -1) {
		u = strings.TrimRight(u, ".,;")
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		hostIP := net.ParseIP(host)

		if hostIP == nil && x.safe.IsSafe(host) {
			continue
		}

		bonus := 0.0
		if urlShortenerDomains[host] {
			bonus += heuristicBonus
		}
		if hasCredentialParams(parsed) {
			bonus += heuristicBonus
		}
		if hostIP != nil {
			bonus += heuristicBonus
		}
		if bonus > maxHeuristicBonus {
			bonus = maxHeuristicBonus
		}

		add(IndicatorCandidate{
			Type:       IndicatorURL,
			Value:      raw,
			Confidence: capConfidence(base + bonus),
			Severity:   severity,
		})

		if hostIP != nil {
			if isPublicIPv4(hostIP) {
				add(IndicatorCandidate{
					Type:       IndicatorIP,
					Value:      host,
					Confidence: capConfidence(base + heuristicBonus),
					Severity:   severity,
				})
			}
			continue
		}

		add(IndicatorCandidate{
			Type:       IndicatorDomain,
			Value:      host,
			Confidence: capConfidence(base + domainBonus(host)),
			Severity:   severity,
		})
	}

	// Sender address and domain; arbitrary body addresses are ignored
	sender := strings.ToLower(strings.TrimSpace(email.From))
	if parts := strings.Split(sender, "@"); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		local, domain := parts[0], parts[1]
		if !x.safe.IsSafe(domain) {
			bonus := domainBonus(domain)
			if suspiciousLocalpart(local) {
				bonus += heuristicBonus
			}
			if bonus > maxHeuristicBonus {
				bonus = maxHeuristicBonus
			}
			add(IndicatorCandidate{
				Type:       IndicatorEmail,
				Value:      sender,
				Confidence: capConfidence(base + bonus),
				Severity:   severity,
			})
			add(IndicatorCandidate{
				Type:       IndicatorDomain,
				Value:      domain,
				Confidence: capConfidence(base + domainBonus(domain)),
				Severity:   severity,
			})
		}
	}

	// Bare public IPv4 literals in the body
	for _, m := range ipv4Pattern.FindAllString(email.Body, -1) {
		ip := net.ParseIP(m)
		if ip == nil || !isPublicIPv4(ip) {
			continue
		}
		add(IndicatorCandidate{
			Type:       IndicatorIP,
			Value:      m,
			Confidence: capConfidence(base),
			Severity:   severity,
		})
	}

	// Cryptographic hash literals, tagged with their algorithm
	for _, hp := range []struct {
		re   *regexp.Regexp
		algo string
	}{
		{sha256Pattern, "sha256"},
		{sha1Pattern, "sha1"},
		{md5Pattern, "md5"},
	} {
		for _, m := range hp.re.FindAllString(email.Body, -1) {
			add(IndicatorCandidate{
				Type:       IndicatorHash,
				Value:      strings.ToLower(m),
				Confidence: capConfidence(base),
				Severity:   severity,
				Metadata:   map[string]string{"algorithm": hp.algo},
			})
		}
	}

	out := make([]IndicatorCandidate, 0, len(byKey))
	for _, c := range byKey {
		if c.Confidence >= x.minConfidence {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func candidateSeverity(v *Verdict) Severity {
	if !v.IsPhishing {
		return SeverityLow
	}
	switch v.Confidence {
	case ConfidenceVeryHigh:
		return SeverityCritical
	case ConfidenceHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func capConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	return c
}

func hasCredentialParams(u *url.URL) bool {
	for key := range u.Query() {
		if credentialParams[strings.ToLower(key)] {
			return true
		}
	}
	return false
}

// domainBonus scores structural oddities of a hostname
func domainBonus(host string) float64 {
	bonus := 0.0
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		sub := strings.Join(labels[:len(labels)-2], ".")
		if len(sub) >= 15 && shannonEntropy(sub) > 3.0 {
			bonus += heuristicBonus
		}
	}
	if digitFraction(host) > 0.3 {
		bonus += heuristicBonus
	}
	if bonus > maxHeuristicBonus {
		bonus = maxHeuristicBonus
	}
	return bonus
}

func suspiciousLocalpart(local string) bool {
	if roleLocalparts[local] {
		return true
	}
	// Randomized localparts: long with high entropy or digit-heavy
	if len(local) >= 10 && shannonEntropy(local) > 3.2 {
		return true
	}
	return digitFraction(local) > 0.4
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	e := 0.0
	for _, c := range freq {
		p := float64(c) / n
		e -= p * math.Log2(p)
	}
	return e
}

func digitFraction(s string) float64 {
	if s == "" {
		return 0
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(len(s))
}

func isPublicIPv4(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	if v4.IsLoopback() || v4.IsLinkLocalUnicast() || v4.IsPrivate() || v4.IsUnspecified() || v4.IsMulticast() {
		return false
	}
	return true
}
