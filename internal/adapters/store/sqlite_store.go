package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/core"
)

// severityRankSQL orders severities in SQL the same way core.Severity.Rank
// does in Go
const severityRankSQL = `CASE %s WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

const riskRankSQL = `CASE %s WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_analyses (
		id TEXT PRIMARY KEY,
		message_id TEXT,
		profile_id TEXT,
		from_email TEXT,
		from_domain TEXT,
		subject TEXT,
		is_phishing INTEGER NOT NULL DEFAULT 0,
		confidence_score REAL NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT 'safe',
		indicators TEXT NOT NULL DEFAULT '[]',
		vip_impersonation INTEGER NOT NULL DEFAULT 0,
		ai_provider TEXT,
		ai_model TEXT,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analyses_domain_time ON email_analyses(from_domain, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analyses_message_id ON email_analyses(message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON email_analyses(created_at)`,
	`CREATE TABLE IF NOT EXISTS threat_indicators (
		id TEXT PRIMARY KEY,
		indicator_type TEXT NOT NULL,
		indicator_hash TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence_score REAL NOT NULL DEFAULT 0,
		severity TEXT NOT NULL DEFAULT 'low',
		times_seen INTEGER NOT NULL DEFAULT 1,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		UNIQUE(indicator_type, indicator_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_indicators_last_seen ON threat_indicators(last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS detected_patterns (
		id TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		criteria TEXT NOT NULL DEFAULT '{}',
		match_count INTEGER NOT NULL DEFAULT 1,
		is_confirmed_threat INTEGER NOT NULL DEFAULT 0,
		first_detected_at TEXT NOT NULL,
		last_detected_at TEXT NOT NULL,
		UNIQUE(pattern_type, pattern_name)
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		signature TEXT NOT NULL UNIQUE,
		sender_domain TEXT NOT NULL,
		subject_pattern TEXT NOT NULL,
		detection_count INTEGER NOT NULL DEFAULT 1,
		risk_level TEXT NOT NULL DEFAULT 'low',
		sample_indicators TEXT NOT NULL DEFAULT '[]',
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		alert_sent_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_recipients (
		campaign_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		PRIMARY KEY (campaign_id, recipient)
	)`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
		id TEXT PRIMARY KEY,
		analysis_id TEXT,
		provider TEXT NOT NULL,
		model TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
}

// SQLiteStore is a SQLite implementation of the IntelStore port
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database and runs the idempotent
// schema initialization. Initialization failure aborts construction.
func NewSQLiteStore(dbPath string, pool PoolConfig, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoreAnalysis persists one immutable analysis record
func (s *SQLiteStore) StoreAnalysis(ctx context.Context, a *core.EmailAnalysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_analyses
			(id, message_id, profile_id, from_email, from_domain, subject,
			 is_phishing, confidence_score, risk_level, indicators,
			 vip_impersonation, ai_provider, ai_model, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.MessageID, a.ProfileID, a.FromEmail, a.FromDomain, a.Subject,
		a.IsPhishing, a.ConfidenceScore, string(a.RiskLevel), marshalStrings(a.Indicators),
		a.VIPImpersonationDetected, a.AIProvider, a.AIModel, a.ProcessingTimeMs,
		formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, message_id, profile_id, from_email, from_domain, subject,
	is_phishing, confidence_score, risk_level, indicators,
	vip_impersonation, ai_provider, ai_model, processing_time_ms, created_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*core.EmailAnalysis, error) {
	var a core.EmailAnalysis
	var risk, indicators, createdAt string
	err := row.Scan(&a.ID, &a.MessageID, &a.ProfileID, &a.FromEmail, &a.FromDomain,
		&a.Subject, &a.IsPhishing, &a.ConfidenceScore, &risk, &indicators,
		&a.VIPImpersonationDetected, &a.AIProvider, &a.AIModel,
		&a.ProcessingTimeMs, &createdAt)
	if err != nil {
		return nil, err
	}
	a.RiskLevel = core.RiskLevel(risk)
	a.Indicators = unmarshalStrings(indicators)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// GetAnalysis retrieves an analysis by id
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*core.EmailAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM email_analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// SearchAnalyses lists analyses matching the filter, newest first
func (s *SQLiteStore) SearchAnalyses(ctx context.Context, f core.SearchFilter) ([]*core.EmailAnalysis, error) {
	f = clampSearch(f)

	q := `SELECT ` + analysisColumns + ` FROM email_analyses WHERE 1=1`
	var args []any
	if f.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		q += ` AND created_at <= ?`
		args = append(args, formatTime(*f.Until))
	}
	if f.IsPhishing != nil {
		q += ` AND is_phishing = ?`
		args = append(args, *f.IsPhishing)
	}
	if f.RiskLevel != "" {
		q += ` AND risk_level = ?`
		args = append(args, string(f.RiskLevel))
	}
	if f.FromDomain != "" {
		q += ` AND from_domain = ?`
		args = append(args, strings.ToLower(f.FromDomain))
	}
	if f.ProfileID != "" {
		q += ` AND profile_id = ?`
		args = append(args, f.ProfileID)
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search analyses: %w", err)
	}
	defer rows.Close()

	var out []*core.EmailAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasBeenAnalyzed reports whether a message id was already recorded
func (s *SQLiteStore) HasBeenAnalyzed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_analyses WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check message id: %w", err)
	}
	return n > 0, nil
}

// UpsertIndicator inserts a new indicator or merges a re-sighting in one
// atomic statement: timesSeen+1, max confidence, max severity
func (s *SQLiteStore) UpsertIndicator(ctx context.Context, ind *core.ThreatIndicator) error {
	if ind.ID == "" {
		ind.ID = uuid.New().String()
	}
	if ind.Hash == "" {
		ind.Hash = core.HashIndicator(ind.Type, ind.Value)
	}
	var expires any
	if ind.ExpiresAt != nil {
		expires = formatTime(*ind.ExpiresAt)
	}

	newRank := fmt.Sprintf(severityRankSQL, "excluded.severity")
	oldRank := fmt.Sprintf(severityRankSQL, "threat_indicators.severity")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_indicators
			(id, indicator_type, indicator_hash, value, confidence_score, severity,
			 times_seen, first_seen_at, last_seen_at, is_active, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, 1, ?, ?)
		ON CONFLICT(indicator_type, indicator_hash) DO UPDATE SET
			times_seen = threat_indicators.times_seen + 1,
			confidence_score = MAX(threat_indicators.confidence_score, excluded.confidence_score),
			severity = CASE WHEN `+newRank+` > `+oldRank+`
				THEN excluded.severity ELSE threat_indicators.severity END,
			last_seen_at = excluded.last_seen_at,
			is_active = 1
	`, ind.ID, string(ind.Type), ind.Hash, ind.Value, ind.ConfidenceScore,
		string(ind.Severity), formatTime(ind.FirstSeenAt), formatTime(ind.LastSeenAt),
		expires, marshalMetadata(ind.Metadata))
	if err != nil {
		return fmt.Errorf("upsert indicator: %w", err)
	}
	return nil
}

const indicatorColumns = `id, indicator_type, indicator_hash, value, confidence_score,
	severity, times_seen, first_seen_at, last_seen_at, is_active, expires_at, metadata`

func scanIndicator(row interface{ Scan(...any) error }) (*core.ThreatIndicator, error) {
	var i core.ThreatIndicator
	var typ, sev, first, last, metadata string
	var expires sql.NullString
	err := row.Scan(&i.ID, &typ, &i.Hash, &i.Value, &i.ConfidenceScore, &sev,
		&i.TimesSeen, &first, &last, &i.IsActive, &expires, &metadata)
	if err != nil {
		return nil, err
	}
	i.Type = core.IndicatorType(typ)
	i.Severity = core.Severity(sev)
	i.FirstSeenAt = parseTime(first)
	i.LastSeenAt = parseTime(last)
	if expires.Valid {
		t := parseTime(expires.String)
		i.ExpiresAt = &t
	}
	i.Metadata = unmarshalMetadata(metadata)
	return &i, nil
}

// LookupIndicators returns indicators of the given type matching any value
func (s *SQLiteStore) LookupIndicators(ctx context.Context, typ core.IndicatorType, values []string) ([]*core.ThreatIndicator, error) {
	if len(values) == 0 {
		return nil, nil
	}
	hashes := make([]any, 0, len(values)+1)
	hashes = append(hashes, string(typ))
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		hashes = append(hashes, core.HashIndicator(typ, v))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+indicatorColumns+` FROM threat_indicators
		WHERE indicator_type = ? AND indicator_hash IN (`+strings.Join(placeholders, ",")+`)
	`, hashes...)
	if err != nil {
		return nil, fmt.Errorf("lookup indicators: %w", err)
	}
	defer rows.Close()

	var out []*core.ThreatIndicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// GetActiveIndicators returns unexpired active indicators, most recently
// seen first; limit is clamped to 1000
func (s *SQLiteStore) GetActiveIndicators(ctx context.Context, typ core.IndicatorType, limit int) ([]*core.ThreatIndicator, error) {
	limit = clampIndicatorLimit(limit)

	q := `SELECT ` + indicatorColumns + ` FROM threat_indicators
		WHERE is_active = 1 AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{formatTime(time.Now())}
	if typ != "" {
		q += ` AND indicator_type = ?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY last_seen_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get active indicators: %w", err)
	}
	defer rows.Close()

	var out []*core.ThreatIndicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// UpsertPattern inserts or refreshes a pattern keyed by (type, name).
// The insert always carries a fresh candidate id; the returned id matches
// it only when the insert won, which is how creation is detected without a
// second statement.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *core.DetectedPattern) (bool, error) {
	candidateID := uuid.New().String()
	var storedID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO detected_patterns
			(id, pattern_type, pattern_name, criteria, match_count,
			 is_confirmed_threat, first_detected_at, last_detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_type, pattern_name) DO UPDATE SET
			match_count = detected_patterns.match_count + 1,
			criteria = excluded.criteria,
			is_confirmed_threat = MAX(detected_patterns.is_confirmed_threat, excluded.is_confirmed_threat),
			last_detected_at = excluded.last_detected_at
		RETURNING id
	`, candidateID, string(p.Type), p.Name, marshalCriteria(p.Criteria), p.MatchCount,
		p.IsConfirmedThreat, formatTime(p.FirstDetectedAt), formatTime(p.LastDetectedAt)).Scan(&storedID)
	if err != nil {
		return false, fmt.Errorf("upsert pattern: %w", err)
	}
	p.ID = storedID
	return storedID == candidateID, nil
}

// GetPatterns lists detected patterns, most recently refreshed first
func (s *SQLiteStore) GetPatterns(ctx context.Context, limit int) ([]*core.DetectedPattern, error) {
	limit = clampIndicatorLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern_type, pattern_name, criteria, match_count,
		       is_confirmed_threat, first_detected_at, last_detected_at
		FROM detected_patterns
		ORDER BY last_detected_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get patterns: %w", err)
	}
	defer rows.Close()

	var out []*core.DetectedPattern
	for rows.Next() {
		var p core.DetectedPattern
		var typ, criteria, first, last string
		if err := rows.Scan(&p.ID, &typ, &p.Name, &criteria, &p.MatchCount,
			&p.IsConfirmedThreat, &first, &last); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Type = core.PatternType(typ)
		p.Criteria = unmarshalCriteria(criteria)
		p.FirstDetectedAt = parseTime(first)
		p.LastDetectedAt = parseTime(last)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetStats summarizes store contents
func (s *SQLiteStore) GetStats(ctx context.Context) (*core.IntelStats, error) {
	st := &core.IntelStats{}
	now := formatTime(time.Now())

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM email_analyses),
			(SELECT COUNT(*) FROM email_analyses WHERE is_phishing = 1),
			(SELECT COUNT(*) FROM threat_indicators WHERE is_active = 1 AND (expires_at IS NULL OR expires_at > ?)),
			(SELECT COUNT(*) FROM detected_patterns),
			(SELECT COUNT(*) FROM campaigns WHERE is_active = 1),
			(SELECT COALESCE(SUM(estimated_cost), 0) FROM ai_usage)
	`, now).Scan(&st.TotalAnalyses, &st.PhishingDetected, &st.ActiveIndicators,
		&st.DetectedPatterns, &st.ActiveCampaigns, &st.TotalEstimatedCost)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return st, nil
}

// TrackCampaignDetection atomically records one sighting inside a single
// transaction and returns the post-update snapshot. The transaction never
// touches alerting state.
func (s *SQLiteStore) TrackCampaignDetection(ctx context.Context, d core.CampaignDetection) (*core.CampaignState, error) {
	signature := core.CampaignSignature(d.SenderDomain, d.NormalizedSubject)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin campaign tx: %w", err)
	}
	defer tx.Rollback()

	newRank := fmt.Sprintf(riskRankSQL, "excluded.risk_level")
	oldRank := fmt.Sprintf(riskRankSQL, "campaigns.risk_level")

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, signature, sender_domain, subject_pattern, detection_count,
			 risk_level, sample_indicators, first_seen_at, last_seen_at, is_active)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, 1)
		ON CONFLICT(signature) DO UPDATE SET
			detection_count = campaigns.detection_count + 1,
			risk_level = CASE WHEN `+newRank+` > `+oldRank+`
				THEN excluded.risk_level ELSE campaigns.risk_level END,
			last_seen_at = excluded.last_seen_at,
			is_active = 1
	`, uuid.New().String(), signature, d.SenderDomain, d.NormalizedSubject,
		string(d.RiskLevel), marshalStrings(mergeSamples(nil, d.Indicators)),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("upsert campaign: %w", err)
	}

	var id, samplesRaw string
	if err := tx.QueryRowContext(ctx,
		`SELECT id, sample_indicators FROM campaigns WHERE signature = ?`,
		signature).Scan(&id, &samplesRaw); err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}

	merged := mergeSamples(unmarshalStrings(samplesRaw), d.Indicators)
	if mergedRaw := marshalStrings(merged); mergedRaw != samplesRaw {
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET sample_indicators = ? WHERE id = ?`,
			mergedRaw, id); err != nil {
			return nil, fmt.Errorf("update campaign samples: %w", err)
		}
	}

	if d.Recipient != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO campaign_recipients (campaign_id, recipient)
			VALUES (?, ?)
		`, id, strings.ToLower(d.Recipient)); err != nil {
			return nil, fmt.Errorf("record campaign recipient: %w", err)
		}
	}

	state := &core.CampaignState{CampaignID: id, Signature: signature}
	var risk, first string
	var alertSent sql.NullString
	if err := tx.QueryRowContext(ctx, `
		SELECT detection_count, risk_level, first_seen_at, alert_sent_at,
		       (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = campaigns.id)
		FROM campaigns WHERE id = ?
	`, id).Scan(&state.DetectionCount, &risk, &first, &alertSent, &state.UniqueRecipients); err != nil {
		return nil, fmt.Errorf("read campaign state: %w", err)
	}
	state.RiskLevel = core.RiskLevel(risk)
	state.FirstSeenAt = parseTime(first)
	if alertSent.Valid {
		t := parseTime(alertSent.String)
		state.AlertSentAt = &t
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit campaign tx: %w", err)
	}
	return state, nil
}

// MarkCampaignAlerted stamps alertSentAt on a campaign
func (s *SQLiteStore) MarkCampaignAlerted(ctx context.Context, campaignID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET alert_sent_at = ? WHERE id = ?`,
		formatTime(time.Now()), campaignID)
	if err != nil {
		return fmt.Errorf("mark campaign alerted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GetCampaignDetails retrieves full campaign state
func (s *SQLiteStore) GetCampaignDetails(ctx context.Context, campaignID string) (*core.Campaign, error) {
	var c core.Campaign
	var risk, samples, first, last string
	var alertSent sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, signature, sender_domain, subject_pattern, detection_count,
		       risk_level, sample_indicators, first_seen_at, last_seen_at,
		       alert_sent_at, is_active,
		       (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = campaigns.id)
		FROM campaigns WHERE id = ?
	`, campaignID).Scan(&c.ID, &c.Signature, &c.SenderDomain, &c.SubjectPattern,
		&c.DetectionCount, &risk, &samples, &first, &last, &alertSent,
		&c.IsActive, &c.UniqueRecipients)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.RiskLevel = core.RiskLevel(risk)
	c.SampleIndicators = unmarshalStrings(samples)
	c.FirstSeenAt = parseTime(first)
	c.LastSeenAt = parseTime(last)
	if alertSent.Valid {
		t := parseTime(alertSent.String)
		c.AlertSentAt = &t
	}
	return &c, nil
}

// RecordUsage appends one row to the AI usage ledger
func (s *SQLiteStore) RecordUsage(ctx context.Context, u *core.AIUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var analysisID any
	if u.AnalysisID != nil {
		analysisID = *u.AnalysisID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_usage
			(id, analysis_id, provider, model, input_tokens, output_tokens,
			 estimated_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, analysisID, u.Provider, u.Model, u.InputTokens, u.OutputTokens,
		u.EstimatedCost, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// CountRecentPhishingByDomain counts phishing analyses from a sender domain
func (s *SQLiteStore) CountRecentPhishingByDomain(ctx context.Context, domain string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_analyses
		WHERE is_phishing = 1 AND from_domain = ? AND created_at >= ?
	`, strings.ToLower(domain), formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by domain: %w", err)
	}
	return n, nil
}

// CountRecentPhishingBySubjectPhrases counts phishing analyses whose
// subject contains any of the phrases
func (s *SQLiteStore) CountRecentPhishingBySubjectPhrases(ctx context.Context, phrases []string, since time.Time) (int, error) {
	if len(phrases) == 0 {
		return 0, nil
	}
	q := `SELECT COUNT(*) FROM email_analyses WHERE is_phishing = 1 AND created_at >= ? AND (`
	args := []any{formatTime(since)}
	for i, p := range phrases {
		if i > 0 {
			q += ` OR `
		}
		q += `LOWER(subject) LIKE ?`
		args = append(args, "%"+strings.ToLower(p)+"%")
	}
	q += `)`

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count by subject phrases: %w", err)
	}
	return n, nil
}

// CountRecentImpersonation counts analyses flagged for impersonation
func (s *SQLiteStore) CountRecentImpersonation(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_analyses
		WHERE created_at >= ?
		  AND (vip_impersonation = 1
		       OR LOWER(indicators) LIKE '%impersonat%'
		       OR LOWER(indicators) LIKE '%spoof%')
	`, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count impersonation: %w", err)
	}
	return n, nil
}

// CountRecentPhishingByIndicatorReference counts phishing analyses whose
// stored indicator text references any of the terms. Substring matching is
// a deliberate approximation (see DESIGN.md).
func (s *SQLiteStore) CountRecentPhishingByIndicatorReference(ctx context.Context, terms []string, since time.Time) (int, error) {
	if len(terms) == 0 {
		return 0, nil
	}
	q := `SELECT COUNT(*) FROM email_analyses WHERE is_phishing = 1 AND created_at >= ? AND (`
	args := []any{formatTime(since)}
	for i, t := range terms {
		if i > 0 {
			q += ` OR `
		}
		q += `LOWER(indicators) LIKE ?`
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	q += `)`

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count by indicator reference: %w", err)
	}
	return n, nil
}
