package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/phish-intel/internal/core"
)

const mysqlTimeLayout = "2006-01-02 15:04:05.000"

// severityFieldSQL ranks severities via FIELD(); higher index is worse
const severityFieldSQL = `FIELD(%s, 'low', 'medium', 'high', 'critical')`

const riskFieldSQL = `FIELD(%s, 'safe', 'low', 'medium', 'high', 'critical')`

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_analyses (
		id VARCHAR(36) PRIMARY KEY,
		message_id VARCHAR(512),
		profile_id VARCHAR(64),
		from_email VARCHAR(320),
		from_domain VARCHAR(255),
		subject TEXT,
		is_phishing BOOLEAN NOT NULL DEFAULT FALSE,
		confidence_score DOUBLE NOT NULL DEFAULT 0,
		risk_level VARCHAR(16) NOT NULL DEFAULT 'safe',
		indicators JSON,
		vip_impersonation BOOLEAN NOT NULL DEFAULT FALSE,
		ai_provider VARCHAR(64),
		ai_model VARCHAR(128),
		processing_time_ms BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		INDEX idx_analyses_domain_time (from_domain, created_at),
		INDEX idx_analyses_message_id (message_id(255)),
		INDEX idx_analyses_created_at (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS threat_indicators (
		id VARCHAR(36) PRIMARY KEY,
		indicator_type VARCHAR(32) NOT NULL,
		indicator_hash CHAR(64) NOT NULL,
		value TEXT NOT NULL,
		confidence_score DOUBLE NOT NULL DEFAULT 0,
		severity VARCHAR(16) NOT NULL DEFAULT 'low',
		times_seen INT NOT NULL DEFAULT 1,
		first_seen_at DATETIME(3) NOT NULL,
		last_seen_at DATETIME(3) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at DATETIME(3) NULL,
		metadata JSON,
		UNIQUE KEY uq_indicator (indicator_type, indicator_hash),
		INDEX idx_indicators_last_seen (last_seen_at)
	)`,
	`CREATE TABLE IF NOT EXISTS detected_patterns (
		id VARCHAR(36) PRIMARY KEY,
		pattern_type VARCHAR(32) NOT NULL,
		pattern_name VARCHAR(255) NOT NULL,
		criteria JSON,
		match_count INT NOT NULL DEFAULT 1,
		is_confirmed_threat BOOLEAN NOT NULL DEFAULT FALSE,
		first_detected_at DATETIME(3) NOT NULL,
		last_detected_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_pattern (pattern_type, pattern_name)
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id VARCHAR(36) PRIMARY KEY,
		signature CHAR(16) NOT NULL,
		sender_domain VARCHAR(255) NOT NULL,
		subject_pattern VARCHAR(255) NOT NULL,
		detection_count INT NOT NULL DEFAULT 1,
		risk_level VARCHAR(16) NOT NULL DEFAULT 'low',
		sample_indicators JSON,
		first_seen_at DATETIME(3) NOT NULL,
		last_seen_at DATETIME(3) NOT NULL,
		alert_sent_at DATETIME(3) NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE KEY uq_signature (signature)
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_recipients (
		campaign_id VARCHAR(36) NOT NULL,
		recipient VARCHAR(320) NOT NULL,
		PRIMARY KEY (campaign_id, recipient)
	)`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
		id VARCHAR(36) PRIMARY KEY,
		analysis_id VARCHAR(36) NULL,
		provider VARCHAR(64) NOT NULL,
		model VARCHAR(128),
		input_tokens INT NOT NULL DEFAULT 0,
		output_tokens INT NOT NULL DEFAULT 0,
		estimated_cost DOUBLE NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL
	)`,
}

// MySQLStore is a MySQL implementation of the IntelStore port
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore connects, verifies the connection, and runs the idempotent
// schema initialization. Any failure aborts construction.
func NewMySQLStore(dsn string, pool PoolConfig, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	for _, stmt := range mysqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &MySQLStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func mysqlTime(t time.Time) string {
	return t.UTC().Format(mysqlTimeLayout)
}

func parseMySQLTime(raw string) time.Time {
	for _, layout := range []string{mysqlTimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// StoreAnalysis persists one immutable analysis record
func (s *MySQLStore) StoreAnalysis(ctx context.Context, a *core.EmailAnalysis) error {
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
		mysqlTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

func (s *MySQLStore) scanAnalysisRow(row interface{ Scan(...any) error }) (*core.EmailAnalysis, error) {
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
	a.CreatedAt = parseMySQLTime(createdAt)
	return &a, nil
}

// GetAnalysis retrieves an analysis by id
func (s *MySQLStore) GetAnalysis(ctx context.Context, id string) (*core.EmailAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM email_analyses WHERE id = ?`, id)
	a, err := s.scanAnalysisRow(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// SearchAnalyses lists analyses matching the filter, newest first
func (s *MySQLStore) SearchAnalyses(ctx context.Context, f core.SearchFilter) ([]*core.EmailAnalysis, error) {
	f = clampSearch(f)

	q := `SELECT ` + analysisColumns + ` FROM email_analyses WHERE 1=1`
	var args []any
	if f.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, mysqlTime(*f.Since))
	}
	if f.Until != nil {
		q += ` AND created_at <= ?`
		args = append(args, mysqlTime(*f.Until))
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
		a, err := s.scanAnalysisRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasBeenAnalyzed reports whether a message id was already recorded
func (s *MySQLStore) HasBeenAnalyzed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_analyses WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check message id: %w", err)
	}
	return n > 0, nil
}

// UpsertIndicator inserts a new indicator or merges a re-sighting in one
// atomic statement
func (s *MySQLStore) UpsertIndicator(ctx context.Context, ind *core.ThreatIndicator) error {
	if ind.ID == "" {
		ind.ID = uuid.New().String()
	}
	if ind.Hash == "" {
		ind.Hash = core.HashIndicator(ind.Type, ind.Value)
	}
	var expires any
	if ind.ExpiresAt != nil {
		expires = mysqlTime(*ind.ExpiresAt)
	}

	newRank := fmt.Sprintf(severityFieldSQL, "VALUES(severity)")
	oldRank := fmt.Sprintf(severityFieldSQL, "severity")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_indicators
			(id, indicator_type, indicator_hash, value, confidence_score, severity,
			 times_seen, first_seen_at, last_seen_at, is_active, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, TRUE, ?, ?)
		ON DUPLICATE KEY UPDATE
			times_seen = times_seen + 1,
			confidence_score = GREATEST(confidence_score, VALUES(confidence_score)),
			severity = IF(`+newRank+` > `+oldRank+`, VALUES(severity), severity),
			last_seen_at = VALUES(last_seen_at),
			is_active = TRUE
	`, ind.ID, string(ind.Type), ind.Hash, ind.Value, ind.ConfidenceScore,
		string(ind.Severity), mysqlTime(ind.FirstSeenAt), mysqlTime(ind.LastSeenAt),
		expires, marshalMetadata(ind.Metadata))
	if err != nil {
		return fmt.Errorf("upsert indicator: %w", err)
	}
	return nil
}

func (s *MySQLStore) scanIndicatorRow(row interface{ Scan(...any) error }) (*core.ThreatIndicator, error) {
	var i core.ThreatIndicator
	var typ, sev, first, last string
	var metadata sql.NullString
	var expires sql.NullString
	err := row.Scan(&i.ID, &typ, &i.Hash, &i.Value, &i.ConfidenceScore, &sev,
		&i.TimesSeen, &first, &last, &i.IsActive, &expires, &metadata)
	if err != nil {
		return nil, err
	}
	i.Type = core.IndicatorType(typ)
	i.Severity = core.Severity(sev)
	i.FirstSeenAt = parseMySQLTime(first)
	i.LastSeenAt = parseMySQLTime(last)
	if expires.Valid {
		t := parseMySQLTime(expires.String)
		i.ExpiresAt = &t
	}
	if metadata.Valid {
		i.Metadata = unmarshalMetadata(metadata.String)
	}
	return &i, nil
}

// LookupIndicators returns indicators of the given type matching any value
func (s *MySQLStore) LookupIndicators(ctx context.Context, typ core.IndicatorType, values []string) ([]*core.ThreatIndicator, error) {
	if len(values) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(values)+1)
	args = append(args, string(typ))
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args = append(args, core.HashIndicator(typ, v))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+indicatorColumns+` FROM threat_indicators
		WHERE indicator_type = ? AND indicator_hash IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup indicators: %w", err)
	}
	defer rows.Close()

	var out []*core.ThreatIndicator
	for rows.Next() {
		ind, err := s.scanIndicatorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// GetActiveIndicators returns unexpired active indicators, newest first
func (s *MySQLStore) GetActiveIndicators(ctx context.Context, typ core.IndicatorType, limit int) ([]*core.ThreatIndicator, error) {
	limit = clampIndicatorLimit(limit)

	q := `SELECT ` + indicatorColumns + ` FROM threat_indicators
		WHERE is_active = TRUE AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{mysqlTime(time.Now())}
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
		ind, err := s.scanIndicatorRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// UpsertPattern inserts or refreshes a pattern keyed by (type, name)
func (s *MySQLStore) UpsertPattern(ctx context.Context, p *core.DetectedPattern) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO detected_patterns
			(id, pattern_type, pattern_name, criteria, match_count,
			 is_confirmed_threat, first_detected_at, last_detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			match_count = match_count + 1,
			criteria = VALUES(criteria),
			is_confirmed_threat = GREATEST(is_confirmed_threat, VALUES(is_confirmed_threat)),
			last_detected_at = VALUES(last_detected_at)
	`, p.ID, string(p.Type), p.Name, marshalCriteria(p.Criteria), p.MatchCount,
		p.IsConfirmedThreat, mysqlTime(p.FirstDetectedAt), mysqlTime(p.LastDetectedAt))
	if err != nil {
		return false, fmt.Errorf("upsert pattern: %w", err)
	}
	// MySQL reports 1 affected row for an insert, 2 for a duplicate-key update
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert pattern: %w", err)
	}
	return affected == 1, nil
}

// GetPatterns lists detected patterns, most recently refreshed first
func (s *MySQLStore) GetPatterns(ctx context.Context, limit int) ([]*core.DetectedPattern, error) {
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
		var typ, first, last string
		var criteria sql.NullString
		if err := rows.Scan(&p.ID, &typ, &p.Name, &criteria, &p.MatchCount,
			&p.IsConfirmedThreat, &first, &last); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Type = core.PatternType(typ)
		if criteria.Valid {
			p.Criteria = unmarshalCriteria(criteria.String)
		}
		p.FirstDetectedAt = parseMySQLTime(first)
		p.LastDetectedAt = parseMySQLTime(last)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetStats summarizes store contents
func (s *MySQLStore) GetStats(ctx context.Context) (*core.IntelStats, error) {
	st := &core.IntelStats{}
	now := mysqlTime(time.Now())

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM email_analyses),
			(SELECT COUNT(*) FROM email_analyses WHERE is_phishing = TRUE),
			(SELECT COUNT(*) FROM threat_indicators WHERE is_active = TRUE AND (expires_at IS NULL OR expires_at > ?)),
			(SELECT COUNT(*) FROM detected_patterns),
			(SELECT COUNT(*) FROM campaigns WHERE is_active = TRUE),
			(SELECT COALESCE(SUM(estimated_cost), 0) FROM ai_usage)
	`, now).Scan(&st.TotalAnalyses, &st.PhishingDetected, &st.ActiveIndicators,
		&st.DetectedPatterns, &st.ActiveCampaigns, &st.TotalEstimatedCost)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return st, nil
}

// TrackCampaignDetection atomically records one sighting inside a single
// transaction and returns the post-update snapshot
func (s *MySQLStore) TrackCampaignDetection(ctx context.Context, d core.CampaignDetection) (*core.CampaignState, error) {
	signature := core.CampaignSignature(d.SenderDomain, d.NormalizedSubject)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin campaign tx: %w", err)
	}
	defer tx.Rollback()

	newRank := fmt.Sprintf(riskFieldSQL, "VALUES(risk_level)")
	oldRank := fmt.Sprintf(riskFieldSQL, "risk_level")

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, signature, sender_domain, subject_pattern, detection_count,
			 risk_level, sample_indicators, first_seen_at, last_seen_at, is_active)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, TRUE)
		ON DUPLICATE KEY UPDATE
			detection_count = detection_count + 1,
			risk_level = IF(`+newRank+` > `+oldRank+`, VALUES(risk_level), risk_level),
			last_seen_at = VALUES(last_seen_at),
			is_active = TRUE
	`, uuid.New().String(), signature, d.SenderDomain, d.NormalizedSubject,
		string(d.RiskLevel), marshalStrings(mergeSamples(nil, d.Indicators)),
		mysqlTime(now), mysqlTime(now))
	if err != nil {
		return nil, fmt.Errorf("upsert campaign: %w", err)
	}

	var id string
	var samplesRaw sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT id, sample_indicators FROM campaigns WHERE signature = ? FOR UPDATE`,
		signature).Scan(&id, &samplesRaw); err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}

	merged := mergeSamples(unmarshalStrings(samplesRaw.String), d.Indicators)
	if mergedRaw := marshalStrings(merged); mergedRaw != samplesRaw.String {
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET sample_indicators = ? WHERE id = ?`,
			mergedRaw, id); err != nil {
			return nil, fmt.Errorf("update campaign samples: %w", err)
		}
	}

	if d.Recipient != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO campaign_recipients (campaign_id, recipient)
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
	state.FirstSeenAt = parseMySQLTime(first)
	if alertSent.Valid {
		t := parseMySQLTime(alertSent.String)
		state.AlertSentAt = &t
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit campaign tx: %w", err)
	}
	return state, nil
}

// MarkCampaignAlerted stamps alertSentAt on a campaign
func (s *MySQLStore) MarkCampaignAlerted(ctx context.Context, campaignID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET alert_sent_at = ? WHERE id = ?`,
		mysqlTime(time.Now()), campaignID)
	if err != nil {
		return fmt.Errorf("mark campaign alerted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GetCampaignDetails retrieves full campaign state
func (s *MySQLStore) GetCampaignDetails(ctx context.Context, campaignID string) (*core.Campaign, error) {
	var c core.Campaign
	var risk, first, last string
	var samples, alertSent sql.NullString
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
	c.SampleIndicators = unmarshalStrings(samples.String)
	c.FirstSeenAt = parseMySQLTime(first)
	c.LastSeenAt = parseMySQLTime(last)
	if alertSent.Valid {
		t := parseMySQLTime(alertSent.String)
		c.AlertSentAt = &t
	}
	return &c, nil
}

// RecordUsage appends one row to the AI usage ledger
func (s *MySQLStore) RecordUsage(ctx context.Context, u *core.AIUsage) error {
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
		u.EstimatedCost, mysqlTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// CountRecentPhishingByDomain counts phishing analyses from a sender domain
func (s *MySQLStore) CountRecentPhishingByDomain(ctx context.Context, domain string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_analyses
		WHERE is_phishing = TRUE AND from_domain = ? AND created_at >= ?
	`, strings.ToLower(domain), mysqlTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by domain: %w", err)
	}
	return n, nil
}

// CountRecentPhishingBySubjectPhrases counts phishing analyses whose
// subject contains any of the phrases
func (s *MySQLStore) CountRecentPhishingBySubjectPhrases(ctx context.Context, phrases []string, since time.Time) (int, error) {
	if len(phrases) == 0 {
		return 0, nil
	}
	q := `SELECT COUNT(*) FROM email_analyses WHERE is_phishing = TRUE AND created_at >= ? AND (`
	args := []any{mysqlTime(since)}
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
func (s *MySQLStore) CountRecentImpersonation(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_analyses
		WHERE created_at >= ?
		  AND (vip_impersonation = TRUE
		       OR LOWER(indicators) LIKE '%impersonat%'
		       OR LOWER(indicators) LIKE '%spoof%')
	`, mysqlTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count impersonation: %w", err)
	}
	return n, nil
}

// CountRecentPhishingByIndicatorReference counts phishing analyses whose
// stored indicator text references any of the terms
func (s *MySQLStore) CountRecentPhishingByIndicatorReference(ctx context.Context, terms []string, since time.Time) (int, error) {
	if len(terms) == 0 {
		return 0, nil
	}
	q := `SELECT COUNT(*) FROM email_analyses WHERE is_phishing = TRUE AND created_at >= ? AND (`
	args := []any{mysqlTime(since)}
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
