package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/politone/internal"
)

// ErrNotFound is returned when a row addressed by ID does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// between the server's request goroutines and the cache sweeper.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transform_requests (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		persona TEXT NOT NULL,
		contexts TEXT NOT NULL,
		tone_level TEXT NOT NULL,
		source_text TEXT NOT NULL,
		user_prompt TEXT,
		partial BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transform_results (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		transformed_text TEXT NOT NULL,
		risk_flags TEXT,
		attempts INTEGER,
		tier INTEGER,
		model TEXT,
		cached BOOLEAN DEFAULT FALSE,
		latency_ms INTEGER,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (request_id) REFERENCES transform_requests(id)
	);

	-- result_cache holds finished transformations keyed by request fingerprint
	CREATE TABLE IF NOT EXISTS result_cache (
		fingerprint TEXT PRIMARY KEY,
		persona TEXT NOT NULL,
		tone_level TEXT NOT NULL,
		source_text TEXT NOT NULL,
		transformed_text TEXT NOT NULL,
		analysis_context TEXT,
		risk_flags TEXT,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		expires_at INTEGER NOT NULL,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- locked_terms are user-registered expressions masked in every request
	CREATE TABLE IF NOT EXISTS locked_terms (
		id TEXT PRIMARY KEY,
		term TEXT NOT NULL UNIQUE,
		note TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_results_request ON transform_results(request_id);
	CREATE INDEX IF NOT EXISTS idx_requests_fingerprint ON transform_requests(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_cache_expiry ON result_cache(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveRequest(ctx context.Context, rec internal.TransformRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transform_requests (id, fingerprint, persona, contexts, tone_level, source_text, user_prompt, partial, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.Persona, rec.Contexts, rec.ToneLevel, normalizeText(rec.SourceText), rec.UserPrompt, rec.Partial, rec.Timestamp)
	return err
}

// ResultRecord is the outcome of one served request.
type ResultRecord struct {
	RequestID       string
	TransformedText string
	RiskFlags       []string
	Attempts        int
	Tier            int
	Model           string
	Cached          bool
	LatencyMs       int64
	Error           string
}

func (s *Store) SaveResult(ctx context.Context, r ResultRecord) error {
	flags, err := encodeFlags(r.RiskFlags)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s_result", r.RequestID)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transform_results (id, request_id, transformed_text, risk_flags, attempts, tier, model, cached, latency_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.RequestID, r.TransformedText, flags, r.Attempts, r.Tier, r.Model, r.Cached, r.LatencyMs, r.Error)
	return err
}

// HistoryEntry joins a request with its result. Result fields are empty for
// requests that never completed.
type HistoryEntry struct {
	Request         internal.TransformRecord
	TransformedText string
	RiskFlags       []string
	Attempts        int
	Tier            int
	Cached          bool
	LatencyMs       int64
	Error           string
}

// ListHistory returns the most recent requests first. limit ≤ 0 means no
// limit.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT q.id, q.fingerprint, q.persona, q.contexts, q.tone_level, q.source_text,
			COALESCE(q.user_prompt, ''), q.partial, q.created_at,
			COALESCE(r.transformed_text, ''), COALESCE(r.risk_flags, ''), COALESCE(r.attempts, 0),
			COALESCE(r.tier, 0), COALESCE(r.cached, FALSE), COALESCE(r.latency_ms, 0), COALESCE(r.error, '')
		FROM transform_requests q
		LEFT JOIN transform_results r ON r.request_id = q.id
		ORDER BY q.created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var flags string
		if err := rows.Scan(&e.Request.ID, &e.Request.Fingerprint, &e.Request.Persona, &e.Request.Contexts,
			&e.Request.ToneLevel, &e.Request.SourceText, &e.Request.UserPrompt, &e.Request.Partial, &e.Request.Timestamp,
			&e.TransformedText, &flags, &e.Attempts, &e.Tier, &e.Cached, &e.LatencyMs, &e.Error); err != nil {
			return nil, err
		}
		if e.RiskFlags, err = decodeFlags(flags); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CacheEntry is a row from the result_cache table.
type CacheEntry struct {
	Fingerprint string
	Persona     string
	ToneLevel   string
	SourceText  string
	Result      internal.TransformResult
	UsageCount  int
	Invalidated bool
	ExpiresAt   time.Time
	LastUsed    time.Time
}

// CacheStats summarises result cache usage.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	ExpiredEntries int
	TotalUsage     int
}

// GetCached returns the live cache entry for fingerprint. Invalidated and
// expired rows are reported as misses. A hit bumps the usage counter.
func (s *Store) GetCached(ctx context.Context, fingerprint string, now time.Time) (*internal.TransformResult, bool, error) {
	var (
		text, flags string
		analysis    sql.NullString
		invalidated bool
		expiresAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT transformed_text, analysis_context, COALESCE(risk_flags, ''), invalidated, expires_at FROM result_cache WHERE fingerprint = ?`,
		fingerprint).Scan(&text, &analysis, &flags, &invalidated, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if invalidated || expiresAt <= now.UnixMilli() {
		return nil, false, nil
	}

	res := &internal.TransformResult{TransformedText: text}
	if analysis.Valid {
		res.AnalysisContext = &analysis.String
	}
	if res.RiskFlags, err = decodeFlags(flags); err != nil {
		return nil, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE result_cache SET usage_count = usage_count + 1, last_used = ? WHERE fingerprint = ?`,
		now, fingerprint)
	return res, true, err
}

// SaveCached stores res under fingerprint until expiresAt, replacing any
// previous row.
func (s *Store) SaveCached(ctx context.Context, fingerprint string, req internal.TransformRequest, res internal.TransformResult, expiresAt time.Time) error {
	flags, err := encodeFlags(res.RiskFlags)
	if err != nil {
		return err
	}
	var analysis sql.NullString
	if res.AnalysisContext != nil {
		analysis = sql.NullString{String: *res.AnalysisContext, Valid: true}
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO result_cache (fingerprint, persona, tone_level, source_text, transformed_text, analysis_context, risk_flags, usage_count, invalidated, expires_at, last_used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, 1, FALSE, ?, ?, ?)`,
		fingerprint, string(req.Persona), string(req.ToneLevel), normalizeText(req.OriginalText), res.TransformedText, analysis, flags, expiresAt.UnixMilli(), now, now)
	return err
}

func (s *Store) InvalidateCached(ctx context.Context, fingerprint string) error {
	return s.execOne(ctx, `UPDATE result_cache SET invalidated = TRUE WHERE fingerprint = ?`, fingerprint)
}

// DeleteCached permanently removes a cache entry.
func (s *Store) DeleteCached(ctx context.Context, fingerprint string) error {
	return s.execOne(ctx, `DELETE FROM result_cache WHERE fingerprint = ?`, fingerprint)
}

// ClearCache removes all cache entries.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM result_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired removes entries that expired at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM result_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListCache returns all cache entries ordered by most recently used.
func (s *Store) ListCache(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, persona, tone_level, source_text, transformed_text, analysis_context, COALESCE(risk_flags, ''), usage_count, invalidated, expires_at, last_used FROM result_cache ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		var (
			e         CacheEntry
			analysis  sql.NullString
			flags     string
			expiresAt int64
		)
		if err := rows.Scan(&e.Fingerprint, &e.Persona, &e.ToneLevel, &e.SourceText, &e.Result.TransformedText,
			&analysis, &flags, &e.UsageCount, &e.Invalidated, &expiresAt, &e.LastUsed); err != nil {
			return nil, err
		}
		if analysis.Valid {
			e.Result.AnalysisContext = &analysis.String
		}
		if e.Result.RiskFlags, err = decodeFlags(flags); err != nil {
			return nil, err
		}
		e.ExpiresAt = time.UnixMilli(expiresAt)
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the result cache as of now.
func (s *Store) Stats(ctx context.Context, now time.Time) (*CacheStats, error) {
	stats := &CacheStats{}
	cutoff := now.UnixMilli()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated AND expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM result_cache`, cutoff, cutoff).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.ExpiredEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// LockedTerm is a row in the locked_terms table.
type LockedTerm struct {
	ID        string
	Term      string
	Note      string
	CreatedAt time.Time
}

// AddLockedTerm registers term and returns its ID. Registering an existing
// term replaces its note.
func (s *Store) AddLockedTerm(ctx context.Context, term, note string) (string, error) {
	term = normalizeText(term)
	if term == "" {
		return "", errors.New("term must not be empty")
	}
	id := fmt.Sprintf("lt_%d", time.Now().UnixNano())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locked_terms (id, term, note) VALUES (?, ?, ?)
		 ON CONFLICT(term) DO UPDATE SET note = excluded.note`,
		id, term, note)
	if err != nil {
		return "", err
	}
	err = s.db.QueryRowContext(ctx, `SELECT id FROM locked_terms WHERE term = ?`, term).Scan(&id)
	return id, err
}

// ListLockedTerms returns all registered terms ordered by term.
func (s *Store) ListLockedTerms(ctx context.Context) ([]LockedTerm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, term, COALESCE(note, ''), created_at FROM locked_terms ORDER BY term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []LockedTerm
	for rows.Next() {
		var t LockedTerm
		if err := rows.Scan(&t.ID, &t.Term, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// LockedTerms returns the registered term texts, ready for masking.
func (s *Store) LockedTerms(ctx context.Context) ([]string, error) {
	terms, err := s.ListLockedTerms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, t.Term)
	}
	return out, nil
}

// DeleteLockedTerm removes a term by ID or by its text.
func (s *Store) DeleteLockedTerm(ctx context.Context, idOrTerm string) error {
	return s.execOne(ctx, `DELETE FROM locked_terms WHERE id = ? OR term = ?`, idOrTerm, normalizeText(idOrTerm))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// execOne runs a statement expected to touch at least one row.
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// so composed and decomposed Hangul compare equal.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func encodeFlags(flags []string) (string, error) {
	if len(flags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(flags)
	if err != nil {
		return "", fmt.Errorf("encode risk flags: %w", err)
	}
	return string(b), nil
}

func decodeFlags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var flags []string
	if err := json.Unmarshal([]byte(s), &flags); err != nil {
		return nil, fmt.Errorf("decode risk flags: %w", err)
	}
	return flags, nil
}
