package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"agentindex/internal/domain"
)

// Store implements domain.RecordStore, domain.QueryLog, and domain.KeyStore
// backed by SQLite + FTS5. Every write touches a single record, so batch
// jobs can run concurrently without cross-job locking.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrRecordStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrRecordStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrRecordStore, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh ULID string.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

const agentColumns = `id, source, source_url, source_id, name, description,
	author, license, language, frameworks, tags, capabilities, category,
	invocation, protocols, pricing, quality_score, documentation_score,
	activity_score, popularity_score, capability_depth_score, security_score,
	stars, forks, downloads, lifecycle_state, is_active, is_verified,
	first_indexed, last_crawled, last_source_update, raw_metadata`

// Insert implements domain.RecordStore. Fails with ErrRecordExists on a
// source URL collision — Upsert handles the update path instead.
func (s *Store) Insert(ctx context.Context, rec *domain.AgentRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := time.Now().UTC()
	if rec.FirstIndexedAt.IsZero() {
		rec.FirstIndexedAt = now
	}
	if rec.LastCrawledAt.IsZero() {
		rec.LastCrawledAt = now
	}
	if rec.LifecycleState == "" {
		rec.LifecycleState = domain.StateIndexed
	}

	enc, err := encodeAgent(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		enc...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: source_url %s", domain.ErrRecordExists, rec.SourceURL)
		}
		return fmt.Errorf("%w: insert: %v", domain.ErrRecordStore, err)
	}
	return nil
}

// Update implements domain.RecordStore. The whole mutable state is written
// in one statement, keeping per-record updates atomic.
func (s *Store) Update(ctx context.Context, rec *domain.AgentRecord) error {
	enc, err := encodeAgent(rec)
	if err != nil {
		return err
	}

	// encodeAgent puts id first; rotate it to the WHERE position.
	args := append(enc[1:], enc[0])

	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			source = ?, source_url = ?, source_id = ?, name = ?, description = ?,
			author = ?, license = ?, language = ?, frameworks = ?, tags = ?,
			capabilities = ?, category = ?, invocation = ?, protocols = ?,
			pricing = ?, quality_score = ?, documentation_score = ?,
			activity_score = ?, popularity_score = ?, capability_depth_score = ?,
			security_score = ?, stars = ?, forks = ?, downloads = ?,
			lifecycle_state = ?, is_active = ?, is_verified = ?,
			first_indexed = ?, last_crawled = ?, last_source_update = ?,
			raw_metadata = ?
		WHERE id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("%w: update: %v", domain.ErrRecordStore, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrRecordNotFound, rec.ID)
	}
	return nil
}

// GetByID implements domain.RecordStore.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %s", domain.ErrRecordNotFound, id)
	}
	return rec, err
}

// GetBySourceURL implements domain.RecordStore.
func (s *Store) GetBySourceURL(ctx context.Context, url string) (*domain.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE source_url = ?`, url)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: source_url %s", domain.ErrRecordNotFound, url)
	}
	return rec, err
}

// ListByState implements domain.RecordStore. Most-starred first, so the
// popular records get oracle attention before the long tail.
func (s *Store) ListByState(ctx context.Context, state domain.LifecycleState, limit int) ([]*domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE lifecycle_state = ? ORDER BY stars DESC LIMIT ?`,
		string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list by state: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ListActive implements domain.RecordStore.
func (s *Store) ListActive(ctx context.Context, states []domain.LifecycleState, limit int) ([]*domain.AgentRecord, error) {
	where, args := "is_active = 1", []any{}
	if len(states) > 0 {
		where += " AND lifecycle_state IN (" + placeholders(len(states)) + ")"
		for _, st := range states {
			args = append(args, string(st))
		}
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE `+where+`
		 ORDER BY quality_score DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list active: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ListByIDs implements domain.RecordStore. Only active records that pass
// the filter come back; order is unspecified (the caller re-sorts by
// blended score).
func (s *Store) ListByIDs(ctx context.Context, ids []string, f domain.RecordFilter) ([]*domain.AgentRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	where, args := filterClause(f)
	where += " AND id IN (" + placeholders(len(ids)) + ")"
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list by ids: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// SearchLexical implements domain.RecordStore using FTS5 over
// name/description/category. Queries with FTS5 syntax errors fall back to
// a LIKE scan rather than failing the discovery call.
func (s *Store) SearchLexical(ctx context.Context, need string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, error) {
	where, args := filterClause(f)
	ftsArgs := append([]any{ftsQuote(need)}, args...)
	ftsArgs = append(ftsArgs, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("a")+`
		 FROM agents_fts f
		 JOIN agents a ON a.rowid = f.rowid
		 WHERE agents_fts MATCH ? AND `+qualify(where, "a")+`
		 ORDER BY a.quality_score DESC LIMIT ?`,
		ftsArgs...)
	if err != nil {
		return s.likeSearch(ctx, need, f, limit)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// likeSearch is the fallback when FTS5 MATCH rejects the query text.
func (s *Store) likeSearch(ctx context.Context, need string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, error) {
	where, args := filterClause(f)
	pattern := "%" + need + "%"
	args = append(args, pattern, pattern, pattern, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE `+where+` AND (name LIKE ? OR description LIKE ? OR category LIKE ?)
		 ORDER BY quality_score DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: like search: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// SearchCapability implements domain.RecordStore: a permissive substring
// match over the capability list, the discovery engine's last resort.
func (s *Store) SearchCapability(ctx context.Context, token string, f domain.RecordFilter, limit int) ([]*domain.AgentRecord, error) {
	where, args := filterClause(f)
	args = append(args, "%"+token+"%", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE `+where+` AND capabilities LIKE ?
		 ORDER BY quality_score DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: capability search: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// PopularityMaxima implements domain.RecordStore. Maxima are floored at 1
// so the popularity normalization never divides by zero.
func (s *Store) PopularityMaxima(ctx context.Context) (domain.PopularityMaxima, error) {
	var m domain.PopularityMaxima
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(stars), 0), COALESCE(MAX(downloads), 0), COALESCE(MAX(forks), 0)
		FROM agents WHERE is_active = 1`)
	if err := row.Scan(&m.Stars, &m.Downloads, &m.Forks); err != nil {
		return m, fmt.Errorf("%w: popularity maxima: %v", domain.ErrRecordStore, err)
	}
	if m.Stars < 1 {
		m.Stars = 1
	}
	if m.Downloads < 1 {
		m.Downloads = 1
	}
	if m.Forks < 1 {
		m.Forks = 1
	}
	return m, nil
}

// CountActive implements domain.RecordStore.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE is_active = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count active: %v", domain.ErrRecordStore, err)
	}
	return n, nil
}

// Stats implements domain.RecordStore.
func (s *Store) Stats(ctx context.Context) (*domain.IndexStats, error) {
	stats := &domain.IndexStats{
		ByState:    make(map[domain.LifecycleState]int),
		ByCategory: make(map[string]int),
		BySource:   make(map[domain.SourceKind]int),
		ByProtocol: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents`).Scan(&stats.TotalAgents); err != nil {
		return nil, fmt.Errorf("%w: stats total: %v", domain.ErrRecordStore, err)
	}
	var err error
	stats.ActiveAgents, err = s.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.groupCount(ctx,
		`SELECT lifecycle_state, COUNT(*) FROM agents GROUP BY lifecycle_state`,
		func(key string, n int) { stats.ByState[domain.LifecycleState(key)] = n },
	); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx,
		`SELECT category, COUNT(*) FROM agents WHERE is_active = 1 GROUP BY category`,
		func(key string, n int) {
			if key == "" {
				key = "unknown"
			}
			stats.ByCategory[key] = n
		},
	); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx,
		`SELECT source, COUNT(*) FROM agents GROUP BY source`,
		func(key string, n int) { stats.BySource[domain.SourceKind(key)] = n },
	); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx,
		`SELECT j.value, COUNT(*) FROM agents a, json_each(a.protocols) j
		 WHERE a.is_active = 1 GROUP BY j.value`,
		func(key string, n int) { stats.ByProtocol[key] = n },
	); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, query string, add func(key string, n int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: stats group: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			continue
		}
		add(key, n)
	}
	return rows.Err()
}

// --- filter / scan helpers ---

// filterClause builds the SQL predicate for a discovery filter. The
// active check and lifecycle gate are always present.
func filterClause(f domain.RecordFilter) (string, []any) {
	where := "is_active = 1"
	var args []any

	states := f.States
	if len(states) == 0 {
		states = domain.SearchableStates
	}
	where += " AND lifecycle_state IN (" + placeholders(len(states)) + ")"
	for _, st := range states {
		args = append(args, string(st))
	}

	where += " AND quality_score >= ?"
	args = append(args, f.MinQuality)

	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if len(f.Protocols) > 0 {
		where += ` AND EXISTS (SELECT 1 FROM json_each(protocols)
			WHERE json_each.value IN (` + placeholders(len(f.Protocols)) + `))`
		for _, p := range f.Protocols {
			args = append(args, p)
		}
	}

	return where, args
}

// qualify prefixes bare column references in a filter clause with a table
// alias for use in joined queries.
func qualify(where, alias string) string {
	for _, col := range []string{"is_active", "lifecycle_state", "quality_score", "category", "protocols"} {
		where = strings.ReplaceAll(where, col, alias+"."+col)
	}
	// json_each(a.protocols) is valid; json_each.value must stay bare.
	where = strings.ReplaceAll(where, "json_each."+alias+".value", "json_each.value")
	return where
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ftsQuote wraps each whitespace token in double quotes so user text with
// FTS5 operators ("-", "OR") matches literally.
func ftsQuote(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, ``) + `"`
	}
	return strings.Join(fields, " ")
}

func prefixColumns(alias string) string {
	cols := strings.Split(agentColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// encodeAgent serializes a record into the column value list, id first.
func encodeAgent(rec *domain.AgentRecord) ([]any, error) {
	frameworks, err := json.Marshal(emptyIfNil(rec.Frameworks))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal frameworks: %v", domain.ErrRecordStore, err)
	}
	tags, err := json.Marshal(emptyIfNil(rec.Tags))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal tags: %v", domain.ErrRecordStore, err)
	}
	capabilities, err := json.Marshal(emptyIfNil(rec.Capabilities))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal capabilities: %v", domain.ErrRecordStore, err)
	}
	protocols, err := json.Marshal(emptyIfNil(rec.Protocols))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal protocols: %v", domain.ErrRecordStore, err)
	}
	meta, err := json.Marshal(rec.RawMetadata)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal raw_metadata: %v", domain.ErrRecordStore, err)
	}

	var lastUpdate any
	if rec.LastSourceUpdatedAt != nil {
		lastUpdate = rec.LastSourceUpdatedAt.UTC().Format(time.RFC3339)
	}

	return []any{
		rec.ID,
		string(rec.SourceKind),
		rec.SourceURL,
		rec.SourceLocalID,
		rec.Name,
		rec.Description,
		rec.Author,
		rec.License,
		rec.Language,
		string(frameworks),
		string(tags),
		string(capabilities),
		rec.Category,
		rawOrDefault(rec.Invocation, "{}"),
		string(protocols),
		rawOrDefault(rec.Pricing, "{}"),
		rec.QualityScore,
		rec.DocumentationScore,
		rec.ActivityScore,
		rec.PopularityScore,
		rec.CapabilityDepthScore,
		rec.SecurityScore,
		rec.Stars,
		rec.Forks,
		rec.Downloads,
		string(rec.LifecycleState),
		boolToInt(rec.IsActive),
		boolToInt(rec.IsVerified),
		rec.FirstIndexedAt.UTC().Format(time.RFC3339),
		rec.LastCrawledAt.UTC().Format(time.RFC3339),
		lastUpdate,
		string(meta),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAgent reads one record row. JSON corruption is logged at the caller;
// a scan failure is a retrieval failure.
func scanAgent(row rowScanner) (*domain.AgentRecord, error) {
	var (
		rec          domain.AgentRecord
		source       string
		frameworks   string
		tags         string
		capabilities string
		invocation   string
		protocols    string
		pricing      string
		state        string
		isActive     int
		isVerified   int
		firstIndexed string
		lastCrawled  string
		lastUpdate   sql.NullString
		rawMetadata  string
	)

	err := row.Scan(
		&rec.ID, &source, &rec.SourceURL, &rec.SourceLocalID, &rec.Name,
		&rec.Description, &rec.Author, &rec.License, &rec.Language,
		&frameworks, &tags, &capabilities, &rec.Category, &invocation,
		&protocols, &pricing, &rec.QualityScore, &rec.DocumentationScore,
		&rec.ActivityScore, &rec.PopularityScore, &rec.CapabilityDepthScore,
		&rec.SecurityScore, &rec.Stars, &rec.Forks, &rec.Downloads, &state,
		&isActive, &isVerified, &firstIndexed, &lastCrawled, &lastUpdate,
		&rawMetadata,
	)
	if err != nil {
		return nil, err
	}

	rec.SourceKind = domain.SourceKind(source)
	rec.LifecycleState = domain.LifecycleState(state)
	rec.IsActive = isActive != 0
	rec.IsVerified = isVerified != 0
	rec.Invocation = json.RawMessage(invocation)
	rec.Pricing = json.RawMessage(pricing)

	_ = json.Unmarshal([]byte(frameworks), &rec.Frameworks)
	_ = json.Unmarshal([]byte(tags), &rec.Tags)
	_ = json.Unmarshal([]byte(capabilities), &rec.Capabilities)
	_ = json.Unmarshal([]byte(protocols), &rec.Protocols)
	_ = json.Unmarshal([]byte(rawMetadata), &rec.RawMetadata)

	rec.FirstIndexedAt, _ = time.Parse(time.RFC3339, firstIndexed)
	rec.LastCrawledAt, _ = time.Parse(time.RFC3339, lastCrawled)
	if lastUpdate.Valid && lastUpdate.String != "" {
		if t, err := time.Parse(time.RFC3339, lastUpdate.String); err == nil {
			rec.LastSourceUpdatedAt = &t
		}
	}

	return &rec, nil
}

func scanAgents(rows *sql.Rows) ([]*domain.AgentRecord, error) {
	var out []*domain.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func rawOrDefault(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}
