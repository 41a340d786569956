package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore over a modernc.org/sqlite database,
// using WAL mode and a single-writer connection pool.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ RecordStore = (*SQLiteStore)(nil)

// Open creates or opens a SQLite-backed record store. Pass ":memory:" for an
// in-process, non-durable store (used in tests).
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		category_code TEXT NOT NULL DEFAULT '',
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_records_status ON records(embedding_status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_category ON records(category_code);

	CREATE TABLE IF NOT EXISTS embeddings (
		record_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		model_version TEXT NOT NULL,
		vector BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (record_id, kind, model_version)
	);

	CREATE TABLE IF NOT EXISTS locks (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying *sql.DB for test seeding and maintenance tasks
// that fall outside the RecordStore interface (e.g. schema inspection).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func scanRecord(row interface {
	Scan(dest ...any) error
}) (*Record, error) {
	var r Record
	var kind, status, metaJSON string
	if err := row.Scan(&r.ID, &kind, &r.Title, &r.Body, &r.Summary, &r.CategoryCode, &status, &r.UpdatedAt, &metaJSON); err != nil {
		return nil, err
	}
	r.Kind = normalizeKind(kind)
	r.EmbeddingStatus = EmbeddingStatus(status)
	r.Metadata = decodeMetadata(metaJSON)
	return &r, nil
}

func decodeMetadata(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]string{}
	}
	return m
}

const recordColumns = "id, kind, title, body, summary, category_code, embedding_status, updated_at, metadata"

func (s *SQLiteStore) GetRecord(ctx context.Context, id string, kind Kind) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kindClause := `kind = ?`
	if kind == KindSkill {
		// Rows stored under the legacy "manual" alias are skills too.
		kindClause = `kind IN (?, 'manual')`
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ? AND `+kindClause, id, string(kind))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

func (s *SQLiteStore) listByStatus(ctx context.Context, status EmbeddingStatus, kind *Kind, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM records WHERE embedding_status = ?`
	args := []any{string(status)}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY updated_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPending(ctx context.Context, kind *Kind, limit int) ([]*Record, error) {
	return s.listByStatus(ctx, StatusPending, kind, limit)
}

func (s *SQLiteStore) ListFailed(ctx context.Context, kind *Kind, limit int) ([]*Record, error) {
	return s.listByStatus(ctx, StatusFailed, kind, limit)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, kind Kind, status EmbeddingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET embedding_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND kind = ?`,
		string(status), id, string(kind))
	return classify(err)
}

func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, id string, kind Kind, vec []float32, modelVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := encodeVector(vec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (record_id, kind, model_version, vector, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (record_id, kind, model_version)
		 DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at`,
		id, string(kind), modelVersion, blob)
	return classify(err)
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string, kind Kind, modelVersion string) (*EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE record_id = ? AND kind = ? AND model_version = ?`,
		id, string(kind), modelVersion).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &EmbeddingRow{RecordID: id, Kind: kind, ModelVersion: modelVersion, Vector: decodeVector(blob)}, nil
}

func (s *SQLiteStore) ListEmbeddings(ctx context.Context, modelVersion string) ([]*EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, kind, vector FROM embeddings WHERE model_version = ? ORDER BY kind, record_id`,
		modelVersion)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*EmbeddingRow
	for rows.Next() {
		var recordID, kind string
		var blob []byte
		if err := rows.Scan(&recordID, &kind, &blob); err != nil {
			return nil, classify(err)
		}
		out = append(out, &EmbeddingRow{
			RecordID:     recordID,
			Kind:         normalizeKind(kind),
			ModelVersion: modelVersion,
			Vector:       decodeVector(blob),
		})
	}
	return out, rows.Err()
}

// SearchText matches rows where title, body, or summary contains fullQuery
// or any token, case-insensitively, ordered by updated_at descending.
func (s *SQLiteStore) SearchText(ctx context.Context, tokens []string, fullQuery string, kind *Kind, category *string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []any

	addLike := func(needle string) {
		clauses = append(clauses, `(LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR LOWER(summary) LIKE ?)`)
		pattern := "%" + strings.ToLower(needle) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	if strings.TrimSpace(fullQuery) != "" {
		addLike(fullQuery)
	}
	for _, t := range tokens {
		if strings.TrimSpace(t) != "" {
			addLike(t)
		}
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE (` + strings.Join(clauses, " OR ") + `)`
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*kind))
	}
	if category != nil {
		query += ` AND category_code = ?`
		args = append(args, *category)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) findByTitle(ctx context.Context, titleClause, pattern string, kind Kind, category *string, excludeID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM records WHERE kind = ? AND ` + titleClause
	args := []any{string(kind), pattern}
	if category != nil {
		query += ` AND category_code = ?`
		args = append(args, *category)
	}
	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindByExactTitle(ctx context.Context, title string, kind Kind, category *string, excludeID string) ([]*Record, error) {
	return s.findByTitle(ctx, `LOWER(title) = LOWER(?)`, title, kind, category, excludeID)
}

func (s *SQLiteStore) FindByTitleSubstring(ctx context.Context, title string, kind Kind, category *string, excludeID string) ([]*Record, error) {
	return s.findByTitle(ctx, `LOWER(title) LIKE LOWER(?)`, "%"+title+"%", kind, category, excludeID)
}

// AcquireLease implements the insert-if-absent / take-over-if-expired CAS
// rule: it never blindly overwrites a live foreign lease.
func (s *SQLiteStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (*Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	expires := now.Add(ttl)

	var owner0 string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM locks WHERE name = ?`, name).Scan(&owner0, &expiresAt)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO locks (name, owner, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			name, owner, now, expires)
		if err != nil {
			return nil, false, nil // insert conflict: became a follower
		}
	case err != nil:
		return nil, false, classify(err)
	default:
		if owner0 != owner && expiresAt.After(now) {
			return nil, false, nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE locks SET owner = ?, expires_at = ? WHERE name = ?`,
			owner, expires, name)
		if err != nil {
			return nil, false, classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, classify(err)
	}

	return &Lease{Name: name, Owner: owner, CreatedAt: now, ExpiresAt: expires}, true, nil
}

func (s *SQLiteStore) GetLease(ctx context.Context, name string) (*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l Lease
	l.Name = name
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, created_at, expires_at FROM locks WHERE name = ?`, name).
		Scan(&l.Owner, &l.CreatedAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &l, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, name, owner)
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if isBusyErr(err) {
		return transientStoreError(err)
	}
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
