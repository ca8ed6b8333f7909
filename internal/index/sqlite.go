package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLiteIndex keeps vectors as little-endian float32 blobs in a SQLite table
// and answers queries with a brute-force cosine scan. It is the default
// backend and shares the database file with the raw-answer store.
type SQLiteIndex struct {
	db    *sql.DB
	table string
}

// NewSQLite wraps db and creates the index table and its metadata row if
// they do not exist yet.
func NewSQLite(db *sql.DB, table string) (*SQLiteIndex, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidArgument, table)
	}
	s := &SQLiteIndex{db: db, table: table}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteIndex) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_meta (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("creating index schema: %w", err)
		}
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteIndex) dimension(ctx context.Context, q queryRower) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM index_meta WHERE name = ?`, s.table).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index dimension: %w", err)
	}
	return dim, nil
}

// Upsert writes e in one transaction together with the dimension check.
func (s *SQLiteIndex) Upsert(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	payload, err := json.Marshal(payloadOrEmpty(e.Payload))
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", e.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	dim, err := s.dimension(ctx, tx)
	if err != nil {
		return err
	}
	if err := checkDimension(dim, len(e.Vector)); err != nil {
		return err
	}
	if dim == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_meta (name, dimension) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET dimension = excluded.dimension`,
			s.table, len(e.Vector)); err != nil {
			return fmt.Errorf("recording index dimension: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+s.table+` (id, embedding, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		e.ID, encodeFloat32s(e.Vector), string(payload), now, now); err != nil {
		return fmt.Errorf("upserting %s: %w", e.ID, err)
	}

	return tx.Commit()
}

// Search scans every stored vector, keeping the best k that clear threshold,
// then loads payloads for the winners only.
func (s *SQLiteIndex) Search(ctx context.Context, query []float32, k int, threshold float32) ([]Scored, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}
	dim, err := s.dimension(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if err := checkDimension(dim, len(query)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM `+s.table)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	queryNorm := norm(query)
	best := newTopK(k)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		if len(buf) != len(query) {
			rows.Close()
			return nil, fmt.Errorf("%w: stored entry %s has %d", ErrDimensionMismatch, id, len(buf))
		}
		if score := cosine(query, buf, queryNorm); score >= threshold {
			best.offer(idScore{ID: id, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	winners := best.drain()
	if len(winners) == 0 {
		return nil, nil
	}
	return s.hydrate(ctx, winners)
}

func (s *SQLiteIndex) hydrate(ctx context.Context, winners []idScore) ([]Scored, error) {
	args := make([]any, len(winners))
	for i, w := range winners {
		args[i] = w.ID
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload, updated_at FROM `+s.table+
		` WHERE id IN (?`+strings.Repeat(",?", len(winners)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-k payloads: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Entry, len(winners))
	for rows.Next() {
		var e Entry
		var payload, updatedAt string
		if err := rows.Scan(&e.ID, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning payload row: %w", err)
		}
		if err := decodeRow(&e, payload, updatedAt); err != nil {
			return nil, err
		}
		loaded[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payload rows: %w", err)
	}

	results := make([]Scored, 0, len(winners))
	for _, w := range winners {
		e, ok := loaded[w.ID]
		if !ok {
			// Deleted between the scan and the payload fetch.
			continue
		}
		results = append(results, Scored{Entry: e, Score: w.Score})
	}
	return results, nil
}

// Get returns the entry for id, vector included.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	var blob []byte
	var payload, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, embedding, payload, updated_at FROM `+s.table+` WHERE id = ?`, id).
		Scan(&e.ID, &blob, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("getting %s: %w", id, err)
	}
	if e.Vector, err = decodeFloat32sInto(nil, blob); err != nil {
		return Entry{}, fmt.Errorf("decoding embedding for %s: %w", id, err)
	}
	if err := decodeRow(&e, payload, updatedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Delete removes the entry for id.
func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
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

// Count returns the number of stored entries.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n)
	return n, err
}

// Dimension returns the recorded vector length.
func (s *SQLiteIndex) Dimension(ctx context.Context) (int, error) {
	return s.dimension(ctx, s.db)
}

// Reset empties the table and forgets the dimension.
func (s *SQLiteIndex) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table); err != nil {
		return fmt.Errorf("clearing %s: %w", s.table, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta WHERE name = ?`, s.table); err != nil {
		return fmt.Errorf("clearing index dimension: %w", err)
	}
	return tx.Commit()
}

func decodeRow(e *Entry, payload, updatedAt string) error {
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return fmt.Errorf("decoding payload for %s: %w", e.ID, err)
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return fmt.Errorf("parsing updated_at for %s: %w", e.ID, err)
	}
	e.UpdatedAt = t
	return nil
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
