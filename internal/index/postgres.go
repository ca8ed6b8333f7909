package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

var _ Index = (*PostgresIndex)(nil)

// PostgresIndex stores entries in a pgvector column and lets the database
// rank them with the cosine distance operator.
type PostgresIndex struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects to dsn, enables the vector extension and creates the
// index table when missing. The vector column is left untyped; the dimension
// is enforced through index_meta the same way the SQLite backend does it.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresIndex, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidArgument, table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	p := &PostgresIndex{db: db, table: table}
	if err := p.initTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresIndex) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table),
		`CREATE TABLE IF NOT EXISTS index_meta (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initializing postgres index: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresIndex) Close() error {
	return p.db.Close()
}

func (p *PostgresIndex) Upsert(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	payload, err := json.Marshal(payloadOrEmpty(e.Payload))
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", e.ID, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	// The first writer records the dimension; the row lock serializes
	// concurrent first writes with different lengths.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		p.table, len(e.Vector)); err != nil {
		return fmt.Errorf("recording index dimension: %w", err)
	}
	var dim int
	if err := tx.QueryRowContext(ctx,
		`SELECT dimension FROM index_meta WHERE name = $1 FOR UPDATE`, p.table).Scan(&dim); err != nil {
		return fmt.Errorf("reading index dimension: %w", err)
	}
	if err := checkDimension(dim, len(e.Vector)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = now()`, p.table),
		e.ID, vectorToString(e.Vector), string(payload)); err != nil {
		return fmt.Errorf("upserting %s: %w", e.ID, err)
	}
	return tx.Commit()
}

func (p *PostgresIndex) Search(ctx context.Context, query []float32, k int, threshold float32) ([]Scored, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}
	dim, err := p.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if err := checkDimension(dim, len(query)); err != nil {
		return nil, err
	}

	// <=> is cosine distance, so similarity is 1 - distance. pgvector
	// returns NaN for a zero vector, which Postgres sorts above every
	// number; score it 0 like the other backends.
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, payload, updated_at, score FROM (
			SELECT id, payload, updated_at,
				CASE WHEN d = 'NaN'::float8 THEN 0 ELSE 1 - d END AS score
			FROM (SELECT id, payload, updated_at, embedding <=> $1 AS d FROM %s) AS dist
		) AS scored
		WHERE score >= $2
		ORDER BY score DESC, id ASC
		LIMIT $3`, p.table),
		vectorToString(query), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", p.table, err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var s Scored
		var payload []byte
		var score float64
		if err := rows.Scan(&s.ID, &payload, &s.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(payload, &s.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for %s: %w", s.ID, err)
		}
		s.Score = float32(score)
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	// float64 scores can tie after narrowing to float32.
	sortScored(results)
	return results, nil
}

func (p *PostgresIndex) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	var vec string
	var payload []byte
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, embedding::text, payload, updated_at FROM %s WHERE id = $1`, p.table), id).
		Scan(&e.ID, &vec, &payload, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("getting %s: %w", id, err)
	}
	if e.Vector, err = parseVector(vec); err != nil {
		return Entry{}, fmt.Errorf("decoding embedding for %s: %w", id, err)
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return Entry{}, fmt.Errorf("decoding payload for %s: %w", id, err)
	}
	return e, nil
}

func (p *PostgresIndex) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.table), id)
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

func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n)
	return n, err
}

func (p *PostgresIndex) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := p.db.QueryRowContext(ctx, `SELECT dimension FROM index_meta WHERE name = $1`, p.table).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index dimension: %w", err)
	}
	return dim, nil
}

func (p *PostgresIndex) Reset(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, p.table)); err != nil {
		return fmt.Errorf("truncating %s: %w", p.table, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta WHERE name = $1`, p.table); err != nil {
		return fmt.Errorf("clearing index dimension: %w", err)
	}
	return tx.Commit()
}

// vectorToString renders v in pgvector's text input format: "[0.1,0.2,...]".
func vectorToString(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
