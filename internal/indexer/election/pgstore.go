package election

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps records in a shared table:
//
//	CREATE TABLE index_claims (
//	    namespace  TEXT        NOT NULL,
//	    key        TEXT        NOT NULL,
//	    owner      TEXT        NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    leader     BOOLEAN     NOT NULL DEFAULT FALSE,
//	    PRIMARY KEY (namespace, key)
//	);
//
// Create is an INSERT ... ON CONFLICT DO NOTHING; the primary key makes it
// atomic across processes.
type PostgresStore struct {
	db        *sql.DB
	namespace string
}

func NewPostgresStore(db *sql.DB, namespace string) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace}
}

// EnsureSchema creates the claims table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_claims (
			namespace  TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			owner      TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			leader     BOOLEAN     NOT NULL DEFAULT FALSE,
			PRIMARY KEY (namespace, key)
		)`)
	if err != nil {
		return fmt.Errorf("creating index_claims: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_claims (namespace, key, owner, created_at, updated_at, leader)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, key) DO UPDATE
		SET owner = EXCLUDED.owner,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at,
		    leader = EXCLUDED.leader`,
		s.namespace, key, rec.Owner, rec.Created.UTC(), rec.Updated.UTC(), rec.Leader)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, key string, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO index_claims (namespace, key, owner, created_at, updated_at, leader)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, key) DO NOTHING`,
		s.namespace, key, rec.Owner, rec.Created.UTC(), rec.Updated.UTC(), rec.Leader)
	if err != nil {
		return false, fmt.Errorf("postgres create %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres create %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, created_at, updated_at, leader
		FROM index_claims WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&rec.Owner, &rec.Created, &rec.Updated, &rec.Leader)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM index_claims WHERE namespace = $1 AND key = $2`, s.namespace, key)
	if err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, owner, created_at, updated_at, leader
		FROM index_claims WHERE namespace = $1 ORDER BY key`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Record.Owner, &e.Record.Created, &e.Record.Updated, &e.Record.Leader); err != nil {
			return nil, fmt.Errorf("scanning claim row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
