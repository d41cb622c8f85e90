package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps watermarks in a Postgres table, one row per
// (source, dataset). Monotonicity is enforced in SQL so concurrent
// collectors cannot rewind each other.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects via the pgx stdlib driver and ensures the
// schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres state store: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTable(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureTable(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collector_watermarks (
  source text NOT NULL,
  dataset text NOT NULL,
  watermark text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (source, dataset)
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *PostgresStore) GetWatermark(ctx context.Context, source, dataset string) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT watermark FROM collector_watermarks WHERE source=$1 AND dataset=$2`,
		source, dataset).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return cursor, true, nil
}

func (s *PostgresStore) AdvanceWatermark(ctx context.Context, source, dataset, cursor string) error {
	if cursor == "" {
		return nil
	}
	// GREATEST keeps the stored cursor when the incoming one is older.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO collector_watermarks (source, dataset, watermark, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (source, dataset)
DO UPDATE SET watermark = GREATEST(collector_watermarks.watermark, EXCLUDED.watermark), updated_at = now()`,
		source, dataset, cursor)
	return err
}

func (s *PostgresStore) Flush(ctx context.Context) error {
	// Writes are immediate; nothing buffered.
	return ctx.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
