package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS mint_ledger (
    key TEXT PRIMARY KEY,
    tx_hash TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    gas_used BIGINT NOT NULL,
    attempt_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    pending BOOLEAN NOT NULL DEFAULT FALSE
);
ALTER TABLE mint_ledger ADD COLUMN IF NOT EXISTS pending BOOLEAN NOT NULL DEFAULT FALSE;
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT tx_hash, block_number, gas_used, attempt_id, created_at, pending
FROM mint_ledger
WHERE key = $1
`, key)

	var (
		rec     Record
		block   int64
		gasUsed int64
	)
	if err := row.Scan(&rec.TxHash, &block, &gasUsed, &rec.AttemptID, &rec.CreatedAt, &rec.Pending); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Block = uint64(block)
	rec.GasUsed = uint64(gasUsed)
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO mint_ledger (key, tx_hash, block_number, gas_used, attempt_id, created_at, pending)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (key) DO UPDATE
SET tx_hash = EXCLUDED.tx_hash,
    block_number = EXCLUDED.block_number,
    gas_used = EXCLUDED.gas_used,
    attempt_id = EXCLUDED.attempt_id,
    created_at = EXCLUDED.created_at,
    pending = EXCLUDED.pending
`, key, record.TxHash, int64(record.Block), int64(record.GasUsed), record.AttemptID, record.CreatedAt, record.Pending)
	return err
}
