package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS corpus_snapshots (
	id            UUID PRIMARY KEY,
	root          TEXT NOT NULL,
	conversations JSONB NOT NULL,
	conversation_count INT NOT NULL,
	inbound_count INT NOT NULL,
	outbound_count INT NOT NULL,
	slot_count    INT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS corpus_snapshots_created_at_idx ON corpus_snapshots (created_at DESC);

CREATE TABLE IF NOT EXISTS snapshot_classifications (
	snapshot_id UUID NOT NULL REFERENCES corpus_snapshots (id) ON DELETE CASCADE,
	direction   TEXT NOT NULL,
	position    INT NOT NULL,
	base_type   TEXT NOT NULL,
	sub_type    TEXT NOT NULL,
	style       TEXT,
	PRIMARY KEY (snapshot_id, direction, position)
);

CREATE TABLE IF NOT EXISTS snapshot_slots (
	snapshot_id UUID NOT NULL REFERENCES corpus_snapshots (id) ON DELETE CASCADE,
	position    INT NOT NULL,
	base_type   TEXT NOT NULL,
	entity      TEXT NOT NULL,
	role        TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);
`

// Migrate creates the snapshot tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
