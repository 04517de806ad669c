package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
)

// ErrNoSnapshot is returned by LatestSnapshot when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// SnapshotRow is the header of a stored scan.
type SnapshotRow struct {
	ID                uuid.UUID `json:"id"`
	Root              string    `json:"root"`
	ConversationCount int       `json:"conversations"`
	InboundCount      int       `json:"inbound"`
	OutboundCount     int       `json:"outbound"`
	SlotCount         int       `json:"slots"`
	CreatedAt         time.Time `json:"created_at"`
}

// SaveSnapshot writes a successful scan in a single transaction.
// Tables: corpus_snapshots, snapshot_classifications, snapshot_slots.
// Index entries keep their corpus position.
func (s *Store) SaveSnapshot(ctx context.Context, scanID uuid.UUID, root string, corpus *conversation.Corpus) error {
	convs, err := json.Marshal(corpus.Conversations)
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO corpus_snapshots (id, root, conversations, conversation_count, inbound_count, outbound_count, slot_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		scanID, root, json.RawMessage(convs),
		len(corpus.Conversations),
		len(corpus.Classifications.Inbound),
		len(corpus.Classifications.Outbound),
		len(corpus.Slots),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	indexes := []struct {
		direction conversation.Direction
		items     []conversation.Classification
	}{
		{conversation.Inbound, corpus.Classifications.Inbound},
		{conversation.Outbound, corpus.Classifications.Outbound},
	}
	for _, idx := range indexes {
		for pos, c := range idx.items {
			var style *string
			if c.Style != nil {
				style = &c.Style.Value
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO snapshot_classifications (snapshot_id, direction, position, base_type, sub_type, style)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				scanID, string(idx.direction), pos, c.BaseType.Value, c.SubType.Value, style,
			)
			if err != nil {
				return fmt.Errorf("insert %s classification: %w", idx.direction, err)
			}
		}
	}

	for pos, slot := range corpus.Slots {
		_, err = tx.Exec(ctx, `
			INSERT INTO snapshot_slots (snapshot_id, position, base_type, entity, role)
			VALUES ($1, $2, $3, $4, $5)`,
			scanID, pos, slot.BaseType, slot.Entity, slot.Role,
		)
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LatestSnapshot fetches the header of the most recent snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*SnapshotRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, root, conversation_count, inbound_count, outbound_count, slot_count, created_at
		FROM corpus_snapshots
		ORDER BY created_at DESC
		LIMIT 1`)

	var r SnapshotRow
	err := row.Scan(&r.ID, &r.Root, &r.ConversationCount, &r.InboundCount, &r.OutboundCount, &r.SlotCount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SnapshotClassifications returns one direction's index of a snapshot in corpus order.
func (s *Store) SnapshotClassifications(ctx context.Context, snapshotID uuid.UUID, direction conversation.Direction) ([]conversation.Classification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT base_type, sub_type, style
		FROM snapshot_classifications
		WHERE snapshot_id = $1 AND direction = $2
		ORDER BY position`,
		snapshotID, string(direction),
	)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	out := []conversation.Classification{}
	for rows.Next() {
		var (
			c     conversation.Classification
			style *string
		)
		if err := rows.Scan(&c.BaseType.Value, &c.SubType.Value, &style); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		if style != nil {
			c.Style = &conversation.Value{Value: *style}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
