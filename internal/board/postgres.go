package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covasa/backoffice/internal/platform/db"
)

// PostgresStore keeps boards in the boards table as jsonb and appends every
// mutation to board_events in the same transaction.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// Load implements Store.
func (s PostgresStore) Load(ctx context.Context, name string) (Board, bool, error) {
	var state []byte
	err := s.Pool.QueryRow(ctx, `SELECT state FROM boards WHERE name = $1`, name).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Board{}, false, nil
		}
		return Board{}, false, fmt.Errorf("board pg load: %w", err)
	}
	var b Board
	if err := json.Unmarshal(state, &b); err != nil {
		return Board{}, false, fmt.Errorf("board pg decode: %w", err)
	}
	return b, true, nil
}

// Save implements Store.
func (s PostgresStore) Save(ctx context.Context, b Board, ev Event) error {
	state, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("board pg encode: %w", err)
	}
	payload, err := json.Marshal(map[string]string{"column": ev.Column})
	if err != nil {
		return fmt.Errorf("board pg encode event: %w", err)
	}
	return db.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO boards (name, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, version = boards.version + 1, updated_at = EXCLUDED.updated_at`,
			b.Name, state, b.UpdatedAt); err != nil {
			return fmt.Errorf("board pg upsert: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO board_events (board, op, card_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
			b.Name, ev.Op, ev.CardID, payload, ev.At); err != nil {
			return fmt.Errorf("board pg event: %w", err)
		}
		return nil
	})
}

// History implements Store, newest first.
func (s PostgresStore) History(ctx context.Context, name string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.Pool.Query(ctx, `SELECT op, card_id, COALESCE(payload->>'column', ''), created_at
FROM board_events WHERE board = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("board pg history: %w", err)
	}
	defer rows.Close()
	events := make([]Event, 0)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Op, &ev.CardID, &ev.Column, &ev.At); err != nil {
			return nil, fmt.Errorf("board pg history scan: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping implements Store.
func (s PostgresStore) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}
