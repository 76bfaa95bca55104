package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event records a mutation for the board history.
type Event struct {
	Op     string    `json:"op"`
	CardID string    `json:"cardId"`
	Column string    `json:"column,omitempty"`
	At     time.Time `json:"at"`
}

// Store persists boards. Load reports false when the board was never saved.
type Store interface {
	Load(ctx context.Context, name string) (Board, bool, error)
	Save(ctx context.Context, b Board, ev Event) error
	History(ctx context.Context, name string, limit int) ([]Event, error)
	Ping(ctx context.Context) error
}

const redisHistoryLen = 200

// RedisStore keeps each board as one JSON document plus a capped event list.
type RedisStore struct {
	R      *redis.Client
	Prefix string
}

func (s RedisStore) key(name string) string {
	if s.Prefix == "" {
		return "board:" + name
	}
	return s.Prefix + ":board:" + name
}

// Load implements Store.
func (s RedisStore) Load(ctx context.Context, name string) (Board, bool, error) {
	data, err := s.R.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Board{}, false, nil
		}
		return Board{}, false, fmt.Errorf("board redis load: %w", err)
	}
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return Board{}, false, fmt.Errorf("board redis decode: %w", err)
	}
	return b, true, nil
}

// Save implements Store.
func (s RedisStore) Save(ctx context.Context, b Board, ev Event) error {
	state, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("board redis encode: %w", err)
	}
	event, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("board redis encode event: %w", err)
	}
	histKey := s.key(b.Name) + ":events"
	_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(b.Name), state, 0)
		p.LPush(ctx, histKey, event)
		p.LTrim(ctx, histKey, 0, redisHistoryLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("board redis save: %w", err)
	}
	return nil
}

// History implements Store, newest first.
func (s RedisStore) History(ctx context.Context, name string, limit int) ([]Event, error) {
	if limit <= 0 || limit > redisHistoryLen {
		limit = redisHistoryLen
	}
	raw, err := s.R.LRange(ctx, s.key(name)+":events", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("board redis history: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Ping implements Store.
func (s RedisStore) Ping(ctx context.Context) error {
	return s.R.Ping(ctx).Err()
}
