package board_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/board"
	"github.com/covasa/backoffice/internal/platform/db"
)

// newPostgresStore connects to TEST_DATABASE_URL and applies migrations.
func newPostgresStore(t *testing.T) board.PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(dsn))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return board.PostgresStore{Pool: pool}
}

func TestPostgresStoreRoundTripAndHistory(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	name := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.Pool.Exec(context.Background(), `DELETE FROM boards WHERE name = $1`, name)
	})

	_, ok, err := store.Load(ctx, name)
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Now().UTC().Truncate(time.Millisecond)
	b := board.Board{
		Name:      name,
		Columns:   []string{"nueva", "enviada"},
		Cards:     []board.Card{{ID: "c-1", Title: "COT-0001", Column: "nueva", CreatedAt: at, UpdatedAt: at}},
		UpdatedAt: at,
	}
	require.NoError(t, store.Save(ctx, b, board.Event{Op: "add", CardID: "c-1", Column: "nueva", At: at}))

	b.Cards[0].Column = "enviada"
	b.UpdatedAt = at.Add(time.Second)
	require.NoError(t, store.Save(ctx, b, board.Event{Op: "move", CardID: "c-1", Column: "enviada", At: at.Add(time.Second)}))

	loaded, ok, err := store.Load(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "enviada", loaded.Cards[0].Column)
	require.Equal(t, []string{"nueva", "enviada"}, loaded.Columns)

	history, err := store.History(ctx, name, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "move", history[0].Op)
	require.Equal(t, "enviada", history[0].Column)
	require.Equal(t, "add", history[1].Op)
	require.Equal(t, "c-1", history[1].CardID)
	require.True(t, history[1].At.Equal(at))

	require.NoError(t, store.Ping(ctx))
}
