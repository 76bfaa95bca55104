package board

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func positions(b *Board, col string) map[string]int {
	out := map[string]int{}
	for _, c := range b.Cards {
		if c.Column == col {
			out[c.ID] = c.Position
		}
	}
	return out
}

func seeded(t *testing.T) Board {
	t.Helper()
	b, err := New(Quotes)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		b.add(Card{ID: id, Title: id, Column: "nueva"}, 99)
	}
	return b
}

func TestAddAppendsAndInserts(t *testing.T) {
	b := seeded(t)
	require.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, positions(&b, "nueva"))

	b.add(Card{ID: "d", Title: "d", Column: "nueva"}, 1)
	require.Equal(t, []string{"a", "d", "b", "c"}, b.column("nueva"))

	b.add(Card{ID: "e", Title: "e", Column: "nueva"}, -5)
	require.Equal(t, "e", b.column("nueva")[0])
}

func TestMoveAcrossColumnsKeepsBothDense(t *testing.T) {
	b := seeded(t)
	require.NoError(t, b.move("b", "enviada", 10))

	require.Equal(t, []string{"a", "c"}, b.column("nueva"))
	require.Equal(t, map[string]int{"a": 0, "c": 1}, positions(&b, "nueva"))
	require.Equal(t, map[string]int{"b": 0}, positions(&b, "enviada"))
}

func TestMoveWithinColumn(t *testing.T) {
	b := seeded(t)
	require.NoError(t, b.move("c", "nueva", 0))
	require.Equal(t, []string{"c", "a", "b"}, b.column("nueva"))

	require.NoError(t, b.move("c", "nueva", 2))
	require.Equal(t, []string{"a", "b", "c"}, b.column("nueva"))
}

func TestMoveRejectsUnknownCardOrColumn(t *testing.T) {
	b := seeded(t)
	require.ErrorIs(t, b.move("zzz", "nueva", 0), ErrCardNotFound)
	require.ErrorIs(t, b.move("a", "pagado", 0), ErrInvalidColumn)
	require.Equal(t, []string{"a", "b", "c"}, b.column("nueva"))
}

func TestRemoveClosesGap(t *testing.T) {
	b := seeded(t)
	require.NoError(t, b.remove("a"))
	require.Equal(t, map[string]int{"b": 0, "c": 1}, positions(&b, "nueva"))
	require.ErrorIs(t, b.remove("a"), ErrCardNotFound)
}

func TestNormalizeOrdersByColumnThenPosition(t *testing.T) {
	b := seeded(t)
	require.NoError(t, b.move("a", "aceptada", 0))
	require.NoError(t, b.move("c", "enviada", 0))
	b.Cards = append(b.Cards, Card{ID: "legacy", Column: "archivada", Position: 7})
	b.Normalize()

	ids := make([]string, 0, len(b.Cards))
	for _, c := range b.Cards {
		ids = append(ids, c.ID)
	}
	require.Equal(t, []string{"b", "c", "a", "legacy"}, ids)
}

func TestNewRejectsUnknownBoard(t *testing.T) {
	_, err := New("ventas")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFormatCLP(t *testing.T) {
	require.Equal(t, "0", formatCLP(0))
	require.Equal(t, "950", formatCLP(950))
	require.Equal(t, "2.975", formatCLP(2975))
	require.Equal(t, "1.250.000", formatCLP(1250000))
	require.Equal(t, "12.345.678", formatCLP(12345678))
}
