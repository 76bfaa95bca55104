// Package board implements the Kanban-style status boards used to follow
// quotes and collections through their stages.
package board

import (
	"errors"
	"slices"
	"sort"
	"time"
)

var (
	ErrNotFound      = errors.New("board: not found")
	ErrInvalidColumn = errors.New("board: invalid column")
	ErrCardNotFound  = errors.New("board: card not found")
)

// Board names.
const (
	Quotes      = "quotes"
	Collections = "cobranza"
)

// Definitions lists the columns of every known board in display order.
var Definitions = map[string][]string{
	Quotes:      {"nueva", "enviada", "negociacion", "aceptada", "rechazada"},
	Collections: {"por_cobrar", "en_gestion", "comprometido", "pagado"},
}

// Board is a named set of columns and the cards placed on them.
type Board struct {
	Name      string    `json:"name"`
	Columns   []string  `json:"columns"`
	Cards     []Card    `json:"cards"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card is one tracked item. Position is its zero-based index inside Column.
type Card struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Reference string    `json:"reference,omitempty"`
	Column    string    `json:"column"`
	Position  int       `json:"position"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns an empty board using the defined columns for name.
func New(name string) (Board, error) {
	cols, ok := Definitions[name]
	if !ok {
		return Board{}, ErrNotFound
	}
	return Board{Name: name, Columns: slices.Clone(cols), Cards: []Card{}}, nil
}

// HasColumn reports whether col belongs to the board.
func (b *Board) HasColumn(col string) bool {
	return slices.Contains(b.Columns, col)
}

func (b *Board) find(id string) int {
	return slices.IndexFunc(b.Cards, func(c Card) bool { return c.ID == id })
}

// FindByReference returns the card tracking ref, if any.
func (b *Board) FindByReference(ref string) (Card, bool) {
	if ref == "" {
		return Card{}, false
	}
	for _, c := range b.Cards {
		if c.Reference == ref {
			return c, true
		}
	}
	return Card{}, false
}

// column returns the ids in col ordered by position.
func (b *Board) column(col string) []string {
	cards := make([]Card, 0)
	for _, c := range b.Cards {
		if c.Column == col {
			cards = append(cards, c)
		}
	}
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

// place renumbers col so its cards take positions 0..n-1 in the order of ids.
func (b *Board) place(col string, ids []string) {
	for pos, id := range ids {
		if i := b.find(id); i >= 0 {
			b.Cards[i].Column = col
			b.Cards[i].Position = pos
		}
	}
}

// insert puts id at position in col; positions past the end append and
// negative positions are treated as 0.
func (b *Board) insert(id, col string, position int) {
	ids := slices.DeleteFunc(b.column(col), func(s string) bool { return s == id })
	position = min(max(position, 0), len(ids))
	ids = slices.Insert(ids, position, id)
	b.place(col, ids)
}

func (b *Board) add(c Card, position int) {
	b.Cards = append(b.Cards, c)
	b.insert(c.ID, c.Column, position)
}

func (b *Board) move(id, col string, position int) error {
	i := b.find(id)
	if i < 0 {
		return ErrCardNotFound
	}
	if !b.HasColumn(col) {
		return ErrInvalidColumn
	}
	from := b.Cards[i].Column
	b.Cards[i].Column = col
	if from != col {
		b.place(from, b.column(from))
	}
	b.insert(id, col, position)
	return nil
}

func (b *Board) remove(id string) error {
	i := b.find(id)
	if i < 0 {
		return ErrCardNotFound
	}
	col := b.Cards[i].Column
	b.Cards = slices.Delete(b.Cards, i, i+1)
	b.place(col, b.column(col))
	return nil
}

// Normalize renumbers every column densely and sorts cards by column order
// then position. Cards on columns no longer defined sort last.
func (b *Board) Normalize() {
	for _, col := range b.Columns {
		b.place(col, b.column(col))
	}
	order := make(map[string]int, len(b.Columns))
	for i, col := range b.Columns {
		order[col] = i
	}
	rank := func(col string) int {
		if i, ok := order[col]; ok {
			return i
		}
		return len(order)
	}
	sort.SliceStable(b.Cards, func(i, j int) bool {
		ci, cj := rank(b.Cards[i].Column), rank(b.Cards[j].Column)
		if ci != cj {
			return ci < cj
		}
		return b.Cards[i].Position < b.Cards[j].Position
	})
}
