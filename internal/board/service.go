package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/obs"
)

// Locker serialises mutations of one board across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// CardInput creates a card.
type CardInput struct {
	Title     string `json:"title" validate:"required,max=200"`
	Reference string `json:"reference" validate:"max=120"`
	Column    string `json:"column"`
	Position  *int   `json:"position"`
	Note      string `json:"note" validate:"max=2000"`
}

// CardPatch edits card text; nil fields are left untouched.
type CardPatch struct {
	Title     *string `json:"title" validate:"omitempty,max=200"`
	Reference *string `json:"reference" validate:"omitempty,max=120"`
	Note      *string `json:"note" validate:"omitempty,max=2000"`
}

// QuoteRef identifies a submitted quote to place on the quotes board.
type QuoteRef struct {
	QuoteID    string `json:"quoteId"`
	Number     string `json:"number"`
	ClientID   string `json:"clientId"`
	GrandTotal int64  `json:"grandTotal"`
}

// Service applies board operations on top of a Store.
type Service struct {
	store    Store
	locker   Locker
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Locker Locker
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("board: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		validate: common.NewValidator(),
		logger:   cfg.Logger,
		now:      now,
		newID:    uuid.NewString,
	}, nil
}

// Get returns the board, creating an empty one in memory if none was saved.
func (s *Service) Get(ctx context.Context, name string) (Board, error) {
	b, err := s.load(ctx, name)
	if err != nil {
		return Board{}, err
	}
	b.Normalize()
	return b, nil
}

// History returns recent mutations, newest first.
func (s *Service) History(ctx context.Context, name string, limit int) ([]Event, error) {
	if _, ok := Definitions[name]; !ok {
		return nil, ErrNotFound
	}
	return s.store.History(ctx, name, limit)
}

// AddCard places a new card. The column defaults to the board's first column
// and the position to the end of the column.
func (s *Service) AddCard(ctx context.Context, name string, in CardInput) (Card, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Reference = strings.TrimSpace(in.Reference)
	in.Column = strings.TrimSpace(in.Column)
	if err := common.ValidateStruct(s.validate, in); err != nil {
		return Card{}, err
	}
	var card Card
	err := s.mutate(ctx, name, "add", func(b *Board) (Event, error) {
		col := in.Column
		if col == "" {
			col = b.Columns[0]
		}
		if !b.HasColumn(col) {
			return Event{}, ErrInvalidColumn
		}
		position := len(b.column(col))
		if in.Position != nil {
			position = *in.Position
		}
		now := s.now()
		card = Card{
			ID:        s.newID(),
			Title:     in.Title,
			Reference: in.Reference,
			Column:    col,
			Note:      in.Note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.add(card, position)
		card = b.Cards[b.find(card.ID)]
		return Event{Op: "add", CardID: card.ID, Column: col}, nil
	})
	return card, err
}

// MoveCard moves a card to column at position. Positions past the end append.
func (s *Service) MoveCard(ctx context.Context, name, cardID, column string, position int) (Card, error) {
	column = strings.TrimSpace(column)
	var card Card
	err := s.mutate(ctx, name, "move", func(b *Board) (Event, error) {
		if err := b.move(cardID, column, position); err != nil {
			return Event{}, err
		}
		i := b.find(cardID)
		b.Cards[i].UpdatedAt = s.now()
		card = b.Cards[i]
		return Event{Op: "move", CardID: cardID, Column: column}, nil
	})
	return card, err
}

// UpdateCard edits card text.
func (s *Service) UpdateCard(ctx context.Context, name, cardID string, patch CardPatch) (Card, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return Card{}, common.Unprocessable("VALIDATION_FAILED", "validation failed", nil).
				WithDetails([]common.FieldError{{Field: "title", Rule: "required"}})
		}
		patch.Title = &trimmed
	}
	if err := common.ValidateStruct(s.validate, patch); err != nil {
		return Card{}, err
	}
	var card Card
	err := s.mutate(ctx, name, "update", func(b *Board) (Event, error) {
		i := b.find(cardID)
		if i < 0 {
			return Event{}, ErrCardNotFound
		}
		c := &b.Cards[i]
		if patch.Title != nil {
			c.Title = *patch.Title
		}
		if patch.Reference != nil {
			c.Reference = strings.TrimSpace(*patch.Reference)
		}
		if patch.Note != nil {
			c.Note = *patch.Note
		}
		c.UpdatedAt = s.now()
		card = *c
		return Event{Op: "update", CardID: cardID, Column: c.Column}, nil
	})
	return card, err
}

// RemoveCard deletes a card and closes the gap in its column.
func (s *Service) RemoveCard(ctx context.Context, name, cardID string) error {
	return s.mutate(ctx, name, "remove", func(b *Board) (Event, error) {
		if err := b.remove(cardID); err != nil {
			return Event{}, err
		}
		return Event{Op: "remove", CardID: cardID}, nil
	})
}

// TrackQuote adds a card for a submitted quote to the first column of the
// quotes board. Repeated calls for the same quote return the existing card.
func (s *Service) TrackQuote(ctx context.Context, ref QuoteRef) (Card, bool, error) {
	ref.QuoteID = strings.TrimSpace(ref.QuoteID)
	if ref.QuoteID == "" {
		return Card{}, false, errQuoteIDRequired
	}
	var (
		card    Card
		created bool
	)
	err := s.mutate(ctx, Quotes, "track", func(b *Board) (Event, error) {
		if existing, ok := b.FindByReference(ref.QuoteID); ok {
			card = existing
			return Event{}, errUnchanged
		}
		now := s.now()
		card = Card{
			ID:        s.newID(),
			Title:     quoteTitle(ref),
			Reference: ref.QuoteID,
			Column:    b.Columns[0],
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.add(card, len(b.column(card.Column)))
		card = b.Cards[b.find(card.ID)]
		created = true
		return Event{Op: "track", CardID: card.ID, Column: card.Column}, nil
	})
	return card, created, err
}

var (
	errUnchanged       = errors.New("board: unchanged")
	errQuoteIDRequired = errors.New("board: quote id is required")
)

func (s *Service) mutate(ctx context.Context, name, op string, fn func(*Board) (Event, error)) error {
	if _, ok := Definitions[name]; !ok {
		return ErrNotFound
	}
	run := func(ctx context.Context) error {
		b, err := s.load(ctx, name)
		if err != nil {
			return err
		}
		ev, err := fn(&b)
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}
		b.Normalize()
		b.UpdatedAt = s.now()
		ev.At = b.UpdatedAt
		if err := s.store.Save(ctx, b, ev); err != nil {
			return err
		}
		if obs.BoardMutationsTotal != nil {
			obs.BoardMutationsTotal.WithLabelValues(name, op).Inc()
		}
		s.logger.Debug().Str("board", name).Str("op", op).Str("card_id", ev.CardID).Msg("board_mutated")
		return nil
	}
	if s.locker == nil {
		return run(ctx)
	}
	return s.locker.WithLock(ctx, "board:"+name, run)
}

func (s *Service) load(ctx context.Context, name string) (Board, error) {
	fresh, err := New(name)
	if err != nil {
		return Board{}, err
	}
	b, ok, err := s.store.Load(ctx, name)
	if err != nil {
		return Board{}, err
	}
	if !ok {
		return fresh, nil
	}
	// column definitions live in code; stored copies follow them
	b.Name = name
	b.Columns = fresh.Columns
	if b.Cards == nil {
		b.Cards = []Card{}
	}
	return b, nil
}

func quoteTitle(ref QuoteRef) string {
	title := ref.Number
	if title == "" {
		title = "Cotización " + ref.QuoteID
	}
	if ref.GrandTotal > 0 {
		title = fmt.Sprintf("%s · $%s", title, formatCLP(ref.GrandTotal))
	}
	return title
}

// formatCLP renders pesos with dot thousands separators, e.g. 1.250.000.
func formatCLP(v int64) string {
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
