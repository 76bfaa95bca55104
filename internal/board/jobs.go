package board

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/queue"
)

// TaskTrackQuote is the queue kind for placing a submitted quote on the board.
const TaskTrackQuote = "board-track-quote"

// TrackQuoteHandler consumes TaskTrackQuote tasks.
func TrackQuoteHandler(s *Service) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var ref QuoteRef
		if err := task.Decode(&ref); err != nil {
			return err
		}
		card, created, err := s.TrackQuote(ctx, ref)
		if errors.Is(err, errQuoteIDRequired) {
			return queue.Permanent(err)
		}
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().
			Str("quote_id", ref.QuoteID).
			Str("card_id", card.ID).
			Bool("created", created).
			Msg("quote_tracked")
		return nil
	}
}
