package backend

import (
	"errors"
	"net/http"

	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/resilience"
)

// AppError maps backend failures onto API errors: open circuits and
// unreachable backends become 503, server errors 502, and client errors are
// passed through as 422 with the backend's message excerpt.
func AppError(err error) error {
	if err == nil || common.IsAppError(err) {
		return err
	}
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return common.Unavailable("BACKEND_UNAVAILABLE", "backend temporarily unavailable", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 500 {
			return common.NewAppError("BACKEND_UNAVAILABLE", "backend error", http.StatusBadGateway, err)
		}
		return common.Unprocessable("BACKEND_REJECTED", "backend rejected the request", err).
			WithDetails(map[string]any{"status": statusErr.Status, "body": statusErr.Body})
	}
	if errors.Is(err, ErrUnavailable) {
		return common.Unavailable("BACKEND_UNAVAILABLE", "backend unreachable", err)
	}
	return err
}
