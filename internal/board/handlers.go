package board

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/lock"
)

// Handler exposes board endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the board endpoints under /boards.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/boards/{name}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/history", h.History)
		r.Post("/cards", h.AddCard)
		r.Patch("/cards/{cardId}", h.UpdateCard)
		r.Post("/cards/{cardId}/move", h.MoveCard)
		r.Delete("/cards/{cardId}", h.RemoveCard)
	})
}

type moveRequest struct {
	Column   string `json:"column"`
	Position int    `json:"position"`
}

// Get handles GET /boards/{name}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": b})
}

// History handles GET /boards/{name}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.service.History(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": events})
}

// AddCard handles POST /boards/{name}/cards.
func (h *Handler) AddCard(w http.ResponseWriter, r *http.Request) {
	var in CardInput
	if err := common.DecodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	card, err := h.service.AddCard(r.Context(), chi.URLParam(r, "name"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": card})
}

// UpdateCard handles PATCH /boards/{name}/cards/{cardId}.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var patch CardPatch
	if err := common.DecodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	card, err := h.service.UpdateCard(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "cardId"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": card})
}

// MoveCard handles POST /boards/{name}/cards/{cardId}/move.
func (h *Handler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	card, err := h.service.MoveCard(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "cardId"), req.Column, req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": card})
}

// RemoveCard handles DELETE /boards/{name}/cards/{cardId}.
func (h *Handler) RemoveCard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveCard(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "cardId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		err = common.NotFound("NOT_FOUND", "board not found", err)
	case errors.Is(err, ErrCardNotFound):
		err = common.NotFound("CARD_NOT_FOUND", "card not found", err)
	case errors.Is(err, ErrInvalidColumn):
		err = common.Unprocessable("INVALID_COLUMN", "unknown column for this board", err)
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, lock.ErrLeaseLost):
		err = common.Conflict("BOARD_BUSY", "board is being updated, retry shortly", err)
	}
	common.WriteError(w, err)
}
