package queue

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/covasa/backoffice/internal/common"
)

// AdminHandler exposes queue stats and dead letter operations.
type AdminHandler struct {
	Inspector Inspector
	PageSize  int
}

// Routes mounts the handler under /queues/{kind}.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Route("/queues/{kind}", func(r chi.Router) {
		r.Get("/", h.Stats)
		r.Get("/dead", h.ListDead)
		r.Post("/dead/replay", h.ReplayDead)
	})
}

// Stats returns queue depth figures for a kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Inspector.Stats(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st})
}

// ListDead returns dead-lettered tasks with pagination.
func (h *AdminHandler) ListDead(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, h.pageSize())
	items, total, err := h.Inspector.Dead(r.Context(), chi.URLParam(r, "kind"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

// ReplayDead re-enqueues dead tasks, oldest first. ?limit bounds the batch.
func (h *AdminHandler) ReplayDead(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePagination(r, h.pageSize())
	n, err := h.Inspector.Replay(r.Context(), chi.URLParam(r, "kind"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]int{"replayed": n}})
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidKind) {
		common.WriteError(w, common.BadRequest("invalid queue kind", err))
		return
	}
	common.WriteError(w, err)
}
