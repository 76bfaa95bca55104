package quote

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/covasa/backoffice/internal/common"
)

// Handler exposes quote endpoints.
type Handler struct {
	service *Service
	idem    func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. idem wraps the submission endpoint and may
// be nil.
func NewHandler(service *Service, idem func(http.Handler) http.Handler) *Handler {
	return &Handler{service: service, idem: idem}
}

// Routes mounts /quotes/preview and /quotes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/quotes/preview", h.Preview)
	r.Group(func(r chi.Router) {
		if h.idem != nil {
			r.Use(h.idem)
		}
		r.Post("/quotes", h.Submit)
	})
}

// Preview handles POST /quotes/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.service.validate, req); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.service.Preview(r.Context(), req)})
}

// Submit handles POST /quotes.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.service.Submit(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}
