package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/covasa/backoffice/internal/backend"
	"github.com/covasa/backoffice/internal/common"
)

// Handler exposes the catalog snapshot endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/products", h.Products)
	r.Get("/stock", h.Stock)
	r.Post("/catalog/refresh", h.Refresh)
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	params, err := h.service.ParseListParams(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), params)
	if err != nil {
		common.WriteError(w, backend.AppError(err))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: result.Total},
	})
}

// Stock handles GET /api/v1/stock. ?fresh=true skips the cache.
func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	levels, err := h.service.Stock(r.Context(), fresh)
	if err != nil {
		common.WriteError(w, backend.AppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": levels})
}

// Refresh handles POST /api/v1/catalog/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Refresh(r.Context()); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
