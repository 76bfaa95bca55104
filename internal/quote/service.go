// Package quote composes sales quotes: live totals previews and submission to
// the backend after stock checks.
package quote

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/covasa/backoffice/internal/backend"
	"github.com/covasa/backoffice/internal/board"
	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/obs"
	"github.com/covasa/backoffice/internal/pricing"
)

// Catalog provides the product and stock snapshots used at submission.
type Catalog interface {
	Products(ctx context.Context) ([]backend.Product, error)
	StockIndex(ctx context.Context, fresh bool) (map[string]int64, error)
}

// Creator persists quotes in the backend.
type Creator interface {
	CreateQuote(ctx context.Context, req backend.CreateQuoteRequest) (backend.CreatedQuote, error)
}

// Enqueuer schedules background work.
type Enqueuer interface {
	EnqueueJSON(ctx context.Context, kind, key string, payload any) error
}

// Item is one line of a quote form. It converts directly to pricing.Draft.
type Item struct {
	ProductID          string `json:"productId" validate:"required,max=64"`
	Quantity           string `json:"quantity"`
	UnitCostNet        string `json:"unitCostNet"`
	VATPercentOverride string `json:"vatPercentOverride,omitempty"`
}

// PreviewRequest is the body of a totals preview.
type PreviewRequest struct {
	MarginPercent string `json:"marginPercent"`
	Items         []Item `json:"items" validate:"max=200"`
}

// SubmitRequest is the body of a quote submission.
type SubmitRequest struct {
	ClientID        string `json:"clientId" validate:"required,max=64"`
	ClientReference string `json:"clientReference" validate:"max=120"`
	ContactName     string `json:"contactName" validate:"max=120"`
	ContactEmail    string `json:"contactEmail" validate:"omitempty,email,max=254"`
	ContactPhone    string `json:"contactPhone" validate:"max=40"`
	Notes           string `json:"notes" validate:"max=2000"`
	MarginPercent   string `json:"marginPercent"`
	Items           []Item `json:"items" validate:"required,min=1,max=200,dive"`
}

// SubmitResult is returned after the backend accepted a quote.
type SubmitResult struct {
	Quote  backend.CreatedQuote `json:"quote"`
	Totals pricing.Totals       `json:"totals"`
}

// Shortage describes a product with less stock than requested.
type Shortage struct {
	ProductID string `json:"productId"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// Service implements quote preview and submission.
type Service struct {
	catalog    Catalog
	creator    Creator
	jobs       Enqueuer
	defaultVAT int64
	validate   *validator.Validate
	logger     zerolog.Logger
}

// ServiceConfig groups Service dependencies. Jobs may be nil.
type ServiceConfig struct {
	Catalog           Catalog
	Creator           Creator
	Jobs              Enqueuer
	DefaultVATPercent int64
	Logger            zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("quote: catalog is required")
	}
	if cfg.Creator == nil {
		return nil, errors.New("quote: creator is required")
	}
	return &Service{
		catalog:    cfg.Catalog,
		creator:    cfg.Creator,
		jobs:       cfg.Jobs,
		defaultVAT: cfg.DefaultVATPercent,
		validate:   common.NewValidator(),
		logger:     cfg.Logger,
	}, nil
}

// Preview computes totals for a draft quote. It never fails.
func (s *Service) Preview(_ context.Context, req PreviewRequest) pricing.Totals {
	if obs.QuotePreviewsTotal != nil {
		obs.QuotePreviewsTotal.Inc()
	}
	return pricing.Compute(drafts(req.Items), req.MarginPercent, s.defaultVAT)
}

// Submit validates the quote against the catalog and current stock, then
// creates it in the backend and schedules it for the quotes board.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (res SubmitResult, err error) {
	ctx, end := obs.StartSpan(ctx, "quote.Submit",
		attribute.String("quote.client_id", req.ClientID),
		attribute.Int("quote.items", len(req.Items)))
	defer func() {
		end(err)
		countSubmission(err)
	}()

	normalize(&req)
	if err := common.ValidateStruct(s.validate, req); err != nil {
		return SubmitResult{}, err
	}

	products, err := s.catalog.Products(ctx)
	if err != nil {
		return SubmitResult{}, backend.AppError(err)
	}
	byID := make(map[string]backend.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	var unknown []string
	for i, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok || !p.Active {
			unknown = append(unknown, it.ProductID)
			continue
		}
		// a blank cost means the form kept the catalog price
		if strings.TrimSpace(it.UnitCostNet) == "" {
			req.Items[i].UnitCostNet = strconv.FormatInt(p.UnitCostNet, 10)
		}
	}
	if len(unknown) > 0 {
		return SubmitResult{}, common.Unprocessable("UNKNOWN_PRODUCT", "unknown or inactive products", nil).
			WithDetails(map[string]any{"productIds": unknown})
	}

	totals := pricing.Compute(drafts(req.Items), req.MarginPercent, s.defaultVAT)

	stock, err := s.catalog.StockIndex(ctx, true)
	if err != nil {
		return SubmitResult{}, backend.AppError(err)
	}
	if shortages := checkStock(totals.Lines, stock); len(shortages) > 0 {
		return SubmitResult{}, common.Conflict("INSUFFICIENT_STOCK", "insufficient stock", nil).
			WithDetails(shortages)
	}

	created, err := s.creator.CreateQuote(ctx, buildRequest(req, totals))
	if err != nil {
		return SubmitResult{}, backend.AppError(err)
	}
	if obs.QuoteGrandTotal != nil {
		obs.QuoteGrandTotal.Observe(float64(totals.GrandTotal))
	}
	s.logger.Info().
		Str("quote_id", created.ID).
		Str("client_id", req.ClientID).
		Int("items", len(totals.Lines)).
		Int64("grand_total", totals.GrandTotal).
		Msg("quote_created")

	s.track(ctx, req.ClientID, created, totals)
	return SubmitResult{Quote: created, Totals: totals}, nil
}

// track enqueues board placement. The quote already exists, so failures are
// only logged.
func (s *Service) track(ctx context.Context, clientID string, created backend.CreatedQuote, totals pricing.Totals) {
	if s.jobs == nil {
		return
	}
	ref := board.QuoteRef{
		QuoteID:    created.ID,
		Number:     created.Number,
		ClientID:   clientID,
		GrandTotal: totals.GrandTotal,
	}
	if err := s.jobs.EnqueueJSON(context.WithoutCancel(ctx), board.TaskTrackQuote, created.ID, ref); err != nil {
		s.logger.Warn().Err(err).Str("quote_id", created.ID).Msg("quote_track_enqueue_failed")
	}
}

// checkStock sums requested units per product across lines and reports every
// product whose total exceeds what is available. Order follows first use.
func checkStock(lines []pricing.Line, available map[string]int64) []Shortage {
	requested := make(map[string]int64, len(lines))
	order := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, seen := requested[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		requested[l.ProductID] += l.Quantity
	}
	var out []Shortage
	for _, id := range order {
		if have := available[id]; requested[id] > have {
			out = append(out, Shortage{ProductID: id, Requested: requested[id], Available: have})
		}
	}
	return out
}

func buildRequest(req SubmitRequest, totals pricing.Totals) backend.CreateQuoteRequest {
	items := make([]backend.QuoteItem, 0, len(totals.Lines))
	for _, l := range totals.Lines {
		items = append(items, backend.QuoteItem{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			UnitSalePrice: l.UnitSalePrice,
			VATPercent:    l.VATPercent,
		})
	}
	return backend.CreateQuoteRequest{
		Items:           items,
		ClientID:        req.ClientID,
		ClientReference: req.ClientReference,
		ContactName:     req.ContactName,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		Notes:           req.Notes,
	}
}

func normalize(req *SubmitRequest) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ClientReference = strings.TrimSpace(req.ClientReference)
	req.ContactName = strings.TrimSpace(req.ContactName)
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	req.ContactPhone = strings.TrimSpace(req.ContactPhone)
	req.Notes = strings.TrimSpace(req.Notes)
	req.Items = append([]Item(nil), req.Items...)
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
	}
}

func drafts(items []Item) []pricing.Draft {
	out := make([]pricing.Draft, len(items))
	for i, it := range items {
		out[i] = pricing.Draft(it)
	}
	return out
}

func countSubmission(err error) {
	if obs.QuoteSubmissionsTotal == nil {
		return
	}
	result := "created"
	var appErr *common.AppError
	if err != nil {
		result = "error"
		if errors.As(err, &appErr) {
			result = strings.ToLower(appErr.Code)
		}
	}
	obs.QuoteSubmissionsTotal.WithLabelValues(result).Inc()
}
