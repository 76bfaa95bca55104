// Package backend talks to the COVASA REST backend, the system of record for
// products, inventory and quotes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/covasa/backoffice/internal/obs"
	"github.com/covasa/backoffice/internal/resilience"
)

const maxErrorBody = 2048

// ErrUnavailable wraps failures where the backend could not be reached or
// answered with a server error.
var ErrUnavailable = errors.New("backend: unavailable")

// Product is a catalog entry.
type Product struct {
	ID          string `json:"id"`
	Code        string `json:"codigo"`
	Name        string `json:"nombre"`
	UnitCostNet int64  `json:"costo_neto"`
	Unit        string `json:"unidad,omitempty"`
	Active      bool   `json:"activo"`
}

// StockLevel is the available quantity of a product.
type StockLevel struct {
	ProductID string `json:"producto_id"`
	Available int64  `json:"disponible"`
	Warehouse string `json:"bodega,omitempty"`
}

// QuoteItem is one line of a create-quote request.
type QuoteItem struct {
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	UnitSalePrice int64  `json:"unitSalePrice"`
	VATPercent    int64  `json:"vatPercent"`
}

// CreateQuoteRequest is the body posted to the create-quote endpoint.
type CreateQuoteRequest struct {
	Items           []QuoteItem `json:"items"`
	ClientID        string      `json:"clientId"`
	ClientReference string      `json:"clientReference,omitempty"`
	ContactName     string      `json:"contactName,omitempty"`
	ContactEmail    string      `json:"contactEmail,omitempty"`
	ContactPhone    string      `json:"contactPhone,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

// CreatedQuote is the backend's acknowledgement of a new quote.
type CreatedQuote struct {
	ID        string    `json:"id"`
	Number    string    `json:"numero,omitempty"`
	Status    string    `json:"estado,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrUnavailable) match server errors.
func (e *StatusError) Unwrap() error {
	if e.Status >= 500 {
		return ErrUnavailable
	}
	return nil
}

// Doer executes HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a typed REST client for the backend.
type Client struct {
	BaseURL string
	Token   string
	HTTP    Doer
	Logger  zerolog.Logger
}

// Options configures New.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Breaker     *resilience.Breaker
	Logger      zerolog.Logger
}

// New builds a Client whose transport is traced with otelhttp and wrapped in
// retries and the given circuit breaker.
func New(opts Options) *Client {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   opts.Timeout,
	}
	return &Client{
		BaseURL: strings.TrimRight(opts.BaseURL, "/"),
		Token:   opts.Token,
		Logger:  opts.Logger,
		HTTP: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     opts.Breaker,
			BaseBackoff: opts.BaseBackoff,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      opts.Jitter,
			Timeout:     opts.Timeout,
		},
	}
}

// ListProducts returns the product catalog.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.call(ctx, "list_products", http.MethodGet, "/productos", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Product{}
	}
	return out, nil
}

// ListStock returns current stock levels.
func (c *Client) ListStock(ctx context.Context) ([]StockLevel, error) {
	var out []StockLevel
	if err := c.call(ctx, "list_stock", http.MethodGet, "/inventario", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []StockLevel{}
	}
	return out, nil
}

// CreateQuote posts a new quote.
func (c *Client) CreateQuote(ctx context.Context, req CreateQuoteRequest) (CreatedQuote, error) {
	var out CreatedQuote
	if err := c.call(ctx, "create_quote", http.MethodPost, "/cotizaciones", req, &out); err != nil {
		return CreatedQuote{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return CreatedQuote{}, fmt.Errorf("backend create_quote: response without id")
	}
	return out, nil
}

// Ping checks that the backend answers at all; any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, "/productos", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{Op: "ping", Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		observe(op, start, err)
		if err != nil {
			c.Logger.Warn().Err(err).Str("op", op).Msg("backend_request_failed")
		}
	}()

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s: encode: %w", op, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, op, err)
	}
	if err := decodeEnvelope(raw, out); err != nil {
		return fmt.Errorf("backend %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// decodeEnvelope accepts either a bare JSON value or one wrapped as {"data": ...}.
func decodeEnvelope(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return errors.New("empty body")
	}
	if trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
			return json.Unmarshal(env.Data, out)
		}
	}
	return json.Unmarshal(trimmed, out)
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	var statusErr *StatusError
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrOpenCircuit):
		result = "circuit_open"
	case errors.As(err, &statusErr) && statusErr.Status < 500:
		result = "rejected"
	default:
		result = "error"
	}
	if obs.BackendRequestsTotal != nil {
		obs.BackendRequestsTotal.WithLabelValues(op, result).Inc()
	}
	if obs.BackendRequestLatency != nil {
		obs.BackendRequestLatency.WithLabelValues(op).Observe(obs.DurationMillis(time.Since(start)))
	}
}
