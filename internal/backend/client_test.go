package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/backend"
	"github.com/covasa/backoffice/internal/resilience"
)

func newClient(t *testing.T, h http.Handler, breaker *resilience.Breaker) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return backend.New(backend.Options{
		BaseURL:     srv.URL + "/",
		Token:       "secret",
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		Breaker:     breaker,
	})
}

func TestListProductsSendsTokenAndDecodes(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/productos", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":"p-1","codigo":"TUB-20","nombre":"Tubo 20mm","costo_neto":1000,"activo":true}]`)
	}), nil)

	products, err := client.ListProducts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []backend.Product{{ID: "p-1", Code: "TUB-20", Name: "Tubo 20mm", UnitCostNet: 1000, Active: true}}, products)
}

func TestListStockAcceptsDataEnvelope(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inventario", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"producto_id":"p-1","disponible":7}]}`)
	}), nil)

	stock, err := client.ListStock(context.Background())
	require.NoError(t, err)
	require.Equal(t, []backend.StockLevel{{ProductID: "p-1", Available: 7}}, stock)
}

func TestListStockEmptyArray(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}), nil)

	stock, err := client.ListStock(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stock)
	require.Empty(t, stock)
}

func TestCreateQuotePostsPayload(t *testing.T) {
	var got map[string]any
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/cotizaciones", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"q-10","numero":"COT-0010","estado":"nueva"}`)
	}), nil)

	created, err := client.CreateQuote(context.Background(), backend.CreateQuoteRequest{
		ClientID: "c-1",
		Items:    []backend.QuoteItem{{ProductID: "p-1", Quantity: 2, UnitSalePrice: 1250, VATPercent: 19}},
		Notes:    "entrega en obra",
	})
	require.NoError(t, err)
	require.Equal(t, "q-10", created.ID)
	require.Equal(t, "COT-0010", created.Number)

	items := got["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	require.Equal(t, "p-1", item["productId"])
	require.Equal(t, float64(2), item["quantity"])
	require.Equal(t, float64(1250), item["unitSalePrice"])
	require.Equal(t, float64(19), item["vatPercent"])
	require.Equal(t, "c-1", got["clientId"])
	require.Equal(t, "entrega en obra", got["notes"])
	_, hasEmail := got["contactEmail"]
	require.False(t, hasEmail)
}

func TestClientErrorsAreStatusErrors(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"cliente no existe"}`)
	}), nil)

	_, err := client.CreateQuote(context.Background(), backend.CreateQuoteRequest{ClientID: "x"})
	var statusErr *backend.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnprocessableEntity, statusErr.Status)
	require.Contains(t, statusErr.Body, "cliente no existe")
	require.False(t, errors.Is(err, backend.ErrUnavailable))
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	var calls int32
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	_, err := client.ListProducts(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenCircuitIsUnavailable(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerSettings{Target: "backend-test", MinRequests: 1, OpenFor: time.Hour})
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), breaker)

	_, err := client.ListStock(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)

	_, err = client.ListStock(context.Background())
	require.ErrorIs(t, err, backend.ErrUnavailable)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestPing(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}), nil)
	require.NoError(t, client.Ping(context.Background()))
}
