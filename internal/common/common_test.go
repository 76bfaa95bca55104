package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/common"
)

type errorEnvelope struct {
	Error common.ErrorBody `json:"error"`
}

func TestWriteErrorAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := common.NewAppError("INSUFFICIENT_STOCK", "not enough stock", http.StatusConflict, nil).
		WithDetails([]string{"p-1"})
	common.WriteError(rec, err)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INSUFFICIENT_STOCK", body.Error.Code)
	require.Equal(t, "not enough stock", body.Error.Message)
	require.NotNil(t, body.Error.Details)
}

func TestWriteErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	common.WriteError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "INTERNAL")
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	err := common.DecodeJSON(req, &dst)
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client, TTL: time.Minute}
}

func sendWithKey(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	handler := newIdem(t).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"id": "q-1"}})
	}))

	first := sendWithKey(handler, "abc", `{"clientId":"c-1"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := sendWithKey(handler, "abc", `{"clientId":"c-1"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.Equal(t, "application/json", second.Header().Get("Content-Type"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, int32(1), calls.Load())

	reused := sendWithKey(handler, "abc", `{"clientId":"c-2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	require.Contains(t, reused.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	require.Equal(t, int32(1), calls.Load())
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	var nested *httptest.ResponseRecorder
	var handler http.Handler
	handler = newIdem(t).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if nested == nil {
			nested = sendWithKey(handler, "busy", `{}`)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := sendWithKey(handler, "busy", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, nested)
	require.Equal(t, http.StatusConflict, nested.Code)
	require.Contains(t, nested.Body.String(), "IDEMPOTENCY_IN_PROGRESS")
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	var calls atomic.Int32
	handler := newIdem(t).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for _, want := range []int{http.StatusConflict, http.StatusCreated} {
		require.Equal(t, want, sendWithKey(handler, "retry-me", `{}`).Code)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	var calls atomic.Int32
	handler := newIdem(t).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			panic("backend client bug")
		}
		w.WriteHeader(http.StatusCreated)
	}))

	require.PanicsWithValue(t, "backend client bug", func() {
		sendWithKey(handler, "panics", `{}`)
	})
	require.Equal(t, http.StatusCreated, sendWithKey(handler, "panics", `{}`).Code)
	require.Equal(t, int32(2), calls.Load())
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	type item struct {
		ProductID string `json:"productId" validate:"required"`
	}
	type payload struct {
		ClientID string `json:"clientId" validate:"required"`
		Email    string `json:"contactEmail" validate:"omitempty,email"`
		Items    []item `json:"items" validate:"min=1,dive"`
	}
	v := common.NewValidator()

	require.NoError(t, common.ValidateStruct(v, payload{ClientID: "c-1", Items: []item{{ProductID: "p"}}}))

	err := common.ValidateStruct(v, payload{Email: "nope", Items: []item{{}}})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	fields := map[string]string{}
	for _, fe := range appErr.Details.([]common.FieldError) {
		fields[fe.Field] = fe.Rule
	}
	require.Equal(t, map[string]string{
		"clientId":           "required",
		"contactEmail":       "email",
		"items[0].productId": "required",
	}, fields)
}
