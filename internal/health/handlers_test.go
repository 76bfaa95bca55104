package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/health"
)

func probe(name string, critical bool, err error) health.Probe {
	return health.Probe{
		Name:     name,
		Critical: critical,
		Check:    func(context.Context) error { return err },
	}
}

func ready(t *testing.T, h *health.Handler) (int, health.Report) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var report health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	return rr.Code, report
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.NewHandler().Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	code, report := ready(t, health.NewHandler(probe("redis", true, nil), probe("backend", false, nil)))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", report.Status)
	require.Equal(t, map[string]string{"redis": "ok", "backend": "ok"}, report.Checks)
}

func TestReadyCriticalFailure(t *testing.T) {
	code, report := ready(t, health.NewHandler(probe("redis", true, errors.New("redis down")), probe("backend", false, nil)))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unavailable", report.Status)
	require.Equal(t, "redis down", report.Checks["redis"])
}

func TestReadyDegradedWhenOptionalFails(t *testing.T) {
	code, report := ready(t, health.NewHandler(probe("redis", true, nil), probe("backend", false, errors.New("breaker open"))))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, "breaker open", report.Checks["backend"])
}

func TestReadyAppliesProbeTimeout(t *testing.T) {
	slow := health.Probe{
		Name:     "db",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	code, report := ready(t, health.NewHandler(slow))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, context.DeadlineExceeded.Error(), report.Checks["db"])
}

func TestReadinessWhileDraining(t *testing.T) {
	h := health.NewHandler(probe("redis", true, nil))

	code, _ := ready(t, h)
	require.Equal(t, http.StatusOK, code)

	h.SetDraining(true)
	code, report := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", report.Status)
}
