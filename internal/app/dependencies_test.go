package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/config"
	"github.com/covasa/backoffice/internal/health"
)

func testConfig(redisURL, backendURL string) *config.Config {
	return &config.Config{
		RedisURL:           redisURL,
		BackendBaseURL:     backendURL,
		BackendTimeout:     200 * time.Millisecond,
		RetryBase:          time.Millisecond,
		RetryMaxAttempts:   1,
		CircuitMinRequests: 100,
		CircuitFailureRate: 0.5,
		CircuitOpenFor:     time.Second,
		CatalogCacheTTL:    time.Minute,
		IdempotencyTTL:     time.Hour,
		BoardStore:         "redis",
		LockTTL:            time.Second,
		LockRetryBackoff:   5 * time.Millisecond,
		QueueRedisPrefix:   "test",
		QueueMaxAttempts:   3,
	}
}

func TestOpenBuildsServicesAndProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	deps, err := Open(context.Background(), testConfig("redis://"+mr.Addr(), srv.URL), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Catalog)
	require.NotNil(t, deps.Boards)
	require.Nil(t, deps.DB)
	require.Equal(t, "test", deps.Queue.Prefix)

	probes := deps.Probes()
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"redis", "backend"}, names)

	report, healthy := health.NewHandler(probes...).Check(context.Background())
	require.True(t, healthy)
	require.Equal(t, "ok", report.Status)
}

func TestBackendOutageOnlyDegradesReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	deps, err := Open(context.Background(), testConfig("redis://"+mr.Addr(), url), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	report, healthy := health.NewHandler(deps.Probes()...).Check(context.Background())
	require.True(t, healthy)
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, "ok", report.Checks["redis"])
	require.NotEqual(t, "ok", report.Checks["backend"])
}

func TestOpenRejectsBoardStoreWithoutDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("redis://"+mr.Addr(), "http://backend.invalid")
	cfg.BoardStore = "postgres"

	_, err := Open(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "DATABASE_URL")

	cfg.BoardStore = "memory"
	_, err = Open(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported board store")
}

func TestOpenRedisFailures(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not a url", zerolog.Nop())
	require.ErrorContains(t, err, "parse redis url")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = OpenRedis(ctx, "redis://"+addr, zerolog.Nop())
	require.ErrorContains(t, err, "ping redis")
}
