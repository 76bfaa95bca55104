package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/app"
	"github.com/covasa/backoffice/internal/board"
	"github.com/covasa/backoffice/internal/catalog"
	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/config"
	"github.com/covasa/backoffice/internal/health"
	"github.com/covasa/backoffice/internal/obs"
	"github.com/covasa/backoffice/internal/queue"
	"github.com/covasa/backoffice/internal/quote"
	"github.com/covasa/backoffice/internal/ratelimit"
	"github.com/covasa/backoffice/internal/security"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "api").Logger()
	zerolog.DefaultContextLogger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.OTelServiceName,
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.HTTPLatencyBuckets), nil)

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	quotes, err := quote.NewService(quote.ServiceConfig{
		Catalog:           deps.Catalog,
		Creator:           deps.Backend,
		Jobs:              deps.Queue,
		DefaultVATPercent: cfg.DefaultVATPercent,
		Logger:            logger.With().Str("component", "quote").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise quote service")
	}

	rateLimit := ratelimit.Local(cfg.RateLimitMax, cfg.RateLimitWindow)
	if cfg.RateLimitBackend != "local" {
		limiter, err := ratelimit.New(deps.Redis, ratelimit.Options{
			Backend: cfg.RateLimitBackend,
			Prefix:  cfg.QueueRedisPrefix + ":ratelimit",
			Rate:    cfg.RateLimitRate,
			Window:  cfg.RateLimitWindow,
			Max:     cfg.RateLimitMax,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise rate limiter")
		}
		rateLimit = ratelimit.Handler{
			Limiter: limiter,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate_limit_unavailable") },
		}.Middleware
	}

	healthHandler := health.NewHandler(deps.Probes()...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Total-Count", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.EnableHSTS}.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		r.Use(rateLimit)

		catalog.NewHandler(deps.Catalog).Routes(r)
		quote.NewHandler(quotes, idem.Middleware).Routes(r)
		board.NewHandler(deps.Boards).Routes(r)
		r.Route("/admin", func(r chi.Router) {
			admin := &queue.AdminHandler{Inspector: queue.Inspector{Queue: deps.Queue}}
			admin.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		healthHandler.SetDraining(true)
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// newPprofMux registers the profiling handlers under their full paths since
// chi.Mount does not strip the prefix for a plain ServeMux.
func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
