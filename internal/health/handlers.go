// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/covasa/backoffice/internal/common"
)

const defaultTimeout = 500 * time.Millisecond

// Probe checks one dependency.
type Probe struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
	// Critical probes fail readiness; others only report "degraded".
	Critical bool
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes   []Probe
	draining atomic.Bool
}

// NewHandler constructs a Handler.
func NewHandler(probes ...Probe) *Handler {
	return &Handler{Probes: probes}
}

// SetDraining makes readiness fail so load balancers stop routing traffic
// while the server shuts down.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Live reports liveness status.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready probes every dependency concurrently.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "draining", Checks: map[string]string{}})
		return
	}
	report, healthy := h.Check(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, report)
}

// Check runs all probes and reports whether every critical one passed.
func (h *Handler) Check(ctx context.Context) (Report, bool) {
	report := Report{Status: "ok", Checks: make(map[string]string, len(h.Probes))}
	var (
		mu       sync.Mutex
		healthy  = true
		degraded bool
	)
	var g errgroup.Group
	for _, p := range h.Probes {
		g.Go(func() error {
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = defaultTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			result := "ok"
			err := p.Check(pctx)
			if err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[p.Name] = result
			if err != nil {
				if p.Critical {
					healthy = false
				} else {
					degraded = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	switch {
	case !healthy:
		report.Status = "unavailable"
	case degraded:
		report.Status = "degraded"
	}
	return report, healthy
}
