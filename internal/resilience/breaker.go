package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call to the backend.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state machine position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// Target labels metrics and logs, e.g. "backend".
	Target string
	// MinRequests is the sample size needed before the failure rate is evaluated.
	MinRequests int
	// FailureRate in (0,1] at which the breaker opens.
	FailureRate float64
	// OpenFor is the cool-off before a half-open probe is allowed.
	OpenFor time.Duration
	Logger  zerolog.Logger
}

// Breaker is a failure-rate circuit breaker. While half-open only one probe
// is in flight; its outcome decides whether the breaker closes or reopens.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerSettings
	state    State
	ok       int
	failed   int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker builds a closed breaker, filling unset settings with defaults.
func NewBreaker(cfg BreakerSettings) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRate <= 0 || cfg.FailureRate > 1 {
		cfg.FailureRate = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	BreakerState.WithLabelValues(cfg.Target).Set(stateGauge(Closed))
	return b
}

// State returns the current state, promoting an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenFor {
		return HalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.transitionLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	if success {
		b.ok++
	} else {
		b.failed++
	}
	total := b.ok + b.failed
	if total < b.cfg.MinRequests {
		return
	}
	if float64(b.failed)/float64(total) >= b.cfg.FailureRate {
		b.transitionLocked(ctx, Open)
		return
	}
	// keep the window roughly the size of the sample
	if total >= b.cfg.MinRequests*2 {
		b.ok /= 2
		b.failed /= 2
	}
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.ok, b.failed = 0, 0
	switch next {
	case Open:
		b.openedAt = b.now()
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	case Closed:
		b.openedAt = time.Time{}
	}
	BreakerState.WithLabelValues(b.cfg.Target).Set(stateGauge(next))
	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()

	logger := b.cfg.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Info().Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func stateGauge(s State) float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}
