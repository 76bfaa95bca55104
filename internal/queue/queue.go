// Package queue is a small Redis backed job queue used to run side effects,
// such as board tracking, outside the request that triggered them.
//
// Ready tasks live in a sorted set scored by their due time. A popped task is
// parked in a processing set until it is acknowledged; entries whose
// visibility deadline passes are redelivered. Tasks that exhaust their
// attempts are pushed onto a dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/covasa/backoffice/internal/obs"
	"github.com/covasa/backoffice/internal/resilience"
)

const (
	defaultMaxAttempts  = 8
	defaultDedupTTL     = 24 * time.Hour
	defaultVisibility   = 30 * time.Second
	defaultRetryBase    = 500 * time.Millisecond
	defaultPollInterval = 100 * time.Millisecond
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("queue: permanent failure")

// Permanent wraps err so the worker dead-letters the task immediately.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// Decode unmarshals the JSON payload into dst.
func (t Task) Decode(dst any) error {
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	keys := keyspace(e.Prefix)
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		ok, err := e.R.SetNX(ctx, keys.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// EnqueueJSON marshals payload and enqueues it under kind.
func (e Enqueuer) EnqueueJSON(ctx context.Context, kind, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s payload: %w", kind, err)
	}
	return e.Enqueue(ctx, Task{Kind: kind, Payload: raw, IdempotencyKey: key})
}

// Handler processes one task.
type Handler func(context.Context, Task) error

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           Handler
	RetryBase         time.Duration
	RetryJitter       float64
	PollInterval      time.Duration
	Logger            zerolog.Logger
}

// Run starts processing tasks until the context is cancelled. In-flight
// handlers are awaited before Run returns.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency := firstPositive(w.Concurrency, 1)
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	keys := keyspace(w.Prefix)
	log := w.Logger.With().Str("kind", kind).Logger()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeueTicker := time.NewTicker(max(visibility/4, poll))
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeueTicker.C:
			if n, err := w.requeueExpired(ctx, keys, kind); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("queue_requeue_failed")
			} else if n > 0 {
				log.Warn().Int("count", n).Msg("queue_redelivered")
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, keys, kind, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("queue_claim_failed")
			if !sleepCtx(ctx, poll) {
				return nil
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, poll) {
				return nil
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			w.process(ctx, keys, raw, msg, log)
		}()
	}
}

// claim pops the earliest due task and moves it to the processing set.
func (w Worker) claim(ctx context.Context, keys keyspace, kind string, visibility time.Duration) (taskMessage, string, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, keys.ready(kind), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return taskMessage{}, "", false, err
	}
	if len(due) == 0 {
		return taskMessage{}, "", false, nil
	}
	member := due[0]
	removed, err := w.R.ZRem(ctx, keys.ready(kind), member).Result()
	if err != nil {
		return taskMessage{}, "", false, err
	}
	if removed == 0 {
		// another worker claimed it first
		return taskMessage{}, "", false, nil
	}
	msg, err := decodeMessage(member)
	if err != nil {
		w.Logger.Error().Err(err).Str("kind", kind).Msg("queue_bad_message")
		_ = w.R.LPush(ctx, keys.dlq(kind), member).Err()
		return taskMessage{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", false, err
	}
	raw := string(encoded)
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, keys.processing(kind), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return taskMessage{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) process(ctx context.Context, keys keyspace, raw string, msg taskMessage, log zerolog.Logger) {
	jobCtx := log.With().Int("attempt", msg.Attempt).Str("key", msg.Key).Logger().WithContext(ctx)
	jobCtx, end := obs.StartSpan(jobCtx, "queue."+msg.Kind,
		attribute.String("queue.kind", msg.Kind),
		attribute.Int("queue.attempt", msg.Attempt))
	start := time.Now()
	err := w.Handler(jobCtx, msg.task())
	observeDuration(msg.Kind, start)
	end(err)
	// bookkeeping must survive shutdown so the task is not redelivered twice
	bg := context.WithoutCancel(ctx)
	if err == nil {
		w.ack(bg, keys, raw, msg)
		countProcessed(msg.Kind, "ok")
		return
	}
	w.handleFailure(bg, keys, raw, msg, err, log)
}

func (w Worker) handleFailure(ctx context.Context, keys keyspace, raw string, msg taskMessage, cause error, log zerolog.Logger) {
	_ = w.R.ZRem(ctx, keys.processing(msg.Kind), raw).Err()
	msg.LastError = cause.Error()

	if errors.Is(cause, ErrPermanent) || msg.Attempt >= msg.MaxAttempts {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, keys.dlq(msg.Kind), encoded).Err()
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys.dedup(msg.Kind, msg.Key)).Err()
		}
		countProcessed(msg.Kind, "dead")
		log.Error().Err(cause).Int("attempt", msg.Attempt).Str("key", msg.Key).Msg("queue_task_dead")
		return
	}

	base := w.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, keys.ready(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err()
	countProcessed(msg.Kind, "retry")
	log.Warn().Err(cause).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
}

func (w Worker) ack(ctx context.Context, keys keyspace, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, keys.processing(msg.Kind), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys.dedup(msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired moves processing entries past their visibility deadline back
// to the ready set.
func (w Worker) requeueExpired(ctx context.Context, keys keyspace, kind string) (int, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	due, err := w.R.ZRangeByScore(ctx, keys.processing(kind), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	moved := 0
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, keys.processing(kind), raw).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := w.R.ZAdd(ctx, keys.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	if msg.Kind == "" {
		return taskMessage{}, errors.New("queue: message without kind")
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}

func (m taskMessage) task() Task {
	return Task{
		Kind:           m.Kind,
		Payload:        m.Payload,
		IdempotencyKey: m.Key,
		MaxAttempts:    m.MaxAttempts,
		Attempt:        m.Attempt,
	}
}
