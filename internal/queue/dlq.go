package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stats summarises one queue kind.
type Stats struct {
	Kind        string `json:"kind"`
	Ready       int64  `json:"ready"`
	Processing  int64  `json:"processing"`
	Dead        int64  `json:"dead"`
	OldestLagMS int64  `json:"oldestLagMs"`
}

// DeadTask is a dead-lettered task as shown to operators.
type DeadTask struct {
	Kind           string `json:"kind"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError,omitempty"`
	Payload        []byte `json:"payload"`
}

// Inspector reads queue state and replays dead-lettered tasks.
type Inspector struct {
	Queue Enqueuer
}

// Stats reports queue depth figures and refreshes the gauges for kind.
func (in Inspector) Stats(ctx context.Context, kind string) (Stats, error) {
	kind, err := in.kind(kind)
	if err != nil {
		return Stats{}, err
	}
	keys := keyspace(in.Queue.Prefix)
	pipe := in.Queue.R.Pipeline()
	ready := pipe.ZCard(ctx, keys.ready(kind))
	processing := pipe.ZCard(ctx, keys.processing(kind))
	dead := pipe.LLen(ctx, keys.dlq(kind))
	oldest := pipe.ZRangeWithScores(ctx, keys.ready(kind), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}

	st := Stats{Kind: kind, Ready: ready.Val(), Processing: processing.Val(), Dead: dead.Val()}
	if z := oldest.Val(); len(z) > 0 {
		ts := time.Unix(0, int64(z[0].Score))
		if lag := time.Since(ts); lag > 0 {
			st.OldestLagMS = lag.Milliseconds()
		}
	}
	QueueDepth.WithLabelValues(kind).Set(float64(st.Ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(st.Dead))
	return st, nil
}

// Dead lists dead-lettered tasks, newest first.
func (in Inspector) Dead(ctx context.Context, kind string, offset, limit int) ([]DeadTask, int64, error) {
	kind, err := in.kind(kind)
	if err != nil {
		return nil, 0, err
	}
	key := keyspace(in.Queue.Prefix).dlq(kind)
	total, err := in.Queue.R.LLen(ctx, key).Result()
	if err != nil {
		return nil, 0, err
	}
	raws, err := in.Queue.R.LRange(ctx, key, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, err
	}
	out := make([]DeadTask, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		out = append(out, DeadTask{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Attempts:       msg.Attempt,
			LastError:      msg.LastError,
			Payload:        msg.Payload,
		})
	}
	return out, total, nil
}

// Replay moves up to limit of the oldest dead tasks back to the ready set with
// a fresh attempt budget. Entries that no longer decode are moved to the
// kind's dlq-corrupt list.
func (in Inspector) Replay(ctx context.Context, kind string, limit int) (int, error) {
	kind, err := in.kind(kind)
	if err != nil {
		return 0, err
	}
	keys := keyspace(in.Queue.Prefix)
	key := keys.dlq(kind)
	replayed := 0
	for replayed < limit {
		raw, err := in.Queue.R.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return replayed, err
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("kind", kind).Int("bytes", len(raw)).Msg("queue_dead_task_corrupt")
			if perr := in.Queue.R.LPush(context.WithoutCancel(ctx), keys.corrupt(kind), raw).Err(); perr != nil {
				_ = in.Queue.R.RPush(context.WithoutCancel(ctx), key, raw).Err()
				return replayed, perr
			}
			continue
		}
		task := msg.task()
		task.Attempt = 0
		if err := in.Queue.Enqueue(ctx, task); err != nil {
			// put it back so nothing is lost
			_ = in.Queue.R.RPush(context.WithoutCancel(ctx), key, raw).Err()
			return replayed, err
		}
		replayed++
	}
	QueueDLQSize.WithLabelValues(kind).Set(float64(in.Queue.R.LLen(ctx, key).Val()))
	return replayed, nil
}

func (in Inspector) kind(kind string) (string, error) {
	if in.Queue.R == nil {
		return "", errors.New("queue: redis client not configured")
	}
	k := sanitizeKind(kind)
	if k == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return k, nil
}

// ErrInvalidKind reports a malformed queue kind.
var ErrInvalidKind = errors.New("queue: invalid kind")
