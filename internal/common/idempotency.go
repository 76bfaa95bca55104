package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultIdemTTL = 24 * time.Hour

// Idem makes write endpoints safe to retry with an Idempotency-Key header.
// The first request for a key runs; a successful response is stored for TTL
// and replayed to later requests with the same key and body. Responses with
// status >= 400 release the key so the client can try again.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type idemRecord struct {
	Done        bool   `json:"done"`
	Fingerprint string `json:"fp"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func idemKey(r *http.Request, header string) string {
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware implements the replay protocol described on Idem.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = defaultIdemTTL
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
				return
			}
			JSONError(w, http.StatusBadRequest, "INVALID_BODY", "could not read request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		fp := hex.EncodeToString(sum[:])

		ctx := r.Context()
		key := idemKey(r, header)
		pending, _ := json.Marshal(idemRecord{Fingerprint: fp})
		ok, err := i.R.SetNX(ctx, key, pending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
			return
		}
		if !ok {
			i.replay(ctx, w, key, fp)
			return
		}

		bg := context.WithoutCancel(ctx)
		defer func() {
			// release the key so a panicking handler does not pin it for ttl
			if p := recover(); p != nil {
				_ = i.R.Del(bg, key).Err()
				panic(p)
			}
		}()

		rec := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusBadRequest {
			_ = i.R.Del(bg, key).Err()
			return
		}
		done, err := json.Marshal(idemRecord{
			Done:        true,
			Fingerprint: fp,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err == nil {
			_ = i.R.Set(bg, key, done, ttl).Err()
		}
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key, fp string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// released between SETNX and GET: the first attempt failed
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this key is still running", nil)
		return
	}
	var stored idemRecord
	if err == nil {
		err = json.Unmarshal(raw, &stored)
	}
	if err != nil {
		JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
		return
	}
	switch {
	case stored.Fingerprint != fp:
		JSONError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key was used with a different body", nil)
	case !stored.Done:
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this key is still running", nil)
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// responseCapture passes the response through while keeping a copy of it.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
