package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/idempotency"
)

// storedResponse is the replayable form of a response cached under an
// Idempotency-Key, serialized into the shared idempotency store so a
// replayed upload gets byte-identical output even from another replica.
type storedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// responseCapture wraps http.ResponseWriter to record what the handler
// wrote.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware makes mutating requests bearing an
// Idempotency-Key header replay-safe: the first execution's 2xx response
// is registered in store, and duplicates receive the cached response with
// a replay marker header instead of re-running the handler.
func IdempotencyMiddleware(store idempotency.Store, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if cached, ok, err := store.Get(key); err == nil && ok {
				replay(w, cached)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			stored, err := json.Marshal(storedResponse{
				StatusCode:  capture.statusCode,
				ContentType: w.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				return
			}
			if _, _, err := store.Register(key, stored, ttl); err != nil {
				slog.Warn("idempotency: register failed", "key", key, "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, cached []byte) {
	var stored storedResponse
	if err := json.Unmarshal(cached, &stored); err != nil {
		WriteError(w, http.StatusConflict, "Idempotent Replay", "a request with this Idempotency-Key is already recorded")
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(stored.StatusCode)
	_, _ = w.Write(stored.Body)
}
