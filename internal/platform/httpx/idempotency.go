package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lubepos/lubepos/internal/shared"
)

// Idempotency headers.
const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotent-Replayed"
)

const maxIdempotencyKey = 128

// Idempotent replays the stored response of a mutating request that repeats its
// Idempotency-Key. Keys are scoped to the acting user and route. Server errors
// release the key so the request can be retried.
func Idempotent(store shared.IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if store == nil || raw == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxIdempotencyKey {
				BadRequest(w, "idempotency key too long")
				return
			}
			var userID int64
			if actor, ok := shared.ActorFromContext(r.Context()); ok {
				userID = actor.UserID
			}
			key := fmt.Sprintf("lubepos:idempotency:%d:%s:%s:%s", userID, r.Method, r.URL.Path, raw)

			stored, err := store.Begin(r.Context(), key)
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				Problem(w, http.StatusConflict, "Conflict", "a request with this idempotency key is still in progress")
				return
			}
			if err != nil {
				Fail(w, r, logger, err)
				return
			}
			if stored != nil {
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set(IdempotencyReplayedHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil && logger != nil {
					logger.Warn("release idempotency key", slog.Any("error", err))
				}
				return
			}
			resp := shared.IdempotentResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := store.Complete(ctx, key, resp); err != nil && logger != nil {
				logger.Warn("store idempotent response", slog.Any("error", err))
			}
		})
	}
}

type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
