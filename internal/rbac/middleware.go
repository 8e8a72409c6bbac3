package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lubepos/lubepos/internal/platform/httpx"
	"github.com/lubepos/lubepos/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Policy *Policy
	Logger *slog.Logger
}

// RequireAny ensures the current actor may run at least one of the commands.
func (m Middleware) RequireAny(commands ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(commands) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			var lastErr error
			for _, cmd := range commands {
				err := m.Policy.Authorize(r.Context(), cmd)
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
				lastErr = err
			}
			if m.Logger != nil && !errors.Is(lastErr, shared.ErrPermissionDenied) {
				m.Logger.Error("rbac require any", slog.Any("error", lastErr))
			}
			httpx.RespondError(w, lastErr)
		})
	}
}
