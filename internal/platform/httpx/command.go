package httpx

import (
	"log/slog"
	"net/http"

	"github.com/lubepos/lubepos/internal/shared"
)

// Fail responds with err and logs storage failures.
func Fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if logger != nil && shared.KindFor(err) == shared.KindStorageFailure {
		logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	RespondError(w, err)
}

// Committed responds with a mutating command's result and notifies listeners of
// the collections it changed.
func Committed(w http.ResponseWriter, r *http.Request, notifier shared.ChangeNotifier, logger *slog.Logger, status int, body any, changed shared.ChangeSet) {
	if notifier != nil && len(changed) > 0 {
		if err := notifier.Invalidate(r.Context(), changed); err != nil && logger != nil {
			logger.Warn("invalidate cached queries", slog.Any("error", err), slog.Any("changed", changed))
		}
	}
	JSON(w, status, body)
}
