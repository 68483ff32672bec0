package serverutil

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// RequestLogger logs method, path, status and duration of every request.
// Server errors are logged at warn level, the rest at debug.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", m.Code),
			slog.Duration("duration", m.Duration),
			slog.Int64("bytes", m.Written),
		}
		if m.Code >= http.StatusInternalServerError {
			slog.WarnContext(r.Context(), "http request failed", attrs...)
			return
		}
		slog.DebugContext(r.Context(), "http request", attrs...)
	})
}
