package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// NewHTTPLoggingMiddleware logs every request once it completes, at a level
// chosen by method and status.
func NewHTTPLoggingMiddleware(logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		method := ctx.Method()
		reqURL := ctx.URL()

		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", reqURL.Path),
			slog.String("remote_addr", ctx.RemoteAddr()),
		}
		if q := redactQuery(reqURL.Query()); q != "" {
			attrs = append(attrs, slog.String("query", q))
		}
		if ua := ctx.Header("User-Agent"); ua != "" {
			attrs = append(attrs, slog.String("user_agent", ua))
		}

		next(ctx)

		status := ctx.Status()
		attrs = append(attrs,
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
		logger.LogAttrs(ctx.Context(), requestLevel(method, status), "HTTP request completed", attrs...)
	}
}

func requestLevel(method string, status int) slog.Level {
	switch {
	case method == http.MethodOptions:
		return slog.LevelDebug
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// redactQuery hides the auth parameter SSE clients use for credentials.
func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	if q.Has("auth") {
		q.Set("auth", "REDACTED")
	}
	return q.Encode()
}
