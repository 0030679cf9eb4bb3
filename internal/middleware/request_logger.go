package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/loomhq/loom/internal/logger"
)

// SensitiveQueryParams are query parameters redacted from request logs.
var SensitiveQueryParams = []string{"token", "password", "api_key", "secret", "apiKey"}

// RequestLogger logs one structured line per request, with sensitive query
// parameters redacted.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()

			defer func() {
				log.Info("http request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", redactSensitiveParams(r.URL),
					"remote", r.RemoteAddr,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(t1).String(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// redactSensitiveParams returns the request URI with sensitive query
// parameters replaced.
func redactSensitiveParams(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}

	query := u.Query()
	hasRedacted := false
	for _, param := range SensitiveQueryParams {
		if query.Has(param) {
			query.Set(param, "[REDACTED]")
			hasRedacted = true
		}
	}
	if !hasRedacted {
		return u.RequestURI()
	}
	return u.Path + "?" + query.Encode()
}
