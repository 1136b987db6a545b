package observability

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// quietPaths are logged at debug level so probes do not flood the log.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.statusCode = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(body)
}

// RequestLoggingMiddleware logs one line per request and feeds the request
// counters. Only the path is logged; query strings may carry tokens.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.statusCode,
			"duration_ms": elapsed.Milliseconds(),
		}
		switch {
		case recorder.statusCode >= http.StatusInternalServerError:
			logger.Error("http_request", fields)
		case isQuiet(r.URL.Path):
			logger.Debug("http_request", fields)
		default:
			logger.Info("http_request", fields)
		}
	})
}

// RecoverMiddleware turns a handler panic into a 500 and reports it on a
// request-scoped Sentry hub.
func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(r)
		ctx := sentry.SetHubOnContext(r.Context(), hub)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("component", "http")
				scope.SetExtra("stack", string(debug.Stack()))
				hub.Recover(rec)
			})

			logger.Error("panic_recovered", map[string]any{
				"path":   r.URL.Path,
				"method": r.Method,
				"panic":  rec,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isQuiet(path string) bool {
	_, ok := quietPaths[path]
	return ok
}
