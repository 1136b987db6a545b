package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"hipaa-training/internal/app"
	"hipaa-training/internal/observability"
)

var (
	bootOnce sync.Once
	runtime  *app.Runtime
	bootErr  error
)

// Handler is the serverless entry point. Each cold start builds the runtime
// once; the retention purge is driven by the platform cron calling
// /internal/maintenance/purge rather than by the in-process scheduler.
func Handler(w http.ResponseWriter, r *http.Request) {
	bootOnce.Do(func() {
		runtime, bootErr = app.Build(app.Options{
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
		if bootErr != nil {
			observability.CaptureError("bootstrap", bootErr)
			observability.FlushSentry()
		}
	})

	if bootErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "service unavailable"})
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}
