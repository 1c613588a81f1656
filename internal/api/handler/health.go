package handler

import (
	"log/slog"
	"net/http"

	"github.com/rahulkarwa/promptpoll/internal/api/response"
	"github.com/rahulkarwa/promptpoll/internal/cache"
	"github.com/rahulkarwa/promptpoll/internal/store"
)

// NewHealthHandler reports connectivity for the database and the cache.
func NewHealthHandler(st store.Store, ca cache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{"database": "ok", "cache": "ok"}
		healthy := true

		if err := st.Ping(ctx); err != nil {
			logger.Error("database health check", "error", err)
			status["database"] = "unreachable"
			healthy = false
		}
		if ca != nil {
			if err := ca.Ping(ctx); err != nil {
				logger.Error("cache health check", "error", err)
				status["cache"] = "unreachable"
				healthy = false
			}
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "One or more dependencies are unreachable", status)
			return
		}
		response.JSON(w, status)
	}
}
