package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Checker reports whether a dependency is reachable
type Checker func(ctx context.Context) error

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp int64             `json:"timestamp"`
}

// HandleHealthCheck returns GET /health. Any failing checker turns the
// status to degraded and the response code to 503.
func HandleHealthCheck(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:    "healthy",
			Checks:    make(map[string]string, len(checks)),
			Timestamp: time.Now().Unix(),
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("⚠️ Health check failed")
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		sendJSON(w, status, resp)
	}
}
