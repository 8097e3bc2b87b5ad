package httpx

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthHandler returns 200 when every check passes and 503 otherwise. HEAD gets headers only.
func healthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp, code := healthResponse{Status: "ok"}, http.StatusOK
		for _, check := range checks {
			if err := check(ctx); err != nil {
				resp, code = healthResponse{Status: "unavailable", Error: err.Error()}, http.StatusServiceUnavailable
				break
			}
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			return
		}
		WriteJSON(w, code, resp)
	}
}
