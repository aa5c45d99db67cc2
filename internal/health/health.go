package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"fuelalert/internal/httpx"
)

// Check: проверка зависимости для readiness; nil = готово.
type Check func(ctx context.Context) error

// RegisterRoutes: /healthz (liveness) и /readyz (все checks).
func RegisterRoutes(r *mux.Router, checks map[string]Check) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readiness(checks)).Methods(http.MethodGet)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func readiness(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(names))
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[n] = err.Error()
				continue
			}
			result[n] = "ok"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "not ready"
		}
		httpx.WriteJSON(w, status, map[string]any{"status": state, "checks": result})
	}
}
