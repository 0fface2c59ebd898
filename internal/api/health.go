package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zavodtech/yaroslav/internal/gpu"
)

// health reports liveness. When a scheduler is wired it also exposes the
// resident model class, which makes GPU state visible to operators.
func health(sched *gpu.Scheduler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if sched != nil {
			body["gpu_resident"] = string(sched.Resident(gpu.DefaultSlot))
		}
		writeJSON(w, http.StatusOK, body)
	})
}

// readiness reports whether the server can serve traffic. With a pool wired
// it pings the database; without one the store is in-memory and always ready.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"detail": "database unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}
