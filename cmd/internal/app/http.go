package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "deepguard/cmd/internal/auth/api"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	pool *pgxpool.Pool,
	metrics *Metrics,
	auth *authapi.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && pool != nil {
			if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	auth.Register(mux)
}
