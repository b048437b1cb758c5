package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Mount registers extra read-only routes on the ops router.
type Mount func(r chi.Router)

func BootstrapOpsServer(addr string, health func(context.Context) error, l *zap.Logger, mounts ...Mount) *http.Server {
	ms := &http.Server{
		Addr:         addr,
		Handler:      NewOpsRouter(prometheus.DefaultGatherer, health, mounts...),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		l.Info("ops http listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("ops http server error", zap.Error(err))
		}
	}()

	return ms
}

func NewOpsRouter(g prometheus.Gatherer, health func(context.Context) error, mounts ...Mount) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	for _, m := range mounts {
		m(r)
	}
	return r
}
