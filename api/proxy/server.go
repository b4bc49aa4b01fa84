package proxy

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"nodeship/api/logging"
)

// NewServer wraps the routing table in an HTTP server listening on cfg.Listen.
// The table is fixed for the life of the server.
func NewServer(cfg Config, log *zap.Logger) (*http.Server, error) {
	log = logging.OrNop(log)
	rt, err := NewRouter(cfg, log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(log))
	r.Use(middleware.Recoverer)
	r.Handle("/*", rt)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Listen),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
