package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/justinas/alice"
	"go.uber.org/zap"
)

// logMiddleware builds the access-log chain: request id, panic recovery and
// one zap line per request.
func logMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(middleware.RequestID)
	c = c.Append(middleware.RealIP)
	c = c.Append(middleware.Recoverer)
	c = c.Append(accessLog(log))
	return c.Then
}

func accessLog(log *zap.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("REQ",
				zap.String("verb", r.Method),
				zap.String("url", r.URL.String()),
				zap.Int("status", status),
				zap.Int("size", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("ip", r.RemoteAddr),
				zap.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
