package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"txtconv/internal/infrastructure"
)

// HTTPMetrics records request counts, durations and in-flight requests
// against the OpenTelemetry meter. A nil metrics value is a no-op so the
// chain works with metrics disabled.
func HTTPMetrics(metrics *infrastructure.HTTPMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			metrics.ActiveRequests.Add(ctx, 1)
			defer metrics.ActiveRequests.Add(ctx, -1)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
				attribute.String("status", strconv.Itoa(ww.Status())),
			)

			metrics.RequestsTotal.Add(ctx, 1, attrs)
			metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		})
	}
}
