// metrics.go — Prometheus метрики HTTP-запросов access-module.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_module_http_requests_total",
			Help: "Общее количество HTTP-запросов к access-module",
		},
		[]string{"method", "route", "status"},
	)

	// SSE-потоки /session/events живут долго и в гистограмму не попадают.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_module_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к access-module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// streamRoutes — маршруты с долгоживущим ответом.
var streamRoutes = map[string]bool{"/session/events": true}

// MetricsMiddleware считает запросы и их длительность по шаблону маршрута chi.
// Запросы, не совпавшие ни с одним маршрутом, учитываются как "other".
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			if !streamRoutes[route] {
				httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}
		})
	}
}

// routeLabel — шаблон маршрута, по которому chi обработал запрос.
// Заполняется роутером во время ServeHTTP, поэтому читается после него.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "other"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "other"
}
