package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type metrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimitHits   *prometheus.CounterVec
	generations     *prometheus.CounterVec
	edits           *prometheus.CounterVec
	warnings        *prometheus.CounterVec
}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.metrics = metrics{
			requestTotal: registerCounter(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "manifestor",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Count of processed HTTP requests",
			}, []string{"method", "route", "status"})),
			requestDuration: registerHistogram(prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "manifestor",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution of HTTP handlers",
				Buckets:   histogramBuckets,
			}, []string{"method", "route", "status"})),
			rateLimitHits: registerCounter(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "manifestor",
				Subsystem: "api",
				Name:      "rate_limit_hits_total",
				Help:      "Number of rate-limited responses",
			}, []string{"route", "key"})),
			generations: registerCounter(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "manifestor",
				Subsystem: "pipeline",
				Name:      "generations_total",
				Help:      "Generations by detected language and outcome",
			}, []string{"language", "outcome"})),
			edits: registerCounter(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "manifestor",
				Subsystem: "pipeline",
				Name:      "edits_total",
				Help:      "Refinement requests by outcome",
			}, []string{"outcome"})),
			warnings: registerCounter(prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "manifestor",
				Subsystem: "pipeline",
				Name:      "warnings_total",
				Help:      "Report warnings by code",
			}, []string{"code"})),
		}
		r.metricsInitialized = true
	})
}

func registerCounter(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func registerHistogram(h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(h); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return h
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"route", route,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if subject := recorder.subject; subject != "" {
			fields = append(fields, "subject", subject)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

func (r *Router) recordRequest(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.metrics.requestTotal.With(labels).Inc()
	r.metrics.requestDuration.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.metrics.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordGeneration(language, outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.metrics.generations.With(prometheus.Labels{"language": language, "outcome": outcome}).Inc()
}

func (r *Router) recordEdits(outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.metrics.edits.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (r *Router) recordWarnings(codes []string) {
	if !r.metricsInitialized {
		return
	}
	for _, code := range codes {
		r.metrics.warnings.With(prometheus.Labels{"code": code}).Inc()
	}
}
