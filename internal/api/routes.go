package api

import (
	"net/http"

	"rombuilder/internal/health"
	"rombuilder/internal/job"
	"rombuilder/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string // empty disables authentication
	Version       string
}

type route struct {
	pattern string
	handler http.HandlerFunc
	public  bool // served without the API key
}

func routes(h *Handler) []route {
	return []route{
		{"GET /livez", h.Livez, true},
		{"GET /readyz", h.Readyz, true},
		{"GET /version", h.Version, true},

		{"POST /v1/jobs", h.CreateJob, false},
		{"GET /v1/jobs", h.ListJobs, false},
		{"GET /v1/jobs/{jobId}", h.GetJob, false},
		{"DELETE /v1/jobs/{jobId}", h.DeleteJob, false},
		{"GET /v1/jobs/{jobId}/watch", h.WatchJob, false},
	}
}

// NewRouter builds the API handler. From the outside in, requests pass
// through recovery, request IDs, logging, metrics, CORS and the
// content-type check before reaching the routes above.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.HealthChecker, cfg.Version)
	auth := AuthMiddleware(cfg.APIKey)

	mux := http.NewServeMux()
	for _, rt := range routes(handler) {
		if rt.public {
			mux.Handle(rt.pattern, rt.handler)
		} else {
			mux.Handle(rt.pattern, auth(rt.handler))
		}
	}

	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RequestIDMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
