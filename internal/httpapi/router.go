package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter 注册诊断和指标路由
func NewRouter(doctor *DoctorHandler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", doctor.HealthCheck)
	r.Get("/healthz", doctor.HealthCheck)
	r.Get("/ready", doctor.Ready)
	r.Get("/readyz", doctor.Ready)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
