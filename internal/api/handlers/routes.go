// routes.go — регистрация маршрутов API на chi router.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/access-engine/internal/api/openapi"
)

// UseOnAccess добавляет middleware только для выдачи доступа
// (ограничение частоты на субъекта).
func (h *APIHandler) UseOnAccess(mw ...func(http.Handler) http.Handler) {
	h.accessMiddlewares = append(h.accessMiddlewares, mw...)
}

// Routes регистрирует все маршруты API.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/openapi.yaml", openapi.Handler())

		r.Post("/documents", h.CreateDocument)
		r.Get("/documents", h.QueryDocuments)

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Delete("/", h.DeleteDocument)
			r.Put("/releasability", h.UpdateReleasability)
			r.Get("/history", h.GetDocumentHistory)
			r.Get("/grants", h.ListGrants)
			r.With(h.accessMiddlewares...).Post("/access", h.RequestAccess)
		})

		r.Put("/signing-keys/me", h.RegisterSigningKey)
		r.Post("/keys/rotate", h.RotateKey)
	})
}
