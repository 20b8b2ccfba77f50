package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Ingestion (device-facing, gated)
	r.Post("/ingest/readings", s.HandleIngestReading)

	// Edge deployments stop here; everything below needs the local
	// verification lifecycle.
	if s.lifecycle == nil {
		return
	}

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Trust endpoints consumed by remote ingestion gates
	r.Route("/trust", func(r chi.Router) {
		r.Get("/can-send-data", s.HandleCanSendData)
		r.Post("/validate-auth", s.HandleValidateAuth)
	})

	// Device registry (reviewers and provisioning)
	r.Route("/devices", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.HandleListDevices)
		r.Post("/", s.HandleSubmitDevice)
		r.Route("/{device_id}", func(r chi.Router) {
			r.Get("/", s.HandleGetDevice)
			r.Delete("/", s.HandleDeleteDevice)
			r.Get("/status", s.HandleDeviceStatus)
			r.Post("/review-start", s.HandleMarkUnderReview)
			r.Post("/review", s.HandleReviewDevice)
			r.Post("/promote", s.HandlePromoteDevice)
			r.Post("/secret", s.HandleRotateSecret)
			r.Get("/readings", s.HandleListReadings)
		})
	})

	// Security events
	r.Route("/events", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.HandleListEvents)
	})
}
