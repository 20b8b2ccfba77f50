package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
	"github.com/gridtrust/device-trust-server/internal/verification"
)

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := pagination(r)

	filters := storage.DeviceFilters{}
	if status := r.URL.Query().Get("status"); status != "" {
		vs := models.VerificationStatus(status)
		if !vs.Valid() {
			s.respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filters.VerificationStatus = &vs
	}
	if level := r.URL.Query().Get("trust_level"); level != "" {
		tl := models.TrustLevel(level)
		if !tl.Valid() {
			s.respondError(w, http.StatusBadRequest, "invalid trust_level filter")
			return
		}
		filters.TrustLevel = &tl
	}

	devices, total, err := s.store.ListDevices(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleSubmitDevice submits a device for verification
func (s *RESTServer) HandleSubmitDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID        string `json:"device_id" validate:"required"`
		SampleTelemetry string `json:"sample_telemetry"`
		Brand           string `json:"brand" validate:"required"`
		Model           string `json:"model" validate:"required"`
		Protocol        string `json:"protocol" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.lifecycle.Submit(r.Context(), &models.VerificationRequest{
		DeviceID:        req.DeviceID,
		SampleTelemetry: req.SampleTelemetry,
		Brand:           req.Brand,
		Model:           req.Model,
		Protocol:        req.Protocol,
	})
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	device, err := s.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	if err := s.store.DeleteDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleDeviceStatus returns the verification status of a device
func (s *RESTServer) HandleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	status, ok, err := s.lifecycle.StatusOf(r.Context(), deviceID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "device not found")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"device_id": deviceID,
		"status":    string(status),
	})
}

// HandleMarkUnderReview moves a device to UNDER_REVIEW
func (s *RESTServer) HandleMarkUnderReview(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	reviewerID := claimsFrom(r.Context()).Email

	device, err := s.lifecycle.MarkUnderReview(r.Context(), deviceID, reviewerID)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleReviewDevice records a verification decision
func (s *RESTServer) HandleReviewDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	reviewerID := claimsFrom(r.Context()).Email

	var req struct {
		Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
		Notes    string `json:"notes" validate:"max=2000"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.lifecycle.Review(r.Context(), deviceID,
		models.VerificationStatus(req.Decision), req.Notes, reviewerID)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandlePromoteDevice raises an approved device to TRUSTED
func (s *RESTServer) HandlePromoteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	reviewerID := claimsFrom(r.Context()).Email

	device, err := s.lifecycle.Promote(r.Context(), deviceID, reviewerID)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleRotateSecret generates a new auth secret for a device. The
// secret is returned once and never again.
func (s *RESTServer) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	newSecret, err := s.lifecycle.GenerateAuthSecret(r.Context(), deviceID)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"device_id":   deviceID,
		"auth_secret": newSecret,
	})
}

// HandleListReadings lists stored readings for a device
func (s *RESTServer) HandleListReadings(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	limit, offset := pagination(r)

	readings, total, err := s.store.ListReadings(r.Context(), deviceID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"readings": readings,
		"total":    total,
	})
}

// respondLifecycleError maps lifecycle errors to HTTP statuses
func (s *RESTServer) respondLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, verification.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, verification.ErrInvalidSubmission):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
