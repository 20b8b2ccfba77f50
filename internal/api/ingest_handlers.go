package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

// notAuthorizedMessage is the single body every rejected ingestion
// receives. The specific reason stays in the audit log; revealing it
// would help an attacker enumerate device IDs or probe secrets.
const notAuthorizedMessage = "device not authorized to send data"

// HandleIngestReading accepts a telemetry reading after it passes the
// security gate
func (s *RESTServer) HandleIngestReading(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"device_id" validate:"required"`
		Payload    string `json:"payload" validate:"required"`
		AuthSecret string `json:"auth_secret"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision := s.gate.Validate(r.Context(), req.DeviceID, req.Payload, req.AuthSecret)
	if !decision.Accepted {
		s.respondError(w, http.StatusUnauthorized, notAuthorizedMessage)
		return
	}

	reading := &models.TelemetryReading{
		DeviceID: req.DeviceID,
		Payload:  req.Payload,
		Source:   models.ReadingSourceHTTP,
	}

	if err := s.store.CreateReading(r.Context(), reading); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}

	s.touchLastSeen(r, req.DeviceID)

	s.respondJSON(w, http.StatusCreated, reading)
}

// touchLastSeen updates the device's last-seen timestamp, best-effort.
// Edge deployments have no local device rows; a miss is not an error.
// Only the last-seen column is written, so a review decision or secret
// rotation committing mid-request is never overwritten by a stale row.
func (s *RESTServer) touchLastSeen(r *http.Request, deviceID string) {
	err := s.store.TouchDeviceLastSeen(r.Context(), deviceID, time.Now())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("device_id", deviceID).
			Msg("Failed to update last seen")
	}
}

// ========== Trust endpoints (server side of the authority client) ==========

// HandleCanSendData reports whether a device may send telemetry
func (s *RESTServer) HandleCanSendData(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		s.respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	allowed, err := s.lifecycle.CanSendData(r.Context(), deviceID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// HandleValidateAuth validates a device auth secret
func (s *RESTServer) HandleValidateAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"device_id" validate:"required"`
		AuthSecret string `json:"auth_secret"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DeviceID == "" {
		s.respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	valid, err := s.lifecycle.ValidateAuthSecret(r.Context(), req.DeviceID, req.AuthSecret)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}
