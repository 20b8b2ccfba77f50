package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/gate"
	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

// NATSSubscriber consumes telemetry published on the internal bus.
// Every message passes through the same security gate as the HTTP
// ingest path before it is persisted.
type NATSSubscriber struct {
	nc    *nats.Conn
	store storage.Store
	gate  *gate.Gate
	subs  []*nats.Subscription
}

// NewNATSSubscriber creates a NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, store storage.Store, g *gate.Gate) *NATSSubscriber {
	return &NATSSubscriber{
		nc:    nc,
		store: store,
		gate:  g,
		subs:  make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until the context is done
func (s *NATSSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe("telemetry.device.*.rx", s.handleTelemetry)
	if err != nil {
		return fmt.Errorf("subscribe telemetry: %w", err)
	}
	s.subs = append(s.subs, sub)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// telemetryMessage is the wire format on telemetry.device.*.rx
type telemetryMessage struct {
	DeviceID   string `json:"device_id"`
	Payload    string `json:"payload"`
	AuthSecret string `json:"auth_secret,omitempty"`
}

// handleTelemetry gates and stores one telemetry message
func (s *NATSSubscriber) handleTelemetry(msg *nats.Msg) {
	ctx := context.Background()

	var tm telemetryMessage
	if err := json.Unmarshal(msg.Data, &tm); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).
			Msg("Dropping malformed telemetry message")
		return
	}

	if tm.DeviceID == "" {
		log.Warn().Str("subject", msg.Subject).
			Msg("Dropping telemetry message without device_id")
		return
	}

	decision := s.gate.Validate(ctx, tm.DeviceID, tm.Payload, tm.AuthSecret)
	if !decision.Accepted {
		log.Debug().
			Str("device_id", tm.DeviceID).
			Str("reason", string(decision.Reason)).
			Msg("Telemetry rejected by security gate")
		return
	}

	reading := &models.TelemetryReading{
		DeviceID: tm.DeviceID,
		Payload:  tm.Payload,
		Source:   models.ReadingSourceNATS,
	}

	if err := s.store.CreateReading(ctx, reading); err != nil {
		log.Error().Err(err).Str("device_id", tm.DeviceID).
			Msg("Failed to store telemetry reading")
	}
}
