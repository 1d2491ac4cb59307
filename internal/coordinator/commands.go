package coordinator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"chargeamps/internal/metrics"
)

// ConnectorWriter is the write side of the eAPI used for commands.
type ConnectorWriter interface {
	SetConnectorMode(ctx context.Context, chargePointID string, connectorID int, mode string) (any, error)
	SetConnectorMaxCurrent(ctx context.Context, chargePointID string, connectorID int, amps float64) (any, error)
}

// ValidationError is returned for command arguments rejected before any
// request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CommandGateway sends connector writes and, once the service accepts them,
// patches the coordinator's snapshot so readers see the new value before the
// next poll.
type CommandGateway struct {
	writer      ConnectorWriter
	coordinator *Coordinator
}

// NewCommandGateway creates a CommandGateway patching coord
func NewCommandGateway(writer ConnectorWriter, coord *Coordinator) *CommandGateway {
	return &CommandGateway{writer: writer, coordinator: coord}
}

// SetMode writes the connector mode. The snapshot is only patched after the
// service accepted the write; errors are returned without retry.
func (g *CommandGateway) SetMode(ctx context.Context, chargePointID string, connectorID int, mode string) error {
	if mode == "" {
		return &ValidationError{Field: "mode", Reason: "must not be empty"}
	}

	start := time.Now()
	_, err := g.writer.SetConnectorMode(ctx, chargePointID, connectorID, mode)
	g.record("set_mode", start, err)
	if err != nil {
		return fmt.Errorf("failed to set mode of connector %d on %s: %w", connectorID, chargePointID, err)
	}

	g.patch(chargePointID, connectorID, "mode", mode)
	return nil
}

// SetMaxCurrent writes the connector current limit in amperes.
func (g *CommandGateway) SetMaxCurrent(ctx context.Context, chargePointID string, connectorID int, amps float64) error {
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return &ValidationError{Field: "maxCurrent", Reason: "must be a finite number"}
	}
	if amps < 0 {
		return &ValidationError{Field: "maxCurrent", Reason: "must not be negative"}
	}

	start := time.Now()
	_, err := g.writer.SetConnectorMaxCurrent(ctx, chargePointID, connectorID, amps)
	g.record("set_max_current", start, err)
	if err != nil {
		return fmt.Errorf("failed to set max current of connector %d on %s: %w", connectorID, chargePointID, err)
	}

	g.patch(chargePointID, connectorID, "maxCurrent", amps)
	return nil
}

// Enable switches the connector to charging mode
func (g *CommandGateway) Enable(ctx context.Context, chargePointID string, connectorID int) error {
	return g.SetMode(ctx, chargePointID, connectorID, ModeCharging)
}

// Disable switches the connector off
func (g *CommandGateway) Disable(ctx context.Context, chargePointID string, connectorID int) error {
	return g.SetMode(ctx, chargePointID, connectorID, ModeOff)
}

func (g *CommandGateway) patch(chargePointID string, connectorID int, key string, value any) {
	if g.coordinator == nil {
		return
	}
	if !g.coordinator.patchConnectorSetting(chargePointID, connectorID, key, value) {
		log.Warn().
			Str("charge_point_id", chargePointID).
			Int("connector_id", connectorID).
			Str("setting", key).
			Msg("Write accepted for a connector missing from the snapshot, skipping local patch")
		return
	}
	log.Info().
		Str("charge_point_id", chargePointID).
		Int("connector_id", connectorID).
		Str("setting", key).
		Interface("value", value).
		Msg("Connector setting updated")
}

func (g *CommandGateway) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.CommandsTotal.WithLabelValues(operation, status).Inc()
	metrics.CommandDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
