package coordinator

import (
	"encoding/json"
	"strconv"
)

// Connector mode values accepted by the eAPI
const (
	ModeCharging = "Charging"
	ModeOff      = "Off"
)

// ChargePoint is the normalized view of one owned charge point.
type ChargePoint struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	FirmwareVersion string            `json:"firmwareVersion,omitempty"`
	HardwareVersion string            `json:"hardwareVersion,omitempty"`
	IsLoadbalanced  bool              `json:"isLoadbalanced"`
	OwnerReadOnly   bool              `json:"ownerReadOnly"`
	OCPPVersion     string            `json:"ocppVersion,omitempty"`
	Settings        map[string]any    `json:"settings"`
	Connectors      map[int]Connector `json:"connectors"`
}

// Connector is one outlet of a charge point. Settings is kept exactly as the
// remote service sent it.
type Connector struct {
	ID            int            `json:"connectorId"`
	ChargePointID string         `json:"chargePointId"`
	Type          string         `json:"type"`
	UserID        string         `json:"userId,omitempty"`
	Settings      map[string]any `json:"settings"`
}

// Mode returns settings.mode, or "" when absent.
func (c Connector) Mode() string {
	s, _ := c.Settings["mode"].(string)
	return s
}

// MaxCurrent returns settings.maxCurrent in amperes.
func (c Connector) MaxCurrent() (float64, bool) {
	return toFloat(c.Settings["maxCurrent"])
}

// Charging reports whether the connector is enabled for charging
func (c Connector) Charging() bool {
	return c.Mode() == ModeCharging
}

// Snapshot maps charge point id to charge point. A published Snapshot is never
// modified; writers build a new one.
type Snapshot map[string]ChargePoint

// ChargePointIDs returns the ids in the snapshot, unordered.
func (s Snapshot) ChargePointIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// ConnectorCount returns the total number of connectors across charge points
func (s Snapshot) ConnectorCount() int {
	n := 0
	for _, cp := range s {
		n += len(cp.Connectors)
	}
	return n
}

// withConnectorSetting returns a copy of s in which one connector setting holds
// value. Only the touched maps are copied; untouched settings maps are shared
// with s. ok is false when the connector is unknown.
func (s Snapshot) withConnectorSetting(chargePointID string, connectorID int, key string, value any) (Snapshot, bool) {
	cp, ok := s[chargePointID]
	if !ok {
		return nil, false
	}
	conn, ok := cp.Connectors[connectorID]
	if !ok {
		return nil, false
	}

	settings := make(map[string]any, len(conn.Settings)+1)
	for k, v := range conn.Settings {
		settings[k] = v
	}
	settings[key] = value

	conn.Settings = settings

	connectors := make(map[int]Connector, len(cp.Connectors))
	for id, c := range cp.Connectors {
		connectors[id] = c
	}
	connectors[connectorID] = conn
	cp.Connectors = connectors

	next := make(Snapshot, len(s))
	for id, c := range s {
		next[id] = c
	}
	next[chargePointID] = cp
	return next, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
