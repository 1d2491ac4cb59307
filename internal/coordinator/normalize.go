package coordinator

import (
	"fmt"
	"math"
	"strconv"
)

// Warning kinds
const (
	WarnChargePoint = "chargepoint"
	WarnConnector   = "connector"
)

// PartialDataWarning describes a remote record that was skipped during
// normalization. It is reported and counted, never returned as a cycle error.
type PartialDataWarning struct {
	Kind          string // WarnChargePoint or WarnConnector
	ChargePointID string // empty when the charge point itself has no id
	Index         int    // position of the record in its list
	Reason        string
}

func (w PartialDataWarning) Error() string {
	if w.ChargePointID != "" {
		return fmt.Sprintf("skipped %s #%d of charge point %s: %s", w.Kind, w.Index, w.ChargePointID, w.Reason)
	}
	return fmt.Sprintf("skipped %s #%d: %s", w.Kind, w.Index, w.Reason)
}

// Normalize turns the raw owned-charge-points documents into a Snapshot.
// Malformed records are dropped individually and reported as warnings.
func Normalize(docs []any) (Snapshot, []PartialDataWarning) {
	snap := make(Snapshot, len(docs))
	var warnings []PartialDataWarning

	for i, doc := range docs {
		obj, ok := doc.(map[string]any)
		if !ok {
			warnings = append(warnings, PartialDataWarning{Kind: WarnChargePoint, Index: i, Reason: fmt.Sprintf("not an object (%T)", doc)})
			continue
		}
		id := stringField(obj, "id")
		if id == "" {
			warnings = append(warnings, PartialDataWarning{Kind: WarnChargePoint, Index: i, Reason: "missing id"})
			continue
		}

		cp := ChargePoint{
			ID:              id,
			Name:            stringField(obj, "name"),
			Type:            stringField(obj, "type"),
			FirmwareVersion: stringField(obj, "firmwareVersion"),
			HardwareVersion: stringField(obj, "hardwareVersion"),
			IsLoadbalanced:  boolField(obj, "isLoadbalanced", false),
			OwnerReadOnly:   boolField(obj, "ownerReadOnly", true),
			OCPPVersion:     stringField(obj, "ocppVersion"),
			Settings:        mapField(obj, "settings"),
			Connectors:      make(map[int]Connector),
		}

		rawConnectors, _ := obj["connectors"].([]any)
		for j, rc := range rawConnectors {
			conn, reason := normalizeConnector(id, rc)
			if reason != "" {
				warnings = append(warnings, PartialDataWarning{Kind: WarnConnector, ChargePointID: id, Index: j, Reason: reason})
				continue
			}
			cp.Connectors[conn.ID] = conn
		}

		snap[id] = cp
	}

	return snap, warnings
}

func normalizeConnector(chargePointID string, doc any) (Connector, string) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return Connector{}, fmt.Sprintf("not an object (%T)", doc)
	}
	connectorID, reason := intField(obj, "connectorId")
	if reason != "" {
		return Connector{}, reason
	}
	return Connector{
		ID:            connectorID,
		ChargePointID: chargePointID,
		Type:          stringField(obj, "type"),
		UserID:        stringField(obj, "userId"),
		Settings:      mapField(obj, "settings"),
	}, ""
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func boolField(obj map[string]any, key string, def bool) bool {
	if v, ok := obj[key].(bool); ok {
		return v
	}
	return def
}

func mapField(obj map[string]any, key string) map[string]any {
	if v, ok := obj[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

// intField accepts JSON numbers and numeric strings holding an integral value
// that fits in an int. A non-empty reason describes why the value was refused.
func intField(obj map[string]any, key string) (int, string) {
	f, ok := toFloat(obj[key])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, "missing " + key
	}
	if f < math.MinInt || f >= math.MaxInt {
		return 0, fmt.Sprintf("%s %g out of range", key, f)
	}
	return int(f), ""
}
