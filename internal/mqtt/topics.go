package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Connector settings that can be written over MQTT
const (
	SettingMode       = "mode"
	SettingMaxCurrent = "max_current"
)

// StatusTopic carries the bridge availability
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// StateTopic carries the retained JSON state of one charge point
func StateTopic(prefix, chargePointID string) string {
	return prefix + "/" + chargePointID + "/state"
}

// CommandTopic is where a setting of one connector is written
func CommandTopic(prefix, chargePointID string, connectorID int, setting string) string {
	return fmt.Sprintf("%s/%s/connectors/%d/%s/set", prefix, chargePointID, connectorID, setting)
}

// CommandFilter matches every command topic under prefix
func CommandFilter(prefix string) string {
	return prefix + "/+/connectors/+/+/set"
}

// Command is a parsed command topic
type Command struct {
	ChargePointID string
	ConnectorID   int
	Setting       string
}

// ParseCommandTopic splits <prefix>/<cp>/connectors/<n>/<setting>/set.
func ParseCommandTopic(prefix, topic string) (Command, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return Command{}, fmt.Errorf("topic %q is outside prefix %q", topic, prefix)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 5 || parts[1] != "connectors" || parts[4] != "set" || parts[0] == "" {
		return Command{}, fmt.Errorf("malformed command topic %q", topic)
	}

	connectorID, err := strconv.Atoi(parts[2])
	if err != nil {
		return Command{}, fmt.Errorf("invalid connector id in topic %q: %w", topic, err)
	}

	switch parts[3] {
	case SettingMode, SettingMaxCurrent:
	default:
		return Command{}, fmt.Errorf("unknown setting %q in topic %q", parts[3], topic)
	}

	return Command{ChargePointID: parts[0], ConnectorID: connectorID, Setting: parts[3]}, nil
}
