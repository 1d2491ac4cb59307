package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargeamps/internal/coordinator"
	"chargeamps/pkg/config"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) byTopic() map[string]published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]published, len(f.messages))
	for _, m := range f.messages {
		out[m.topic] = m
	}
	return out
}

type call struct {
	op            string
	chargePointID string
	connectorID   int
	mode          string
	amps          float64
}

type fakeCommander struct {
	calls []call
	err   error
}

func (f *fakeCommander) SetMode(_ context.Context, cp string, conn int, mode string) error {
	f.calls = append(f.calls, call{op: "mode", chargePointID: cp, connectorID: conn, mode: mode})
	return f.err
}

func (f *fakeCommander) SetMaxCurrent(_ context.Context, cp string, conn int, amps float64) error {
	f.calls = append(f.calls, call{op: "max_current", chargePointID: cp, connectorID: conn, amps: amps})
	return f.err
}

func newTestBridge(commands Commander) (*Bridge, *fakePublisher) {
	pub := &fakePublisher{}
	b := &Bridge{
		pub:      pub,
		cfg:      config.MQTTConfig{TopicPrefix: "chargeamps", QoS: 1, Retain: true},
		commands: commands,
		timeout:  time.Second,
	}
	return b, pub
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    call
	}{
		{"mode", "chargeamps/cp1/connectors/2/mode/set", "Charging", call{op: "mode", chargePointID: "cp1", connectorID: 2, mode: "Charging"}},
		{"mode on alias", "chargeamps/cp1/connectors/1/mode/set", "ON", call{op: "mode", chargePointID: "cp1", connectorID: 1, mode: "Charging"}},
		{"mode off alias", "chargeamps/cp1/connectors/1/mode/set", "off\n", call{op: "mode", chargePointID: "cp1", connectorID: 1, mode: "Off"}},
		{"max current", "chargeamps/cp1/connectors/2/max_current/set", " 10.5 ", call{op: "max_current", chargePointID: "cp1", connectorID: 2, amps: 10.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := &fakeCommander{}
			b, _ := newTestBridge(commands)

			require.NoError(t, b.handleCommand(context.Background(), tt.topic, []byte(tt.payload)))
			require.Len(t, commands.calls, 1)
			assert.Equal(t, tt.want, commands.calls[0])
		})
	}
}

func TestHandleCommandErrors(t *testing.T) {
	commands := &fakeCommander{}
	b, _ := newTestBridge(commands)

	assert.Error(t, b.handleCommand(context.Background(), "chargeamps/cp1/connectors/2/max_current/set", []byte("lots")))
	assert.Error(t, b.handleCommand(context.Background(), "other/cp1/connectors/2/mode/set", []byte("Off")))
	assert.Empty(t, commands.calls)

	commands.err = errors.New("HTTP 500")
	err := b.handleCommand(context.Background(), "chargeamps/cp1/connectors/2/mode/set", []byte("Off"))
	assert.EqualError(t, err, "HTTP 500")
}

func TestHandleUpdatePublishesState(t *testing.T) {
	b, pub := newTestBridge(&fakeCommander{})

	b.handleUpdate(coordinator.Update{
		Kind: coordinator.UpdateRefreshed,
		Snapshot: coordinator.Snapshot{
			"cp1": {ID: "cp1", Name: "Garage", Connectors: map[int]coordinator.Connector{
				1: {ID: 1, ChargePointID: "cp1", Settings: map[string]any{"mode": "Charging"}},
			}},
			"cp2": {ID: "cp2", Name: "Driveway"},
		},
	})

	msgs := pub.byTopic()
	require.Contains(t, msgs, "chargeamps/cp1/state")
	require.Contains(t, msgs, "chargeamps/cp2/state")
	assert.True(t, msgs["chargeamps/cp1/state"].retained)

	var state coordinator.ChargePoint
	require.NoError(t, json.Unmarshal(msgs["chargeamps/cp1/state"].payload, &state))
	assert.Equal(t, "Garage", state.Name)
	assert.True(t, state.Connectors[1].Charging())

	var status StatusMessage
	require.NoError(t, json.Unmarshal(msgs["chargeamps/status"].payload, &status))
	assert.Equal(t, "online", status.State)
	assert.Empty(t, status.LastError)
}

func TestHandleFailedUpdatePublishesError(t *testing.T) {
	b, pub := newTestBridge(&fakeCommander{})

	b.handleUpdate(coordinator.Update{Kind: coordinator.UpdateFailed, Err: errors.New("eapi unreachable")})

	msgs := pub.byTopic()
	assert.Len(t, msgs, 1)
	var status StatusMessage
	require.NoError(t, json.Unmarshal(msgs["chargeamps/status"].payload, &status))
	assert.Equal(t, "online", status.State)
	assert.Equal(t, "eapi unreachable", status.LastError)
}

func TestRunStopsWhenUpdatesClose(t *testing.T) {
	b, pub := newTestBridge(&fakeCommander{})
	updates := make(chan coordinator.Update, 1)
	updates <- coordinator.Update{Kind: coordinator.UpdatePatched, Snapshot: coordinator.Snapshot{"cp1": {ID: "cp1"}}}
	close(updates)

	b.Run(context.Background(), updates)

	msgs := pub.byTopic()
	assert.Contains(t, msgs, "chargeamps/cp1/state")
	assert.NotContains(t, msgs, "chargeamps/status", "patches only republish state")
}
