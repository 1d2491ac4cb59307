package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargeamps/pkg/eapi"
)

// fakeService is an in-memory eAPI with one charge point cp1 whose connector 2
// starts in mode Off with a 16 A limit.
type fakeService struct {
	failWrites atomic.Bool
	writes     atomic.Int32
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/auth/login":
		w.Write([]byte(`{"token": "access", "refreshToken": "refresh"}`))
	case r.URL.Path == "/chargepoints/owned":
		w.Write([]byte(`[{
			"id": "cp1",
			"name": "Garage",
			"connectors": [
				{"chargePointId": "cp1", "connectorId": 2, "type": "Type2", "settings": {"mode": "Off", "maxCurrent": 16}}
			]
		}]`))
	case r.Method == http.MethodPut && r.URL.Path == "/chargepoints/cp1/connectors/2/settings":
		f.writes.Add(1)
		if f.failWrites.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestStack(t *testing.T) (*Coordinator, *CommandGateway, *fakeService) {
	t.Helper()
	fake := &fakeService{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	gw := eapi.NewClient(eapi.ClientConfig{BaseURL: server.URL, Timeout: time.Second}, eapi.Credentials{
		Email:    "owner@example.com",
		Password: "secret",
	})
	coord := New(gw, Options{})
	require.NoError(t, coord.Refresh(context.Background()))
	return coord, NewCommandGateway(gw, coord), fake
}

func TestSetModePatchesSnapshot(t *testing.T) {
	coord, commands, _ := newTestStack(t)
	before := coord.Snapshot()

	updates, cancel := coord.Subscribe(1)
	defer cancel()

	require.NoError(t, commands.SetMode(context.Background(), "cp1", 2, "Charging"))

	assert.Equal(t, "Charging", coord.Snapshot()["cp1"].Connectors[2].Settings["mode"])
	assert.Equal(t, "Off", before["cp1"].Connectors[2].Settings["mode"], "earlier readers keep their snapshot")

	u := <-updates
	assert.Equal(t, UpdatePatched, u.Kind)
	assert.Equal(t, "Charging", u.Snapshot["cp1"].Connectors[2].Mode())
}

func TestSetMaxCurrentPatchesSnapshot(t *testing.T) {
	coord, commands, _ := newTestStack(t)

	require.NoError(t, commands.SetMaxCurrent(context.Background(), "cp1", 2, 10))

	conn, ok := coord.Connector("cp1", 2)
	require.True(t, ok)
	amps, ok := conn.MaxCurrent()
	require.True(t, ok)
	assert.Equal(t, 10.0, amps)
	assert.Equal(t, "Off", conn.Mode())
}

func TestFailedWriteLeavesSnapshotUntouched(t *testing.T) {
	coord, commands, fake := newTestStack(t)
	fake.failWrites.Store(true)

	err := commands.SetMaxCurrent(context.Background(), "cp1", 2, 6)
	require.Error(t, err)
	assert.True(t, eapi.IsAPIError(err))
	assert.Equal(t, http.StatusInternalServerError, eapi.StatusCode(err))
	assert.Equal(t, int32(1), fake.writes.Load(), "commands are not retried")

	assert.Equal(t, float64(16), coord.Snapshot()["cp1"].Connectors[2].Settings["maxCurrent"])

	err = commands.Disable(context.Background(), "cp1", 2)
	require.Error(t, err)
	assert.Equal(t, "Off", coord.Snapshot()["cp1"].Connectors[2].Mode())
}

func TestEnableDisable(t *testing.T) {
	coord, commands, _ := newTestStack(t)

	require.NoError(t, commands.Enable(context.Background(), "cp1", 2))
	conn, _ := coord.Connector("cp1", 2)
	assert.True(t, conn.Charging())

	require.NoError(t, commands.Disable(context.Background(), "cp1", 2))
	conn, _ = coord.Connector("cp1", 2)
	assert.False(t, conn.Charging())
	assert.Equal(t, ModeOff, conn.Mode())
}

type recordingWriter struct {
	calls int
	err   error
}

func (w *recordingWriter) SetConnectorMode(context.Context, string, int, string) (any, error) {
	w.calls++
	return nil, w.err
}

func (w *recordingWriter) SetConnectorMaxCurrent(context.Context, string, int, float64) (any, error) {
	w.calls++
	return nil, w.err
}

func TestCommandValidation(t *testing.T) {
	writer := &recordingWriter{}
	commands := NewCommandGateway(writer, New(staticSource(nil), Options{}))

	tests := []struct {
		name string
		call func() error
	}{
		{"empty mode", func() error { return commands.SetMode(context.Background(), "cp1", 1, "") }},
		{"negative current", func() error { return commands.SetMaxCurrent(context.Background(), "cp1", 1, -1) }},
		{"NaN current", func() error { return commands.SetMaxCurrent(context.Background(), "cp1", 1, math.NaN()) }},
		{"infinite current", func() error { return commands.SetMaxCurrent(context.Background(), "cp1", 1, math.Inf(1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
	assert.Zero(t, writer.calls, "invalid commands must not reach the service")
}

func TestWriteForUnknownConnectorIsNotFabricated(t *testing.T) {
	writer := &recordingWriter{}
	coord := New(staticSource([]any{chargePointDoc("cp1", "One", 1)}), Options{})
	require.NoError(t, coord.Refresh(context.Background()))
	commands := NewCommandGateway(writer, coord)

	require.NoError(t, commands.SetMode(context.Background(), "cp1", 7, ModeCharging))
	require.NoError(t, commands.SetMode(context.Background(), "cp9", 1, ModeCharging))

	assert.Equal(t, 2, writer.calls)
	_, ok := coord.Connector("cp1", 7)
	assert.False(t, ok)
	_, ok = coord.ChargePoint("cp9")
	assert.False(t, ok)
}
