package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargeamps/internal/coordinator"
	"chargeamps/pkg/config"
	"chargeamps/pkg/eapi"
)

type sourceFunc func(ctx context.Context) ([]any, error)

func (f sourceFunc) GetChargePoints(ctx context.Context) ([]any, error) {
	return f(ctx)
}

type call struct {
	op        string
	cp        string
	connector int
	value     interface{}
}

type fakeCommands struct {
	calls []call
	err   error
}

func (f *fakeCommands) SetMode(_ context.Context, cp string, conn int, mode string) error {
	f.calls = append(f.calls, call{"mode", cp, conn, mode})
	return f.err
}

func (f *fakeCommands) SetMaxCurrent(_ context.Context, cp string, conn int, amps float64) error {
	f.calls = append(f.calls, call{"max_current", cp, conn, amps})
	return f.err
}

func (f *fakeCommands) Enable(_ context.Context, cp string, conn int) error {
	f.calls = append(f.calls, call{"enable", cp, conn, nil})
	return f.err
}

func (f *fakeCommands) Disable(_ context.Context, cp string, conn int) error {
	f.calls = append(f.calls, call{"disable", cp, conn, nil})
	return f.err
}

func chargePointDocs() []any {
	return []any{
		map[string]any{
			"id":   "cp2",
			"name": "Garage",
			"connectors": []any{
				map[string]any{"connectorId": float64(1), "settings": map[string]any{"mode": "Off", "maxCurrent": float64(16)}},
			},
		},
		map[string]any{"id": "cp1", "name": "Driveway"},
	}
}

func newTestServer(t *testing.T, commands *fakeCommands) (*coordinator.Coordinator, *httptest.Server) {
	t.Helper()

	coord := coordinator.New(sourceFunc(func(context.Context) ([]any, error) {
		return chargePointDocs(), nil
	}), coordinator.Options{})
	require.NoError(t, coord.Refresh(context.Background()))

	srv := New(config.ServerConfig{ListenAddress: ":0"}, coord, commands)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return coord, ts
}

func doRequest(t *testing.T, method, url, payload string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealthAndStatus(t *testing.T) {
	_, ts := newTestServer(t, &fakeCommands{})

	resp, body := doRequest(t, "GET", ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "idle", health["state"])
	assert.Equal(t, float64(2), health["charge_points"])

	resp, body = doRequest(t, "GET", ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Coordinator struct {
			Outcome    string `json:"outcome"`
			Connectors int    `json:"connectors"`
		} `json:"coordinator"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "published", status.Coordinator.Outcome)
	assert.Equal(t, 1, status.Coordinator.Connectors)
}

func TestListChargePointsSortedByID(t *testing.T) {
	_, ts := newTestServer(t, &fakeCommands{})

	resp, body := doRequest(t, "GET", ts.URL+"/api/v1/chargepoints", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cps []coordinator.ChargePoint
	require.NoError(t, json.Unmarshal(body, &cps))
	require.Len(t, cps, 2)
	assert.Equal(t, "cp1", cps[0].ID)
	assert.Equal(t, "cp2", cps[1].ID)
	assert.Equal(t, "Off", cps[1].Connectors[1].Mode())
}

func TestGetChargePoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeCommands{})

	resp, body := doRequest(t, "GET", ts.URL+"/api/v1/chargepoints/cp2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cp coordinator.ChargePoint
	require.NoError(t, json.Unmarshal(body, &cp))
	assert.Equal(t, "Garage", cp.Name)

	resp, body = doRequest(t, "GET", ts.URL+"/api/v1/chargepoints/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "charge point missing not found")
}

func TestConnectorCommands(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   call
	}{
		{"mode", "PUT", "/mode", `{"mode":"Charging"}`, call{"mode", "cp2", 1, "Charging"}},
		{"max current", "PUT", "/max-current", `{"maxCurrent":10.5}`, call{"max_current", "cp2", 1, 10.5}},
		{"enable", "POST", "/enable", "", call{"enable", "cp2", 1, nil}},
		{"disable", "POST", "/disable", "", call{"disable", "cp2", 1, nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := &fakeCommands{}
			_, ts := newTestServer(t, commands)

			resp, body := doRequest(t, tt.method, ts.URL+"/api/v1/chargepoints/cp2/connectors/1"+tt.path, tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			require.Len(t, commands.calls, 1)
			assert.Equal(t, tt.want, commands.calls[0])

			var cr CommandResponse
			require.NoError(t, json.Unmarshal(body, &cr))
			assert.Equal(t, "ok", cr.Status)
			require.NotNil(t, cr.Connector)
			assert.Equal(t, 1, cr.Connector.ID)
		})
	}
}

func TestConnectorCommandBadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed mode body", "/mode", `{`},
		{"missing max current", "/max-current", `{}`},
		{"string max current", "/max-current", `{"maxCurrent":"ten"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := &fakeCommands{}
			_, ts := newTestServer(t, commands)

			resp, _ := doRequest(t, "PUT", ts.URL+"/api/v1/chargepoints/cp2/connectors/1"+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, commands.calls)
		})
	}
}

func TestNonNumericConnectorIsNotRouted(t *testing.T) {
	commands := &fakeCommands{}
	_, ts := newTestServer(t, commands)

	resp, _ := doRequest(t, "POST", ts.URL+"/api/v1/chargepoints/cp2/connectors/abc/enable", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, commands.calls)
}

func TestCommandErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &coordinator.ValidationError{Field: "mode", Reason: "must not be empty"}, http.StatusBadRequest},
		{"remote client error", &eapi.APIError{Method: "PUT", Path: "/x", StatusCode: 404, Err: errors.New("not found")}, http.StatusNotFound},
		{"remote server error", &eapi.APIError{Method: "PUT", Path: "/x", StatusCode: 500, Err: errors.New("boom")}, http.StatusBadGateway},
		{"transport", &eapi.APIError{Method: "PUT", Path: "/x", Err: eapi.ErrTransport}, http.StatusBadGateway},
		{"auth", &eapi.AuthError{Op: "login", StatusCode: 401, Err: errors.New("bad credentials")}, http.StatusBadGateway},
		{"deadline", fmt.Errorf("failed: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := &fakeCommands{err: fmt.Errorf("failed to set mode: %w", tt.err)}
			_, ts := newTestServer(t, commands)

			resp, body := doRequest(t, "POST", ts.URL+"/api/v1/chargepoints/cp2/connectors/1/enable", "")
			assert.Equal(t, tt.want, resp.StatusCode)

			var er ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.NotEmpty(t, er.Error)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeCommands{})

	// one request so the http series exist
	doRequest(t, "GET", ts.URL+"/health", "")

	resp, body := doRequest(t, "GET", ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chargeamps_http_requests_total")
}

func TestEventStream(t *testing.T) {
	coord, ts := newTestServer(t, &fakeCommands{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, EventSnapshot, first.Kind)
	assert.Len(t, first.ChargePoints, 2)

	// the subscription is registered before the first event is written
	require.NoError(t, coord.Refresh(context.Background()))

	var next Event
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, coordinator.UpdateRefreshed, next.Kind)
	assert.Contains(t, next.ChargePoints, "cp1")
}

func TestNewEventCarriesErrorAndWarnings(t *testing.T) {
	ev := newEvent(coordinator.Update{
		Kind: coordinator.UpdateFailed,
		Err:  errors.New("upstream unavailable"),
		Warnings: []coordinator.PartialDataWarning{
			{Kind: coordinator.WarnChargePoint, Index: 3, Reason: "missing id"},
		},
	})

	assert.Equal(t, "upstream unavailable", ev.Error)
	assert.Equal(t, []string{"skipped chargepoint #3: missing id"}, ev.Warnings)
}
