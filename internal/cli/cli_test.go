package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEAPI struct {
	mu     sync.Mutex
	writes []map[string]interface{}
}

func (f *fakeEAPI) handler() http.Handler {
	chargePoint := map[string]interface{}{
		"id":              "cp1",
		"name":            "Garage",
		"type":            "HALO",
		"firmwareVersion": "1.2.3",
		"connectors": []map[string]interface{}{
			{"connectorId": 2, "type": "Type2", "settings": map[string]interface{}{"mode": "Off"}},
			{"connectorId": 1, "type": "Type2", "settings": map[string]interface{}{"mode": "Charging", "maxCurrent": 10}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "access", "refreshToken": "refresh"})
	})
	mux.HandleFunc("/chargepoints/owned", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]interface{}{chargePoint})
	})
	mux.HandleFunc("/chargepoints/cp1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chargePoint)
	})
	mux.HandleFunc("/chargepoints/cp1/connectors/1/settings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.writes = append(f.writes, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func setupCLI(t *testing.T) (*fakeEAPI, string) {
	t.Helper()

	// keep config discovery away from the developer's files
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHARGEAMPS_EMAIL", "owner@example.com")
	t.Setenv("CHARGEAMPS_PASSWORD", "secret")

	fake := &fakeEAPI{}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	return fake, ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChargePointsListText(t *testing.T) {
	_, baseURL := setupCLI(t)

	out, err := runCLI(t, "chargepoints", "list", "--base-url", baseURL)
	require.NoError(t, err)

	assert.Contains(t, out, "CHARGE POINT")
	assert.Contains(t, out, "Garage")
	assert.Contains(t, out, "Charging")
	assert.Contains(t, out, "10 A")
	assert.Less(t, bytes.Index([]byte(out), []byte("Charging")), bytes.Index([]byte(out), []byte("Off")),
		"connectors should be ordered by id")
}

func TestChargePointsListJSON(t *testing.T) {
	_, baseURL := setupCLI(t)

	out, err := runCLI(t, "cp", "list", "-o", "json", "--base-url", baseURL)
	require.NoError(t, err)

	var snap map[string]struct {
		Name       string                     `json:"name"`
		Connectors map[string]json.RawMessage `json:"connectors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Contains(t, snap, "cp1")
	assert.Equal(t, "Garage", snap["cp1"].Name)
	assert.Len(t, snap["cp1"].Connectors, 2)
}

func TestChargePointsGet(t *testing.T) {
	_, baseURL := setupCLI(t)

	out, err := runCLI(t, "chargepoints", "get", "cp1", "--base-url", baseURL)
	require.NoError(t, err)
	assert.Contains(t, out, "Firmware:        1.2.3")
	assert.Contains(t, out, "CHARGING")

	out, err = runCLI(t, "chargepoints", "get", "cp1", "-o", "json", "--base-url", baseURL)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "HALO", doc["type"])
}

func TestConnectorCommands(t *testing.T) {
	fake, baseURL := setupCLI(t)

	out, err := runCLI(t, "connector", "set-current", "cp1", "1", "12.5", "--base-url", baseURL)
	require.NoError(t, err)
	assert.Contains(t, out, "max current set to 12.5 A")

	_, err = runCLI(t, "connector", "disable", "cp1", "1", "--base-url", baseURL)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.writes, 2)
	assert.Equal(t, 12.5, fake.writes[0]["maxCurrent"])
	assert.Equal(t, "Off", fake.writes[1]["mode"])
}

func TestConnectorRejectsBadArguments(t *testing.T) {
	fake, baseURL := setupCLI(t)

	_, err := runCLI(t, "connector", "enable", "cp1", "one", "--base-url", baseURL)
	assert.ErrorContains(t, err, "invalid connector id")

	_, err = runCLI(t, "connector", "set-current", "--base-url", baseURL, "--", "cp1", "1", "-3")
	assert.ErrorContains(t, err, "must not be negative")

	assert.Empty(t, fake.writes)
}

func TestMissingCredentials(t *testing.T) {
	_, baseURL := setupCLI(t)
	t.Setenv("CHARGEAMPS_PASSWORD", "")

	_, err := runCLI(t, "chargepoints", "list", "--base-url", baseURL)
	assert.ErrorContains(t, err, "CHARGEAMPS_PASSWORD")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, baseURL := setupCLI(t)

	_, err := runCLI(t, "chargepoints", "list", "-o", "yaml", "--base-url", baseURL)
	assert.ErrorContains(t, err, "invalid output format")
}

func TestInvalidBaseURLFlag(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "chargepoints", "list", "--base-url", "ftp://example.com")
	assert.ErrorContains(t, err, "base_url")
}

func TestAuthCheck(t *testing.T) {
	_, baseURL := setupCLI(t)

	out, err := runCLI(t, "auth", "check", "--base-url", baseURL)
	require.NoError(t, err)
	assert.Contains(t, out, "Authenticated as: owner@example.com")
	assert.Contains(t, out, "unknown (opaque token)")
	assert.NotContains(t, out, "secret")
}
