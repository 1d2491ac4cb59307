package eapi

import (
	"net/url"
	"testing"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
		query   url.Values
		want    string
	}{
		{"plain", "https://eapi.charge.space/api/v5", "/chargepoints/owned", nil, "https://eapi.charge.space/api/v5/chargepoints/owned"},
		{"trailing slash", "https://eapi.charge.space/api/v5/", "/auth/login", nil, "https://eapi.charge.space/api/v5/auth/login"},
		{"missing leading slash", "http://localhost:8080", "auth/login", nil, "http://localhost:8080/auth/login"},
		{"query", "http://localhost", "/x", url.Values{"a": {"1"}}, "http://localhost/x?a=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildURL(tt.baseURL, tt.path, tt.query); got != tt.want {
				t.Errorf("BuildURL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConnectorSettingsPath(t *testing.T) {
	if got := ConnectorSettingsPath("2012-0012", 1); got != "/chargepoints/2012-0012/connectors/1/settings" {
		t.Errorf("unexpected path: %s", got)
	}
	if got := ChargePointPath("a/b"); got != "/chargepoints/a%2Fb" {
		t.Errorf("charge point id must be escaped, got %s", got)
	}
}
