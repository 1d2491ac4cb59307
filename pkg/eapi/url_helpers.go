package eapi

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the production eAPI endpoint including the API version.
const DefaultBaseURL = "https://eapi.charge.space/api/v5"

const (
	loginPath       = "/auth/login"
	refreshPath     = "/auth/refreshtoken"
	ownedPointsPath = "/chargepoints/owned"
)

// BuildURL joins the base URL and an API path without doubling slashes and
// appends the encoded query, if any.
func BuildURL(baseURL, path string, query url.Values) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// ChargePointPath returns the path of a single charge point document
func ChargePointPath(chargePointID string) string {
	return "/chargepoints/" + url.PathEscape(chargePointID)
}

// ConnectorSettingsPath returns the settings path of one connector
func ConnectorSettingsPath(chargePointID string, connectorID int) string {
	return ChargePointPath(chargePointID) + "/connectors/" + strconv.Itoa(connectorID) + "/settings"
}
