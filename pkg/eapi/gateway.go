package eapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Gateway issues authenticated requests against the eAPI. Payloads are returned
// as generic JSON document trees; shaping them is the caller's job.
type Gateway struct {
	auth *AuthClient
}

// NewGateway wraps an AuthClient; it reuses the client's transport settings.
func NewGateway(auth *AuthClient) *Gateway {
	return &Gateway{auth: auth}
}

// NewClient builds the AuthClient and Gateway pair in one call.
func NewClient(cfg ClientConfig, creds Credentials) *Gateway {
	return NewGateway(NewAuthClient(cfg, creds))
}

// Auth returns the underlying AuthClient
func (g *Gateway) Auth() *AuthClient {
	return g.auth
}

// Request performs one logical request. An unauthorized response on the first
// attempt forces a token refresh and the request is retried exactly once.
func (g *Gateway) Request(ctx context.Context, method, path string, body interface{}, query url.Values) (interface{}, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("failed to marshal body: %w", err)}
		}
	}

	requestID := uuid.NewString()
	for attempt := 0; attempt < 2; attempt++ {
		token, err := g.auth.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		status, respBody, err := g.do(ctx, method, path, payload, query, token, requestID)
		if err != nil {
			return nil, transportError(method, path, err)
		}

		log.Debug().
			Str("request_id", requestID).
			Str("method", method).
			Str("path", path).
			Int("status", status).
			Int("attempt", attempt+1).
			Dur("duration", time.Since(start)).
			Msg("eAPI request completed")

		if status == http.StatusUnauthorized {
			if attempt > 0 {
				return nil, &AuthError{Op: "request", StatusCode: status, Err: fmt.Errorf("%s %s still unauthorized after token refresh", method, path)}
			}
			log.Debug().Str("request_id", requestID).Msg("Access token rejected, refreshing")
			if err := g.auth.refreshStale(ctx, token); err != nil {
				return nil, err
			}
			continue
		}

		if status < 200 || status >= 300 {
			return nil, &APIError{
				Method:     method,
				Path:       path,
				StatusCode: status,
				Err:        errors.New(statusMessage(status, respBody)),
			}
		}

		doc, err := decodeDocument(respBody)
		if err != nil {
			return nil, transportError(method, path, err)
		}
		return doc, nil
	}

	// unreachable: the loop either returns or continues once
	return nil, &AuthError{Op: "request", StatusCode: http.StatusUnauthorized, Err: errors.New("retry budget exhausted")}
}

// do sends a single attempt under its own timeout and reads the full body.
func (g *Gateway) do(ctx context.Context, method, path string, payload []byte, query url.Values, token, requestID string) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.auth.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, BuildURL(g.auth.baseURL, path, query), bodyReader)
	if err != nil {
		return 0, nil, err
	}
	g.auth.setCommonHeaders(req)
	req.Header.Set("Authorization", bearer(token))
	req.Header.Set("X-Request-ID", requestID)

	resp, err := g.auth.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// GetChargePoints lists the charge points owned by the account, one raw
// document per charge point.
func (g *Gateway) GetChargePoints(ctx context.Context) ([]interface{}, error) {
	doc, err := g.Request(ctx, http.MethodGet, ownedPointsPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []interface{}{}, nil
	}
	list, ok := doc.([]interface{})
	if !ok {
		return nil, transportError(http.MethodGet, ownedPointsPath, fmt.Errorf("expected a list of charge points, got %T", doc))
	}
	return list, nil
}

// GetChargePoint fetches a single charge point document
func (g *Gateway) GetChargePoint(ctx context.Context, chargePointID string) (map[string]interface{}, error) {
	path := ChargePointPath(chargePointID)
	doc, err := g.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		return nil, transportError(http.MethodGet, path, fmt.Errorf("expected a charge point object, got %T", doc))
	}
	return obj, nil
}

// SetConnectorMode writes the connector mode, e.g. "Charging" or "Off".
func (g *Gateway) SetConnectorMode(ctx context.Context, chargePointID string, connectorID int, mode string) (interface{}, error) {
	body := map[string]interface{}{"mode": mode}
	return g.Request(ctx, http.MethodPut, ConnectorSettingsPath(chargePointID, connectorID), body, nil)
}

// SetConnectorMaxCurrent writes the connector current limit in amperes
func (g *Gateway) SetConnectorMaxCurrent(ctx context.Context, chargePointID string, connectorID int, amps float64) (interface{}, error) {
	body := map[string]interface{}{"maxCurrent": amps}
	return g.Request(ctx, http.MethodPut, ConnectorSettingsPath(chargePointID, connectorID), body, nil)
}

func decodeDocument(body []byte) (interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return doc, nil
}

func statusMessage(status int, body []byte) string {
	msg := http.StatusText(status)
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		msg += ": " + string(trimmed)
	}
	return msg
}
