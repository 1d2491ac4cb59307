package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"chargeamps/internal/coordinator"
	"chargeamps/pkg/eapi"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CommandResponse reports an accepted connector command. Connector is the
// patched local view, absent when the connector is not in the snapshot yet.
type CommandResponse struct {
	Status    string                 `json:"status"`
	Connector *coordinator.Connector `json:"connector,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type maxCurrentRequest struct {
	MaxCurrent *float64 `json:"maxCurrent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.coordinator.Status()
	status := "healthy"
	if st.Outcome == coordinator.StateFailed {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"state":         st.State,
		"last_success":  st.LastSuccess,
		"charge_points": st.ChargePoints,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.coordinator.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"coordinator": st,
		"poller": map[string]interface{}{
			"interval": s.coordinator.Interval().String(),
		},
	})
}

func (s *Server) handleListChargePoints(w http.ResponseWriter, r *http.Request) {
	snap := s.coordinator.Snapshot()
	ids := snap.ChargePointIDs()
	sort.Strings(ids)

	result := make([]coordinator.ChargePoint, 0, len(ids))
	for _, id := range ids {
		result = append(result, snap[id])
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetChargePoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cp, ok := s.coordinator.ChargePoint(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("charge point %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.runCommand(w, r, func(ctx context.Context, cp string, conn int) error {
		return s.commands.SetMode(ctx, cp, conn, req.Mode)
	})
}

func (s *Server) handleSetMaxCurrent(w http.ResponseWriter, r *http.Request) {
	var req maxCurrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.MaxCurrent == nil {
		writeError(w, http.StatusBadRequest, errors.New("maxCurrent is required"))
		return
	}
	s.runCommand(w, r, func(ctx context.Context, cp string, conn int) error {
		return s.commands.SetMaxCurrent(ctx, cp, conn, *req.MaxCurrent)
	})
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.commands.Enable)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.commands.Disable)
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, chargePointID string, connectorID int) error) {
	vars := mux.Vars(r)
	chargePointID := vars["id"]
	connectorID, err := strconv.Atoi(vars["connectorId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid connector id %q", vars["connectorId"]))
		return
	}

	if err := cmd(r.Context(), chargePointID, connectorID); err != nil {
		status := statusForError(err)
		log.Error().
			Err(err).
			Str("charge_point_id", chargePointID).
			Int("connector_id", connectorID).
			Int("status", status).
			Msg("Connector command failed")
		writeError(w, status, err)
		return
	}

	resp := CommandResponse{Status: "ok"}
	if conn, ok := s.coordinator.Connector(chargePointID, connectorID); ok {
		resp.Connector = &conn
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusForError maps command failures to API status codes. Client errors
// reported by the eAPI are passed through, everything else is a bad gateway.
func statusForError(err error) int {
	var validationErr *coordinator.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if eapi.IsAPIError(err) {
		if code := eapi.StatusCode(err); code >= 400 && code < 500 {
			return code
		}
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
