package handler

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/middleware"
	"github.com/sentinelr/devicesync/internal/model"
)

type TelemetryAPI interface {
	RecordPings(ctx context.Context, device *model.Device, pings []model.LocationPing) (int, error)
	RecordHeartbeat(ctx context.Context, device *model.Device, hb model.HeartbeatPayload) (*model.HeartbeatResult, error)
	Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error)
}

type TelemetryHandler struct {
	telemetry TelemetryAPI
}

func NewTelemetryHandler(telemetry TelemetryAPI) *TelemetryHandler {
	return &TelemetryHandler{telemetry: telemetry}
}

// Ping accepts a single LocationPing or a {"pings": [...]} batch.
func (h *TelemetryHandler) Ping(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		writeError(w, apperrors.Unauthorized("Device authentication required"))
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	pings, err := pingsFromBody(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	accepted, err := h.telemetry.RecordPings(r.Context(), device, pings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.UploadPingResult{Success: true, Accepted: accepted})
}

func pingsFromBody(raw map[string]json.RawMessage) ([]model.LocationPing, error) {
	if batch, ok := raw["pings"]; ok {
		var pings []model.LocationPing
		if err := json.Unmarshal(batch, &pings); err != nil {
			return nil, apperrors.ValidationError("pings must be an array of locations").WithCause(err)
		}
		return pings, nil
	}

	for _, field := range []string{"latitude", "longitude"} {
		if _, ok := raw[field]; !ok {
			return nil, apperrors.MissingRequired(field)
		}
	}
	buf, _ := json.Marshal(raw)
	var ping model.LocationPing
	if err := json.Unmarshal(buf, &ping); err != nil {
		return nil, apperrors.ValidationError("Invalid location").WithCause(err)
	}
	return []model.LocationPing{ping}, nil
}

func (h *TelemetryHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		writeError(w, apperrors.Unauthorized("Device authentication required"))
		return
	}

	var hb model.HeartbeatPayload
	if err := decodeJSON(r, &hb); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.telemetry.RecordHeartbeat(r.Context(), device, hb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TelemetryHandler) Live(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	query := model.LiveLocationQuery{
		DeviceID: r.URL.Query().Get("deviceId"),
		UserID:   r.URL.Query().Get("userId"),
	}
	entries, err := h.telemetry.Live(r.Context(), op.FamilyID, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.LiveLocations{Locations: entries})
}
