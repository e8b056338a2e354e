package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelr/devicesync/internal/model"
)

type DeviceAPI interface {
	List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error)
	Unpair(ctx context.Context, familyID, id string) (*model.Device, error)
	Remove(ctx context.Context, familyID, id string) (*model.Device, error)
	Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error)
}

type DevicesHandler struct {
	devices DeviceAPI
}

func NewDevicesHandler(devices DeviceAPI) *DevicesHandler {
	return &DevicesHandler{devices: devices}
}

func (h *DevicesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/{id}/unpair", h.Unpair)
	r.Delete("/{id}", h.Remove)
	r.Patch("/{id}", h.Update)
	return r
}

func (h *DevicesHandler) List(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var filters model.DeviceFilters
	if status := r.URL.Query().Get("status"); status != "" {
		s := model.PairStatus(status)
		filters.Status = &s
	}
	filters.UserID = r.URL.Query().Get("userId")

	devices, err := h.devices.List(r.Context(), op.FamilyID, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeviceList{Devices: devices})
}

func (h *DevicesHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	device, err := h.devices.Unpair(r.Context(), op.FamilyID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (h *DevicesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	if _, err := h.devices.Remove(r.Context(), op.FamilyID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DevicesHandler) Update(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var params model.UpdateDeviceParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	device, err := h.devices.Update(r.Context(), op.FamilyID, chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}
