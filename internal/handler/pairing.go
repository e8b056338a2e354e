package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelr/devicesync/internal/model"
)

type PairingAPI interface {
	CreateCode(ctx context.Context, familyID string, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error)
	Status(ctx context.Context, familyID, code string) (*model.CodeStatusResult, error)
	Redeem(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error)
}

type PairingHandler struct {
	pairing PairingAPI
}

func NewPairingHandler(pairing PairingAPI) *PairingHandler {
	return &PairingHandler{pairing: pairing}
}

// OperatorRoutes are mounted behind operator authentication.
func (h *PairingHandler) OperatorRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/codes", h.CreateCode)
	r.Get("/codes/{code}/status", h.Status)
	return r
}

func (h *PairingHandler) CreateCode(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req model.CreatePairingCodeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	res, err := h.pairing.CreateCode(r.Context(), op.FamilyID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	res, err := h.pairing.Status(r.Context(), op.FamilyID, chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Redeem is public: the code itself is the credential.
func (h *PairingHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req model.PairDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.pairing.Redeem(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
