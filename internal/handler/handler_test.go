package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/httputil"
	"github.com/sentinelr/devicesync/internal/middleware"
	"github.com/sentinelr/devicesync/internal/model"
)

type mockPairingAPI struct {
	createFunc func(ctx context.Context, familyID string, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error)
	statusFunc func(ctx context.Context, familyID, code string) (*model.CodeStatusResult, error)
	redeemFunc func(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error)
}

func (m *mockPairingAPI) CreateCode(ctx context.Context, familyID string, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error) {
	return m.createFunc(ctx, familyID, req)
}

func (m *mockPairingAPI) Status(ctx context.Context, familyID, code string) (*model.CodeStatusResult, error) {
	return m.statusFunc(ctx, familyID, code)
}

func (m *mockPairingAPI) Redeem(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error) {
	return m.redeemFunc(ctx, req)
}

type mockDeviceAPI struct {
	lastFilters model.DeviceFilters
	removed     []string
}

func (m *mockDeviceAPI) List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error) {
	m.lastFilters = filters
	return []model.Device{{ID: "dev-1", FamilyID: familyID}}, nil
}

func (m *mockDeviceAPI) Unpair(ctx context.Context, familyID, id string) (*model.Device, error) {
	if id != "dev-1" {
		return nil, apperrors.NotFound("Device")
	}
	return &model.Device{ID: id, PairStatus: model.PairStatusUnpaired}, nil
}

func (m *mockDeviceAPI) Remove(ctx context.Context, familyID, id string) (*model.Device, error) {
	m.removed = append(m.removed, id)
	return &model.Device{ID: id, PairStatus: model.PairStatusRemoved}, nil
}

func (m *mockDeviceAPI) Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error) {
	if params.IsEmpty() {
		return nil, apperrors.ValidationError("nothing to update")
	}
	return &model.Device{ID: id, Name: *params.Name}, nil
}

type mockTelemetryAPI struct {
	pings [][]model.LocationPing
	query model.LiveLocationQuery
}

func (m *mockTelemetryAPI) RecordPings(ctx context.Context, device *model.Device, pings []model.LocationPing) (int, error) {
	m.pings = append(m.pings, pings)
	return len(pings), nil
}

func (m *mockTelemetryAPI) RecordHeartbeat(ctx context.Context, device *model.Device, hb model.HeartbeatPayload) (*model.HeartbeatResult, error) {
	return &model.HeartbeatResult{Success: true, ServerTime: time.Unix(1700000000, 0).UTC()}, nil
}

func (m *mockTelemetryAPI) Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error) {
	m.query = query
	return []model.LocationEntry{{DeviceID: "dev-1", Latitude: 37.5}}, nil
}

// asOperator stands in for the operator auth middleware.
func asOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithOperator(r.Context(), &middleware.Operator{UserID: "user-1", FamilyID: "fam-1"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func asDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithDevice(r.Context(), &model.Device{ID: "dev-1", FamilyID: "fam-1"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPairingHandler(t *testing.T) {
	api := &mockPairingAPI{
		createFunc: func(ctx context.Context, familyID string, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error) {
			return &model.CreatePairingCodeResult{Code: "K7QM-XR3P", QRPayload: "sentinelr://pair?code=K7QM-XR3P"}, nil
		},
		statusFunc: func(ctx context.Context, familyID, code string) (*model.CodeStatusResult, error) {
			assert.Equal(t, "fam-1", familyID)
			assert.Equal(t, "K7QM-XR3P", code)
			return &model.CodeStatusResult{Status: model.CodeStatusPending}, nil
		},
		redeemFunc: func(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error) {
			if req.Code == "EXPI-REDD" {
				return nil, apperrors.PairingExpired()
			}
			return &model.PairDeviceResult{Success: true, DeviceID: "dev-1", DeviceToken: "tok"}, nil
		},
	}
	h := NewPairingHandler(api)

	r := chi.NewRouter()
	r.With(asOperator).Mount("/v1/pairing", h.OperatorRoutes())
	r.Post("/v1/pairing/redeem", h.Redeem)

	t.Run("create code without a body", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/pairing/codes", "")
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), "K7QM-XR3P")
	})

	t.Run("status", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/v1/pairing/codes/K7QM-XR3P/status", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var res model.CodeStatusResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, model.CodeStatusPending, res.Status)
	})

	t.Run("redeem", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/pairing/redeem", `{"code":"K7QM-XR3P","deviceName":"Pixel"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var res model.PairDeviceResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "dev-1", res.DeviceID)
	})

	t.Run("redeem expired", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/pairing/redeem", `{"code":"EXPI-REDD"}`)
		assert.Equal(t, http.StatusGone, rec.Code)

		var res httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, apperrors.ErrCodePairingExpired, res.Code)
	})

	t.Run("redeem with invalid json", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/pairing/redeem", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("operator routes need an operator", func(t *testing.T) {
		bare := chi.NewRouter()
		bare.Mount("/v1/pairing", h.OperatorRoutes())
		rec := do(t, bare, http.MethodPost, "/v1/pairing/codes", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDevicesHandler(t *testing.T) {
	api := &mockDeviceAPI{}
	r := chi.NewRouter()
	r.With(asOperator).Mount("/v1/devices", NewDevicesHandler(api).Routes())

	t.Run("list passes filters", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/v1/devices?status=paired&userId=user-2", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, api.lastFilters.Status)
		assert.Equal(t, model.PairStatusPaired, *api.lastFilters.Status)
		assert.Equal(t, "user-2", api.lastFilters.UserID)

		var res model.DeviceList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Len(t, res.Devices, 1)
	})

	t.Run("unpair", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/devices/dev-1/unpair", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, r, http.MethodPost, "/v1/devices/missing/unpair", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("remove", func(t *testing.T) {
		rec := do(t, r, http.MethodDelete, "/v1/devices/dev-3", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"dev-3"}, api.removed)
	})

	t.Run("update", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, "/v1/devices/dev-1", `{"name":"Tablet"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Tablet")

		rec = do(t, r, http.MethodPatch, "/v1/devices/dev-1", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTelemetryHandler(t *testing.T) {
	api := &mockTelemetryAPI{}
	h := NewTelemetryHandler(api)

	r := chi.NewRouter()
	r.With(asDevice).Post("/v1/devices/ping", h.Ping)
	r.With(asDevice).Post("/v1/devices/heartbeat", h.Heartbeat)
	r.With(asOperator).Get("/v1/locations/live", h.Live)

	t.Run("single ping", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/devices/ping", `{"latitude":37.5,"longitude":127.0,"accuracy":5}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, api.pings, 1)
		require.Len(t, api.pings[0], 1)
		assert.Equal(t, 37.5, api.pings[0][0].Latitude)
	})

	t.Run("batch", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/devices/ping", `{"pings":[{"latitude":1,"longitude":2},{"latitude":3,"longitude":4}]}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var res model.UploadPingResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 2, res.Accepted)
	})

	t.Run("ping without coordinates", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/devices/ping", `{"accuracy":5}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("heartbeat", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/devices/heartbeat", `{"batteryLevel":55,"isCharging":false}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "serverTime")
	})

	t.Run("uploads need a device", func(t *testing.T) {
		bare := chi.NewRouter()
		bare.Post("/v1/devices/ping", h.Ping)
		rec := do(t, bare, http.MethodPost, "/v1/devices/ping", `{"latitude":1,"longitude":1}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("live", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/v1/locations/live?deviceId=dev-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dev-1", api.query.DeviceID)

		var res model.LiveLocations
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Len(t, res.Locations, 1)
	})
}

func TestEventsHandler(t *testing.T) {
	broker := events.NewLocalBroker()
	defer broker.Close()

	r := chi.NewRouter()
	r.With(asOperator).Get("/v1/events", NewEventsHandler(broker).ServeHTTP)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return broker.ClientCount("fam-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(context.Background(), model.ChangeEvent{
		Table: model.ChangeTableDevices, Op: model.ChangeOpUpdate, ID: "dev-1", FamilyID: "fam-1",
	}))
	require.NoError(t, broker.Publish(context.Background(), model.ChangeEvent{
		Table: model.ChangeTableDevices, Op: model.ChangeOpUpdate, ID: "other", FamilyID: "fam-2",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "dev-1", ev.ID)
	assert.Equal(t, model.ChangeOpUpdate, ev.Op)

	conn.Close()
	require.Eventually(t, func() bool { return broker.ClientCount("fam-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
