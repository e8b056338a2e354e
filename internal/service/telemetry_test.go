package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
)

type telemetryFixture struct {
	svc       *TelemetryService
	devices   *mockDeviceRepo
	locations *mockLocationRepo
	pub       *recordingPublisher
	tokens    *TokenService
	now       time.Time
}

func newTelemetryFixture() *telemetryFixture {
	f := &telemetryFixture{
		devices:   new(mockDeviceRepo),
		locations: new(mockLocationRepo),
		pub:       &recordingPublisher{},
		tokens:    NewTokenService("test-secret-that-is-long-enough-for-hs256"),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewTelemetryService(f.devices, f.locations, f.tokens, f.pub)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestTelemetryService_AuthenticateDevice(t *testing.T) {
	ctx := context.Background()
	f := newTelemetryFixture()
	token, err := f.tokens.IssueDeviceToken("dev-1", "fam-1")
	require.NoError(t, err)

	t.Run("paired device", func(t *testing.T) {
		f.devices.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1", PairStatus: model.PairStatusPaired}, nil).Once()
		d, err := f.svc.AuthenticateDevice(ctx, token, "dev-1")
		require.NoError(t, err)
		assert.Equal(t, "dev-1", d.ID)
	})

	t.Run("unpaired device is unauthorized", func(t *testing.T) {
		f.devices.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1", PairStatus: model.PairStatusUnpaired}, nil).Once()
		_, err := f.svc.AuthenticateDevice(ctx, token, "dev-1")
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("deleted device is unauthorized", func(t *testing.T) {
		f.devices.On("FindByID", ctx, "dev-1").Return(nil, nil).Once()
		_, err := f.svc.AuthenticateDevice(ctx, token, "dev-1")
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("device id header must match the token", func(t *testing.T) {
		_, err := f.svc.AuthenticateDevice(ctx, token, "dev-2")
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("operator tokens cannot upload", func(t *testing.T) {
		op, err := f.tokens.IssueOperatorToken("user-1", "fam-1", 0)
		require.NoError(t, err)
		_, err = f.svc.AuthenticateDevice(ctx, op, "")
		assert.True(t, apperrors.IsUnauthorized(err))
	})
}

func TestTelemetryService_RecordPings(t *testing.T) {
	ctx := context.Background()

	t.Run("stores pings and touches the newest timestamp", func(t *testing.T) {
		f := newTelemetryFixture()
		device := &model.Device{ID: "dev-1", FamilyID: "fam-1", Online: false}
		older := f.now.Add(-2 * time.Minute)
		newer := f.now.Add(-time.Minute)
		pings := []model.LocationPing{
			{Latitude: 37.5, Longitude: 127, Timestamp: newer},
			{Latitude: 37.4, Longitude: 127, Timestamp: older, Source: model.LocationSourceForeground},
		}
		f.locations.On("InsertBatch", ctx, "dev-1", mock.MatchedBy(func(p []model.LocationPing) bool {
			return len(p) == 2 && p[0].Source == model.LocationSourceBackground
		}), f.now).Return(2, nil)
		f.devices.On("TouchSeen", ctx, "dev-1", newer).Return(nil)

		n, err := f.svc.RecordPings(ctx, device, pings)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		events := f.pub.published()
		require.Len(t, events, 1, "offline device coming online is announced")
		assert.Equal(t, model.ChangeOpUpdate, events[0].Op)
	})

	t.Run("online devices are not re-announced", func(t *testing.T) {
		f := newTelemetryFixture()
		device := &model.Device{ID: "dev-1", FamilyID: "fam-1", Online: true}
		f.locations.On("InsertBatch", ctx, "dev-1", mock.Anything, f.now).Return(1, nil)
		f.devices.On("TouchSeen", ctx, "dev-1", f.now).Return(nil)

		_, err := f.svc.RecordPings(ctx, device, []model.LocationPing{{Latitude: 1, Longitude: 1}})
		require.NoError(t, err)
		assert.Empty(t, f.pub.published())
	})

	invalid := []struct {
		name  string
		pings []model.LocationPing
	}{
		{"empty batch", nil},
		{"latitude out of range", []model.LocationPing{{Latitude: 91}}},
		{"longitude out of range", []model.LocationPing{{Longitude: -181}}},
		{"negative accuracy", []model.LocationPing{{Accuracy: -1}}},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			f := newTelemetryFixture()
			_, err := f.svc.RecordPings(ctx, &model.Device{ID: "dev-1"}, tc.pings)
			require.Error(t, err)
			f.locations.AssertNotCalled(t, "InsertBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTelemetryService_RecordHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newTelemetryFixture()
	device := &model.Device{ID: "dev-1", FamilyID: "fam-1", Online: true}
	hb := model.HeartbeatPayload{BatteryLevel: 80, IsCharging: true}
	f.devices.On("RecordHeartbeat", ctx, "dev-1", hb, f.now).Return(nil)

	res, err := f.svc.RecordHeartbeat(ctx, device, hb)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, f.now, res.ServerTime)

	_, err = f.svc.RecordHeartbeat(ctx, device, model.HeartbeatPayload{BatteryLevel: 120})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}
