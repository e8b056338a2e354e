package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/repository"
)

const maxPingsPerUpload = 500

// TelemetryService accepts uploads from paired devices and serves the latest
// positions to operators.
type TelemetryService struct {
	deviceRepo   repository.DeviceRepository
	locationRepo repository.LocationRepository
	tokens       *TokenService
	publisher    events.Publisher
	now          func() time.Time
}

func NewTelemetryService(
	deviceRepo repository.DeviceRepository,
	locationRepo repository.LocationRepository,
	tokens *TokenService,
	publisher events.Publisher,
) *TelemetryService {
	return &TelemetryService{
		deviceRepo:   deviceRepo,
		locationRepo: locationRepo,
		tokens:       tokens,
		publisher:    publisher,
		now:          time.Now,
	}
}

// AuthenticateDevice resolves an upload token to a device that is still
// paired. Anything else is Unauthorized so the device drops its credentials.
func (s *TelemetryService) AuthenticateDevice(ctx context.Context, token, deviceID string) (*model.Device, error) {
	claims, err := s.tokens.Verify(token, TokenKindDevice)
	if err != nil {
		return nil, err
	}
	if deviceID != "" && deviceID != claims.Subject {
		return nil, apperrors.Unauthorized("Token does not belong to this device")
	}

	device, err := s.deviceRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil || device.PairStatus != model.PairStatusPaired {
		return nil, apperrors.Unauthorized("Device is no longer paired")
	}
	return device, nil
}

func (s *TelemetryService) RecordPings(ctx context.Context, device *model.Device, pings []model.LocationPing) (int, error) {
	if len(pings) == 0 {
		return 0, apperrors.MissingRequired("pings")
	}
	if len(pings) > maxPingsPerUpload {
		return 0, apperrors.ValidationError(fmt.Sprintf("at most %d pings per upload", maxPingsPerUpload))
	}

	now := s.now()
	for i := range pings {
		if err := validatePing(&pings[i], now); err != nil {
			return 0, err.WithDetails(map[string]int{"index": i})
		}
	}

	accepted, err := s.locationRepo.InsertBatch(ctx, device.ID, pings, now)
	if err != nil {
		return 0, apperrors.Database(fmt.Errorf("insert pings: %w", err))
	}

	newest := slices.MaxFunc(pings, func(a, b model.LocationPing) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if err := s.deviceRepo.TouchSeen(ctx, device.ID, newest.Timestamp); err != nil {
		return accepted, apperrors.Database(err)
	}
	s.announceOnline(ctx, device)

	log.Debug().
		Str("deviceId", device.ID).
		Int("accepted", accepted).
		Msg("location pings stored")
	return accepted, nil
}

func validatePing(p *model.LocationPing, now time.Time) *apperrors.AppError {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return apperrors.ValidationError("coordinates out of range")
	}
	if p.Accuracy < 0 {
		return apperrors.ValidationError("accuracy must not be negative")
	}
	if p.Timestamp.IsZero() || p.Timestamp.After(now) {
		p.Timestamp = now
	}
	if p.Source == "" {
		p.Source = model.LocationSourceBackground
	}
	return nil
}

func (s *TelemetryService) RecordHeartbeat(ctx context.Context, device *model.Device, hb model.HeartbeatPayload) (*model.HeartbeatResult, error) {
	if hb.BatteryLevel < 0 || hb.BatteryLevel > 100 {
		return nil, apperrors.ValidationError("batteryLevel must be between 0 and 100")
	}

	now := s.now()
	if err := s.deviceRepo.RecordHeartbeat(ctx, device.ID, hb, now); err != nil {
		return nil, apperrors.Database(fmt.Errorf("record heartbeat: %w", err))
	}
	s.announceOnline(ctx, device)

	return &model.HeartbeatResult{Success: true, ServerTime: now}, nil
}

// announceOnline publishes only the offline to online edge; the cleanup job
// publishes the reverse.
func (s *TelemetryService) announceOnline(ctx context.Context, device *model.Device) {
	if device.Online {
		return
	}
	publish(ctx, s.publisher, model.ChangeEvent{
		Table:    model.ChangeTableDevices,
		Op:       model.ChangeOpUpdate,
		ID:       device.ID,
		FamilyID: device.FamilyID,
	})
}

func (s *TelemetryService) Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error) {
	entries, err := s.locationRepo.Live(ctx, familyID, query)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return entries, nil
}
