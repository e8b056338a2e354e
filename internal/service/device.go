package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/audit"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/repository"
)

type DeviceService struct {
	deviceRepo repository.DeviceRepository
	publisher  events.Publisher
}

func NewDeviceService(deviceRepo repository.DeviceRepository, publisher events.Publisher) *DeviceService {
	return &DeviceService{
		deviceRepo: deviceRepo,
		publisher:  publisher,
	}
}

func (s *DeviceService) List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error) {
	if filters.Status != nil && !filters.Status.Valid() {
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown status %q", *filters.Status))
	}
	devices, err := s.deviceRepo.List(ctx, familyID, filters)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return devices, nil
}

// Unpair revokes the device. Its next upload is rejected and it clears its
// own credentials.
func (s *DeviceService) Unpair(ctx context.Context, familyID, id string) (*model.Device, error) {
	device, err := s.setStatus(ctx, familyID, id, model.PairStatusUnpaired, model.ChangeOpUpdate)
	if err == nil {
		audit.Log(ctx, audit.Event{Type: audit.EventDeviceUnpaired, FamilyID: familyID, DeviceID: id})
	}
	return device, err
}

// Remove hides the device from every listing. It cannot be undone.
func (s *DeviceService) Remove(ctx context.Context, familyID, id string) (*model.Device, error) {
	device, err := s.setStatus(ctx, familyID, id, model.PairStatusRemoved, model.ChangeOpDelete)
	if err == nil {
		audit.Log(ctx, audit.Event{Type: audit.EventDeviceRemoved, FamilyID: familyID, DeviceID: id})
	}
	return device, err
}

func (s *DeviceService) setStatus(ctx context.Context, familyID, id string, status model.PairStatus, op model.ChangeOp) (*model.Device, error) {
	device, err := s.deviceRepo.UpdatePairStatus(ctx, familyID, id, status)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	log.Info().
		Str("deviceId", id).
		Str("familyId", familyID).
		Str("pairStatus", string(status)).
		Msg("device status changed")

	publish(ctx, s.publisher, model.ChangeEvent{
		Table:    model.ChangeTableDevices,
		Op:       op,
		ID:       id,
		FamilyID: familyID,
	})
	return device, nil
}

func (s *DeviceService) Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error) {
	if params.IsEmpty() {
		return nil, apperrors.ValidationError("nothing to update")
	}
	if params.Name != nil && *params.Name == "" {
		return nil, apperrors.ValidationError("name must not be empty")
	}

	device, err := s.deviceRepo.Update(ctx, familyID, id, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	event := model.ChangeEvent{
		Table:    model.ChangeTableDevices,
		Op:       model.ChangeOpUpdate,
		ID:       id,
		FamilyID: familyID,
	}
	publish(ctx, s.publisher, event)
	if params.AssignedUserID != nil {
		event.Table = model.ChangeTableMemberships
		publish(ctx, s.publisher, event)
	}
	return device, nil
}
