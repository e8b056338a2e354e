package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/repository"
)

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, model.CreateDeviceParams) *model.Device); ok {
		return fn(ctx, params), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindByFamily(ctx context.Context, familyID, id string) (*model.Device, error) {
	args := m.Called(ctx, familyID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error) {
	args := m.Called(ctx, familyID, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) UpdatePairStatus(ctx context.Context, familyID, id string, status model.PairStatus) (*model.Device, error) {
	args := m.Called(ctx, familyID, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, familyID, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) TouchSeen(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockDeviceRepo) RecordHeartbeat(ctx context.Context, id string, hb model.HeartbeatPayload, at time.Time) error {
	return m.Called(ctx, id, hb, at).Error(0)
}

func (m *mockDeviceRepo) MarkOffline(ctx context.Context, seenBefore time.Time) ([]model.Device, error) {
	args := m.Called(ctx, seenBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) WithTx(tx *sqlx.Tx) repository.DeviceRepository {
	return m
}

type mockCodeRepo struct {
	mock.Mock
}

func (m *mockCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingCode), args.Error(1)
}

func (m *mockCodeRepo) FindActiveByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingCode), args.Error(1)
}

func (m *mockCodeRepo) CountActiveByFamily(ctx context.Context, familyID string) (int, error) {
	args := m.Called(ctx, familyID)
	return args.Int(0), args.Error(1)
}

func (m *mockCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, model.CreatePairingCodeParams) *model.PairingCode); ok {
		return fn(ctx, params), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingCode), args.Error(1)
}

func (m *mockCodeRepo) MarkUsed(ctx context.Context, code, deviceID string) (bool, error) {
	args := m.Called(ctx, code, deviceID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCodeRepo) WithTx(tx *sqlx.Tx) repository.PairingCodeRepository {
	return m
}

type mockLocationRepo struct {
	mock.Mock
}

func (m *mockLocationRepo) InsertBatch(ctx context.Context, deviceID string, pings []model.LocationPing, receivedAt time.Time) (int, error) {
	args := m.Called(ctx, deviceID, pings, receivedAt)
	return args.Int(0), args.Error(1)
}

func (m *mockLocationRepo) Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error) {
	args := m.Called(ctx, familyID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LocationEntry), args.Error(1)
}

func (m *mockLocationRepo) PruneOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// fakeTx runs the function without a transaction; the mock repos ignore tx.
type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []model.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ChangeEvent(nil), p.events...)
}
