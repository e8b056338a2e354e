package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/model"
)

type mockCodeCleaner struct {
	calls  atomic.Int32
	before time.Time
	count  int64
}

func (m *mockCodeCleaner) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.calls.Add(1)
	m.before = before
	return m.count, nil
}

type mockPingPruner struct {
	before time.Time
	err    error
}

func (m *mockPingPruner) PruneOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.before = before
	return 0, m.err
}

type mockOfflineMarker struct {
	seenBefore time.Time
	devices    []model.Device
}

func (m *mockOfflineMarker) MarkOffline(ctx context.Context, seenBefore time.Time) ([]model.Device, error) {
	m.seenBefore = seenBefore
	devices := m.devices
	m.devices = nil
	return devices, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (m *mockPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func TestCleanupJob_Cleanup(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	codes := &mockCodeCleaner{count: 3}
	pings := &mockPingPruner{}
	devices := &mockOfflineMarker{devices: []model.Device{
		{ID: "dev-1", FamilyID: "fam-1"},
		{ID: "dev-2", FamilyID: "fam-2"},
	}}
	pub := &mockPublisher{}

	job := NewCleanupJob(codes, pings, devices, pub, time.Hour)
	job.now = func() time.Time { return now }

	job.cleanup()

	assert.Equal(t, now.Add(-config.PairingCodeRetention), codes.before)
	assert.Equal(t, now.Add(-config.LocationRetention), pings.before)
	assert.Equal(t, now.Add(-config.DeviceOnlineWindow), devices.seenBefore)

	require.Len(t, pub.events, 2)
	assert.Equal(t, "dev-1", pub.events[0].ID)
	assert.Equal(t, "fam-2", pub.events[1].FamilyID)
	assert.Equal(t, model.ChangeOpUpdate, pub.events[1].Op)
}

func TestCleanupJob_FailureDoesNotStopOtherSteps(t *testing.T) {
	codes := &mockCodeCleaner{}
	pings := &mockPingPruner{err: errors.New("disk full")}
	devices := &mockOfflineMarker{devices: []model.Device{{ID: "dev-1", FamilyID: "fam-1"}}}
	pub := &mockPublisher{}

	NewCleanupJob(codes, pings, devices, pub, time.Hour).cleanup()

	assert.Equal(t, int32(1), codes.calls.Load())
	assert.Len(t, pub.events, 1)
}

func TestCleanupJob_StartRunsImmediately(t *testing.T) {
	codes := &mockCodeCleaner{}
	job := NewCleanupJob(codes, &mockPingPruner{}, &mockOfflineMarker{}, &mockPublisher{}, time.Hour)

	job.Start()
	defer job.Stop()

	require.Eventually(t, func() bool { return codes.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}
