package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelr/devicesync/internal/model"
)

func TestSimulated_Permissions(t *testing.T) {
	sim := NewSimulated(SimulatedOptions{})
	ctx := context.Background()

	ok, err := sim.Granted(ctx, PermissionLocationBackground)
	require.NoError(t, err)
	assert.True(t, ok)

	sim.Revoke(PermissionLocationBackground)
	ok, _ = sim.Granted(ctx, PermissionLocationBackground)
	assert.False(t, ok)

	sim.Grant(PermissionLocationBackground)
	ok, _ = sim.Granted(ctx, PermissionLocationBackground)
	assert.True(t, ok)
}

func TestSimulated_CurrentLocation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sim := NewSimulated(SimulatedOptions{
		Latitude:   10,
		Longitude:  20,
		StepMeters: 100,
		Now:        func() time.Time { return now },
	})

	first, err := sim.CurrentLocation(context.Background())
	require.NoError(t, err)
	second, err := sim.CurrentLocation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now, first.Timestamp)
	assert.Equal(t, model.LocationSourceBackground, first.Source)
	assert.InDelta(t, 100, DistanceMeters(first, second), 1)

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := sim.CurrentLocation(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSimulated_Battery(t *testing.T) {
	sim := NewSimulated(SimulatedOptions{Battery: 50})
	ctx := context.Background()

	b, err := sim.Battery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 49, b.Level)
	assert.False(t, b.Charging)

	sim.SetCharging(true)
	b, _ = sim.Battery(ctx)
	assert.Equal(t, 50, b.Level)
	assert.True(t, b.Charging)
}

func TestDistanceMeters(t *testing.T) {
	a := model.LocationPing{Latitude: 0, Longitude: 0}
	b := model.LocationPing{Latitude: 0, Longitude: 1}

	assert.InDelta(t, 111195, DistanceMeters(a, b), 10)
	assert.Equal(t, 0.0, DistanceMeters(a, a))
}
