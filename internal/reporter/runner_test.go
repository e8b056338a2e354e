package reporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelr/devicesync/internal/model"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// ping returns a fix metersNorth of the origin, at offset after t0.
func ping(metersNorth float64, offset time.Duration) model.LocationPing {
	return model.LocationPing{
		Latitude:  metersNorth / 111195,
		Longitude: 0,
		Timestamp: t0.Add(offset),
		Source:    model.LocationSourceBackground,
	}
}

func TestSampleFilter(t *testing.T) {
	t.Run("first sample is always accepted", func(t *testing.T) {
		f := &sampleFilter{opts: UpdateOptions{MinDistance: 50, MinInterval: time.Minute}}
		assert.Len(t, f.offer(ping(0, 0)), 1)
	})

	t.Run("distance or time, whichever first", func(t *testing.T) {
		f := &sampleFilter{opts: UpdateOptions{MinDistance: 50, MinInterval: time.Minute}}
		f.offer(ping(0, 0))

		assert.Empty(t, f.offer(ping(10, 10*time.Second)), "neither threshold reached")
		assert.Len(t, f.offer(ping(70, 20*time.Second)), 1, "distance threshold")
		assert.Len(t, f.offer(ping(75, 90*time.Second)), 1, "time threshold")
	})

	t.Run("no thresholds accepts everything", func(t *testing.T) {
		f := &sampleFilter{}
		f.offer(ping(0, 0))
		assert.Len(t, f.offer(ping(0, time.Second)), 1)
	})

	t.Run("deferred batch flushes on distance ceiling", func(t *testing.T) {
		f := &sampleFilter{opts: UpdateOptions{MinDistance: 50, DeferredDistance: 200}}

		assert.Empty(t, f.offer(ping(0, 0)))
		assert.Empty(t, f.offer(ping(100, time.Second)))
		out := f.offer(ping(210, 2*time.Second))
		require.Len(t, out, 3)
		assert.Equal(t, t0, out[0].Timestamp)

		assert.Empty(t, f.offer(ping(300, 3*time.Second)), "new batch starts")
	})

	t.Run("deferred batch flushes on age ceiling", func(t *testing.T) {
		f := &sampleFilter{opts: UpdateOptions{MinInterval: time.Minute, DeferredInterval: 5 * time.Minute}}

		assert.Empty(t, f.offer(ping(0, 0)))
		for i := 1; i < 5; i++ {
			assert.Empty(t, f.offer(ping(0, time.Duration(i)*time.Minute)))
		}
		assert.Len(t, f.offer(ping(0, 5*time.Minute)), 6)
	})
}

type scriptedSampler struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedSampler) CurrentLocation(ctx context.Context) (model.LocationPing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return ping(float64(s.calls)*100, time.Duration(s.calls)*time.Second), nil
}

func TestGoroutineRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("start requires registration", func(t *testing.T) {
		r := NewGoroutineRunner(&scriptedSampler{})
		assert.Error(t, r.Start(ctx, "missing", UpdateOptions{}))
	})

	t.Run("delivers samples and stops", func(t *testing.T) {
		r := NewGoroutineRunner(&scriptedSampler{})

		var mu sync.Mutex
		var got []model.LocationPing
		require.NoError(t, r.Register("loc", func(ctx context.Context, samples []model.LocationPing) {
			mu.Lock()
			got = append(got, samples...)
			mu.Unlock()
		}))

		require.NoError(t, r.Start(ctx, "loc", UpdateOptions{SampleEvery: 5 * time.Millisecond}))
		require.NoError(t, r.Start(ctx, "loc", UpdateOptions{SampleEvery: 5 * time.Millisecond}), "idempotent")
		assert.True(t, r.IsRunning("loc"))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) >= 3
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, r.Stop(ctx, "loc"))
		assert.False(t, r.IsRunning("loc"))
		require.NoError(t, r.Stop(ctx, "loc"), "stop when stopped is a no-op")
	})

	t.Run("cannot re-register a running job", func(t *testing.T) {
		r := NewGoroutineRunner(&scriptedSampler{})
		require.NoError(t, r.Register("loc", func(context.Context, []model.LocationPing) {}))
		require.NoError(t, r.Start(ctx, "loc", UpdateOptions{SampleEvery: time.Hour}))
		defer r.Stop(ctx, "loc")

		assert.Error(t, r.Register("loc", func(context.Context, []model.LocationPing) {}))
	})
}

func TestPingQueue(t *testing.T) {
	t.Run("zero capacity drops everything", func(t *testing.T) {
		q := newPingQueue(0)
		assert.Equal(t, 2, q.push(ping(0, 0), ping(1, 0)))
		assert.Equal(t, 0, q.size())
	})

	t.Run("overflow drops oldest", func(t *testing.T) {
		q := newPingQueue(2)
		assert.Equal(t, 0, q.push(ping(1, time.Second)))
		assert.Equal(t, 1, q.push(ping(2, 2*time.Second), ping(3, 3*time.Second)))

		out := q.drain()
		require.Len(t, out, 2)
		assert.Equal(t, t0.Add(2*time.Second), out[0].Timestamp)
		assert.Equal(t, 0, q.size())
	})
}
