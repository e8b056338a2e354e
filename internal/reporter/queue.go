package reporter

import (
	"sync"

	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
)

// pingQueue holds pings whose upload failed. It is bounded; on overflow the
// oldest pings are dropped first. A capacity of zero disables retries.
type pingQueue struct {
	mu       sync.Mutex
	items    []model.LocationPing
	capacity int
}

func newPingQueue(capacity int) *pingQueue {
	return &pingQueue{capacity: max(capacity, 0)}
}

// push appends pings and returns how many were dropped.
func (q *pingQueue) push(pings ...model.LocationPing) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity == 0 {
		return len(pings)
	}

	q.items = append(q.items, pings...)
	dropped := 0
	if over := len(q.items) - q.capacity; over > 0 {
		dropped = over
		q.items = append([]model.LocationPing(nil), q.items[over:]...)
	}
	metrics.PingQueueDepth.Set(float64(len(q.items)))
	return dropped
}

func (q *pingQueue) drain() []model.LocationPing {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	metrics.PingQueueDepth.Set(0)
	return out
}

func (q *pingQueue) clear() int {
	return len(q.drain())
}

func (q *pingQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
