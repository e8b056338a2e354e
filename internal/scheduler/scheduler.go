// Package scheduler owns named, cancelable periodic jobs. A name can only be
// bound to one running job at a time, so a second Every for the same name is
// rejected instead of starting a parallel timer.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Func func(ctx context.Context)

type handle struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

type Scheduler struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func New() *Scheduler {
	return &Scheduler{handles: make(map[string]*handle)}
}

// Every starts fn under name, running it once immediately and then on every
// interval. It returns false when name is already running.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[name]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.handles[name] = h

	go s.run(ctx, name, h, fn)
	log.Info().Str("job", name).Dur("interval", interval).Msg("scheduled job started")
	return true
}

func (s *Scheduler) run(ctx context.Context, name string, h *handle, fn Func) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// Cancel stops the job bound to name. It does not wait for an in-flight run,
// so it is safe to call from inside the job itself. Cancelling an unknown
// name is a no-op.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	h, ok := s.handles[name]
	if ok {
		delete(s.handles, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	log.Info().Str("job", name).Msg("scheduled job stopped")
	return true
}

// cancelAndWait stops name and blocks until its in-flight run returns.
func (s *Scheduler) cancelAndWait(name string) {
	s.mu.Lock()
	h, ok := s.handles[name]
	if ok {
		delete(s.handles, name)
	}
	s.mu.Unlock()

	if ok {
		h.cancel()
		<-h.done
	}
}

func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[name]
	return ok
}

// Names returns the running job names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Shutdown() {
	for _, name := range s.Names() {
		s.cancelAndWait(name)
	}
}
