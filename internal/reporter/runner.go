package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/platform"
)

// BatchHandler receives accepted location samples, oldest first.
type BatchHandler func(ctx context.Context, samples []model.LocationPing)

// BackgroundJobRunner is the host's background location scheduler. Native
// platforms substitute their own primitive; GoroutineRunner samples in
// process.
type BackgroundJobRunner interface {
	Register(name string, handler BatchHandler) error
	Start(ctx context.Context, name string, opts UpdateOptions) error
	Stop(ctx context.Context, name string) error
	IsRunning(name string) bool
}

// UpdateOptions is the sampling policy. A sample is accepted once it moved
// MinDistance or MinInterval passed since the last accepted one, whichever
// comes first. With a deferred ceiling set, accepted samples are held back
// and delivered together once the batch spans DeferredDistance or
// DeferredInterval.
type UpdateOptions struct {
	MinDistance      float64
	MinInterval      time.Duration
	DeferredDistance float64
	DeferredInterval time.Duration
	// SampleEvery is how often the runner asks the host for a fix.
	SampleEvery time.Duration
}

func (o UpdateOptions) deferred() bool {
	return o.DeferredDistance > 0 || o.DeferredInterval > 0
}

type sampleFilter struct {
	opts   UpdateOptions
	last   *model.LocationPing
	batch  []model.LocationPing
	origin *model.LocationPing
}

// offer returns the samples due for delivery after p is considered.
func (f *sampleFilter) offer(p model.LocationPing) []model.LocationPing {
	throttled := f.opts.MinDistance > 0 || f.opts.MinInterval > 0
	if f.last != nil && throttled {
		moved := platform.DistanceMeters(*f.last, p)
		elapsed := p.Timestamp.Sub(f.last.Timestamp)
		distanceHit := f.opts.MinDistance > 0 && moved >= f.opts.MinDistance
		timeHit := f.opts.MinInterval > 0 && elapsed >= f.opts.MinInterval
		if !distanceHit && !timeHit {
			return nil
		}
	}
	f.last = &p

	if !f.opts.deferred() {
		return []model.LocationPing{p}
	}

	if f.origin == nil {
		f.origin = &p
	}
	f.batch = append(f.batch, p)

	spread := platform.DistanceMeters(*f.origin, p)
	age := p.Timestamp.Sub(f.origin.Timestamp)
	if (f.opts.DeferredDistance > 0 && spread >= f.opts.DeferredDistance) ||
		(f.opts.DeferredInterval > 0 && age >= f.opts.DeferredInterval) {
		out := f.batch
		f.batch = nil
		f.origin = nil
		return out
	}
	return nil
}

type runnerJob struct {
	handler BatchHandler
	cancel  context.CancelFunc
}

// GoroutineRunner polls a LocationSampler on a goroutine per job.
type GoroutineRunner struct {
	sampler platform.LocationSampler
	mu      sync.Mutex
	jobs    map[string]*runnerJob
}

func NewGoroutineRunner(sampler platform.LocationSampler) *GoroutineRunner {
	return &GoroutineRunner{
		sampler: sampler,
		jobs:    make(map[string]*runnerJob),
	}
}

func (r *GoroutineRunner) Register(name string, handler BatchHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[name]; ok && job.cancel != nil {
		return fmt.Errorf("job %q is running", name)
	}
	r.jobs[name] = &runnerJob{handler: handler}
	return nil
}

// Start is a no-op when the job is already running.
func (r *GoroutineRunner) Start(_ context.Context, name string, opts UpdateOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	if job.cancel != nil {
		return nil
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = config.LocationSampleWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	go r.run(ctx, name, job.handler, opts)

	log.Info().
		Str("job", name).
		Float64("minDistance", opts.MinDistance).
		Dur("minInterval", opts.MinInterval).
		Bool("deferred", opts.deferred()).
		Msg("background location job started")
	return nil
}

// Stop cancels the job without waiting, so a handler may stop its own job.
func (r *GoroutineRunner) Stop(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok || job.cancel == nil {
		return nil
	}
	job.cancel()
	job.cancel = nil
	log.Info().Str("job", name).Msg("background location job stopped")
	return nil
}

func (r *GoroutineRunner) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[name]
	return ok && job.cancel != nil
}

func (r *GoroutineRunner) run(ctx context.Context, name string, handler BatchHandler, opts UpdateOptions) {
	ticker := time.NewTicker(opts.SampleEvery)
	defer ticker.Stop()

	filter := &sampleFilter{opts: opts}
	sample := func() {
		p, err := r.sampler.CurrentLocation(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("job", name).Msg("location sample failed")
			}
			return
		}
		if due := filter.offer(p); len(due) > 0 && ctx.Err() == nil {
			handler(ctx, due)
		}
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
