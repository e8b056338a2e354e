package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/scheduler"
)

const (
	LiveLocationJobName     = "dashboard.live-location"
	DefaultLivePollInterval = 30 * time.Second
)

// Viewport receives the latest fix of the selected device.
type Viewport func(entry model.LocationEntry)

type LivePoller struct {
	sched          *scheduler.Scheduler
	source         LocationSource
	interval       time.Duration
	viewport       Viewport
	onUnauthorized func(error)

	mu       sync.Mutex
	selected string
	latest   *model.LocationEntry
}

func NewLivePoller(sched *scheduler.Scheduler, source LocationSource, interval time.Duration, viewport Viewport) *LivePoller {
	if interval <= 0 {
		interval = DefaultLivePollInterval
	}
	return &LivePoller{
		sched:    sched,
		source:   source,
		interval: interval,
		viewport: viewport,
	}
}

// Select polls deviceID immediately and then every interval, replacing any
// previous selection.
func (p *LivePoller) Select(deviceID string) {
	// held across the whole switch so concurrent selections cannot leave the
	// job polling a device other than the selected one
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.selected == deviceID && p.sched.Running(LiveLocationJobName) {
		return
	}
	p.selected = deviceID
	p.latest = nil

	p.sched.Cancel(LiveLocationJobName)
	if deviceID == "" {
		return
	}
	if !p.sched.Every(LiveLocationJobName, p.interval, func(ctx context.Context) {
		p.poll(ctx, deviceID)
	}) {
		log.Error().Str("deviceId", deviceID).Msg("live location job already registered")
	}
}

func (p *LivePoller) Deselect() {
	p.Select("")
}

func (p *LivePoller) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

func (p *LivePoller) Latest() *model.LocationEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *LivePoller) poll(ctx context.Context, deviceID string) {
	ctx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()

	res, err := p.source.GetLiveLocation(ctx, model.LiveLocationQuery{DeviceID: deviceID})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if apperrors.IsUnauthorized(err) && p.onUnauthorized != nil {
			p.onUnauthorized(err)
			return
		}
		log.Warn().Err(err).Str("deviceId", deviceID).Msg("live location poll failed")
		return
	}

	entry := newestFor(res.Locations, deviceID)
	if entry == nil {
		return
	}

	p.mu.Lock()
	if p.selected != deviceID {
		// selection moved while the request was in flight
		p.mu.Unlock()
		return
	}
	p.latest = entry
	p.mu.Unlock()

	if p.viewport != nil {
		p.viewport(*entry)
	}
}

func newestFor(entries []model.LocationEntry, deviceID string) *model.LocationEntry {
	var best *model.LocationEntry
	for i := range entries {
		e := &entries[i]
		if e.DeviceID != deviceID {
			continue
		}
		if best == nil || e.RecordedAt.After(best.RecordedAt) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
