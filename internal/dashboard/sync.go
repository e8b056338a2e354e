package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/scheduler"
)

type Options struct {
	Filters          model.DeviceFilters
	LivePollInterval time.Duration
	OnList           func([]model.Device)
	Viewport         Viewport
	// OnUnauthorized runs once when the backend rejects the operator token.
	// DeviceSync is already closed when it runs.
	OnUnauthorized func(error)
}

// DeviceSync is one mounted dashboard view: a device list kept fresh by the
// change feed plus live polling for the selected device. Close releases
// both.
type DeviceSync struct {
	api   API
	sched *scheduler.Scheduler
	list  *ListSync
	live  *LivePoller

	unauthorizedOnce sync.Once
	onUnauthorized   func(error)
}

func NewDeviceSync(api API, subscribe SubscribeFunc, opts Options) *DeviceSync {
	sched := scheduler.New()
	d := &DeviceSync{
		api:            api,
		sched:          sched,
		list:           NewListSync(api, subscribe, opts.Filters, opts.OnList),
		live:           NewLivePoller(sched, api, opts.LivePollInterval, opts.Viewport),
		onUnauthorized: opts.OnUnauthorized,
	}
	d.list.onUnauthorized = d.unauthorized
	d.live.onUnauthorized = d.unauthorized
	return d
}

func (d *DeviceSync) Open(ctx context.Context) error {
	return d.list.Open(ctx)
}

func (d *DeviceSync) Devices() []model.Device {
	return d.list.Devices()
}

// Select switches live polling to deviceID, tearing down the previous poll.
func (d *DeviceSync) Select(deviceID string) {
	d.live.Select(deviceID)
}

func (d *DeviceSync) Deselect() {
	d.live.Deselect()
}

func (d *DeviceSync) Selected() string {
	return d.live.Selected()
}

func (d *DeviceSync) LatestLocation() *model.LocationEntry {
	return d.live.Latest()
}

func (d *DeviceSync) Unpair(ctx context.Context, deviceID string) error {
	return d.api.UnpairDevice(ctx, deviceID)
}

// Remove soft-deletes deviceID and stops polling it if selected.
func (d *DeviceSync) Remove(ctx context.Context, deviceID string) error {
	if err := d.api.RemoveDevice(ctx, deviceID); err != nil {
		return err
	}
	if d.live.Selected() == deviceID {
		d.live.Deselect()
	}
	return nil
}

func (d *DeviceSync) Update(ctx context.Context, deviceID string, params model.UpdateDeviceParams) (*model.Device, error) {
	return d.api.UpdateDevice(ctx, deviceID, params)
}

// Close stops live polling and releases the change subscription.
func (d *DeviceSync) Close() error {
	d.live.Deselect()
	d.sched.Shutdown()
	return d.list.Close()
}

func (d *DeviceSync) unauthorized(err error) {
	d.unauthorizedOnce.Do(func() {
		log.Warn().Err(err).Msg("operator token rejected, closing dashboard sync")
		// the callback may be running on the feed or poll goroutine
		go func() {
			_ = d.Close()
			if d.onUnauthorized != nil {
				d.onUnauthorized(err)
			}
		}()
	})
}
