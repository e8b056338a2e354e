// Package dashboard keeps an operator's device view current. Live location
// is polled for the selected device; the device list is refetched in full
// whenever the change feed reports anything.
package dashboard

import (
	"context"
	"io"

	"github.com/sentinelr/devicesync/internal/backend"
	"github.com/sentinelr/devicesync/internal/model"
)

type DeviceLister interface {
	GetFamilyDevices(ctx context.Context, filters model.DeviceFilters) (*model.DeviceList, error)
}

type LocationSource interface {
	GetLiveLocation(ctx context.Context, q model.LiveLocationQuery) (*model.LiveLocations, error)
}

type DeviceActions interface {
	UnpairDevice(ctx context.Context, deviceID string) error
	RemoveDevice(ctx context.Context, deviceID string) error
	UpdateDevice(ctx context.Context, deviceID string, params model.UpdateDeviceParams) (*model.Device, error)
}

// API is the backend surface the dashboard consumes; *backend.Client
// satisfies it.
type API interface {
	DeviceLister
	LocationSource
	DeviceActions
}

// SubscribeFunc opens a change subscription; closing the returned value
// releases it.
type SubscribeFunc func(ctx context.Context, fn backend.ChangeHandler) io.Closer

func FromFeed(feed *backend.Feed) SubscribeFunc {
	return func(ctx context.Context, fn backend.ChangeHandler) io.Closer {
		return feed.Subscribe(ctx, fn)
	}
}
