package dashboard

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/backend"
	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
)

// ListSync holds the family's visible devices. Every change notification,
// and every feed reconnect, triggers one full refetch.
type ListSync struct {
	lister         DeviceLister
	subscribe      SubscribeFunc
	filters        model.DeviceFilters
	onList         func([]model.Device)
	onUnauthorized func(error)

	// refetches are serialized so a slow response never overwrites a newer one
	fetchMu sync.Mutex

	mu      sync.Mutex
	devices []model.Device
	sub     io.Closer
}

func NewListSync(lister DeviceLister, subscribe SubscribeFunc, filters model.DeviceFilters, onList func([]model.Device)) *ListSync {
	return &ListSync{
		lister:    lister,
		subscribe: subscribe,
		filters:   filters,
		onList:    onList,
	}
}

// Open fetches the list once and subscribes to changes. Calling Open on an
// open ListSync is a no-op.
func (l *ListSync) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.sub != nil {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.Refetch(ctx); err != nil {
		return err
	}

	sub := l.subscribe(ctx, l.onChange)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		sub.Close()
		return nil
	}
	l.sub = sub
	return nil
}

func (l *ListSync) onChange(c backend.Change) {
	if c.Err != nil {
		if apperrors.IsUnauthorized(c.Err) && l.onUnauthorized != nil {
			l.onUnauthorized(c.Err)
			return
		}
		log.Warn().Err(c.Err).Msg("change feed ended")
		return
	}
	if c.Resync {
		log.Debug().Msg("change feed reconnected, refetching devices")
	} else {
		log.Debug().
			Str("table", string(c.Event.Table)).
			Str("op", string(c.Event.Op)).
			Msg("change event, refetching devices")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.APIRequestTimeout)
	defer cancel()
	if err := l.Refetch(ctx); err != nil {
		log.Warn().Err(err).Msg("device list refetch failed")
	}
}

// Refetch replaces the list with the backend's current view. Removed
// devices are never shown.
func (l *ListSync) Refetch(ctx context.Context) error {
	l.fetchMu.Lock()
	defer l.fetchMu.Unlock()

	metrics.DeviceListRefetches.Inc()
	res, err := l.lister.GetFamilyDevices(ctx, l.filters)
	if err != nil {
		if apperrors.IsUnauthorized(err) && l.onUnauthorized != nil {
			l.onUnauthorized(err)
		}
		return err
	}

	visible := make([]model.Device, 0, len(res.Devices))
	for _, d := range res.Devices {
		if d.IsVisible() {
			visible = append(visible, d)
		}
	}

	l.mu.Lock()
	l.devices = visible
	l.mu.Unlock()

	if l.onList != nil {
		l.onList(visible)
	}
	return nil
}

func (l *ListSync) Devices() []model.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Device(nil), l.devices...)
}

// Close releases the subscription. Closing twice is a no-op.
func (l *ListSync) Close() error {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}
