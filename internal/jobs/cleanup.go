package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/model"
)

type CodeCleaner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type PingPruner interface {
	PruneOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type OfflineMarker interface {
	MarkOffline(ctx context.Context, seenBefore time.Time) ([]model.Device, error)
}

// CleanupJob expires pairing codes, prunes old pings and flips silent devices
// offline. It runs once on Start and then every interval.
type CleanupJob struct {
	codes     CodeCleaner
	pings     PingPruner
	devices   OfflineMarker
	publisher events.Publisher
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewCleanupJob(
	codes CodeCleaner,
	pings PingPruner,
	devices OfflineMarker,
	publisher events.Publisher,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		codes:     codes,
		pings:     pings,
		devices:   devices,
		publisher: publisher,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := j.now()

	j.runCleanup(ctx, "pairing codes", func(ctx context.Context) (int64, error) {
		return j.codes.DeleteExpired(ctx, now.Add(-config.PairingCodeRetention))
	})
	j.runCleanup(ctx, "location pings", func(ctx context.Context) (int64, error) {
		return j.pings.PruneOlderThan(ctx, now.Add(-config.LocationRetention))
	})
	j.runCleanup(ctx, "online devices", func(ctx context.Context) (int64, error) {
		return j.markOffline(ctx, now.Add(-config.DeviceOnlineWindow))
	})
}

func (j *CleanupJob) markOffline(ctx context.Context, seenBefore time.Time) (int64, error) {
	devices, err := j.devices.MarkOffline(ctx, seenBefore)
	if err != nil {
		return 0, err
	}
	for _, d := range devices {
		if err := j.publisher.Publish(ctx, model.ChangeEvent{
			Table:    model.ChangeTableDevices,
			Op:       model.ChangeOpUpdate,
			ID:       d.ID,
			FamilyID: d.FamilyID,
		}); err != nil {
			log.Error().Err(err).Str("deviceId", d.ID).Msg("failed to publish offline change")
		}
	}
	return int64(len(devices)), nil
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
