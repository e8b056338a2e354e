// Package reporter pushes the companion device's location and health to the
// backend. Every upload re-checks the tracking gate at the moment it is sent.
package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/platform"
	"github.com/sentinelr/devicesync/internal/tracking"
)

const LocationJobName = "sentinelr.location"

type PingUploader interface {
	UploadPings(ctx context.Context, creds model.DeviceCredentials, pings []model.LocationPing) (*model.UploadPingResult, error)
}

type LocationOptions struct {
	Updates UpdateOptions
	// QueueSize bounds the retry queue for failed uploads; 0 drops them.
	QueueSize int
	Now       func() time.Time
}

type LocationReporter struct {
	state    *tracking.State
	runner   BackgroundJobRunner
	host     platform.Provider
	uploader PingUploader
	opts     LocationOptions
	queue    *pingQueue
	// uploads are serialized so queued pings keep their order
	uploadMu sync.Mutex
}

func NewLocationReporter(
	state *tracking.State,
	runner BackgroundJobRunner,
	host platform.Provider,
	uploader PingUploader,
	opts LocationOptions,
) (*LocationReporter, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &LocationReporter{
		state:    state,
		runner:   runner,
		host:     host,
		uploader: uploader,
		opts:     opts,
		queue:    newPingQueue(opts.QueueSize),
	}
	if err := runner.Register(LocationJobName, r.handleBatch); err != nil {
		return nil, err
	}
	state.Register(LocationJobName, r)
	return r, nil
}

// Start enables tracking and begins background sampling. Both foreground
// and background location permission are required.
func (r *LocationReporter) Start(ctx context.Context) error {
	for _, p := range []platform.Permission{
		platform.PermissionLocationForeground,
		platform.PermissionLocationBackground,
	} {
		granted, err := r.host.Granted(ctx, p)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, "check permission", err)
		}
		if !granted {
			return apperrors.PermissionDenied(string(p))
		}
	}

	if !r.state.Paired() {
		return apperrors.NotPaired()
	}

	wasEnabled := r.state.TrackingEnabled()
	on := true
	if _, err := r.state.ToggleTracking(ctx, &on); err != nil {
		return err
	}
	if err := r.runner.Start(ctx, LocationJobName, r.opts.Updates); err != nil {
		if !wasEnabled {
			off := false
			if _, rerr := r.state.ToggleTracking(context.WithoutCancel(ctx), &off); rerr != nil {
				log.Error().Err(rerr).Msg("failed to roll back tracking flag")
			}
		}
		return err
	}
	return nil
}

// Stop tears down background sampling and clears the tracking flag.
func (r *LocationReporter) Stop(ctx context.Context) error {
	if err := r.runner.Stop(ctx, LocationJobName); err != nil {
		return err
	}
	if n := r.queue.clear(); n > 0 {
		metrics.PingsUploaded.WithLabelValues("dropped").Add(float64(n))
	}

	off := false
	_, err := r.state.ToggleTracking(ctx, &off)
	return err
}

func (r *LocationReporter) IsRunning() bool {
	return r.runner.IsRunning(LocationJobName)
}

// QueueLen is the number of pings waiting for a retry.
func (r *LocationReporter) QueueLen() int {
	return r.queue.size()
}

// ReportCurrent samples once in the foreground and uploads through the same
// gate as background samples.
func (r *LocationReporter) ReportCurrent(ctx context.Context) error {
	granted, err := r.host.Granted(ctx, platform.PermissionLocationForeground)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "check permission", err)
	}
	if !granted {
		return apperrors.PermissionDenied(string(platform.PermissionLocationForeground))
	}

	p, err := r.host.CurrentLocation(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "sample location", err)
	}
	p.Source = model.LocationSourceForeground
	return r.deliver(ctx, []model.LocationPing{p})
}

func (r *LocationReporter) handleBatch(ctx context.Context, samples []model.LocationPing) {
	if err := r.deliver(ctx, samples); err != nil && !apperrors.IsUnauthorized(err) {
		log.Debug().Err(err).Int("count", len(samples)).Msg("location batch not delivered")
	}
}

func (r *LocationReporter) deliver(ctx context.Context, samples []model.LocationPing) error {
	if len(samples) == 0 {
		return nil
	}
	r.state.SetLocation(samples[len(samples)-1])

	r.uploadMu.Lock()
	defer r.uploadMu.Unlock()

	// another process may have toggled tracking or unpaired since the last tick
	if _, err := r.state.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("device state reload failed, using cached flags")
	}
	creds, ok := r.state.Gate()
	if !ok {
		dropped := len(samples) + r.queue.clear()
		metrics.PingsUploaded.WithLabelValues("gated").Add(float64(dropped))
		return apperrors.NotPaired()
	}

	batch := append(r.queue.drain(), samples...)

	uploadCtx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()

	if _, err := r.uploader.UploadPings(uploadCtx, creds, batch); err != nil {
		if apperrors.IsUnauthorized(err) {
			log.Warn().Err(err).Msg("upload token rejected, unpairing device")
			metrics.PingsUploaded.WithLabelValues("dropped").Add(float64(len(batch)))
			if uerr := r.state.UnpairDevice(context.WithoutCancel(ctx)); uerr != nil {
				log.Error().Err(uerr).Msg("failed to unpair after rejection")
			}
			return err
		}

		r.state.SetConnection(model.ConnectionOffline)
		dropped := r.queue.push(batch...)
		metrics.PingsUploaded.WithLabelValues("queued").Add(float64(len(batch) - dropped))
		metrics.PingsUploaded.WithLabelValues("dropped").Add(float64(dropped))
		log.Warn().
			Err(err).
			Int("count", len(batch)).
			Int("dropped", dropped).
			Int("queued", r.queue.size()).
			Msg("location upload failed")
		return err
	}

	metrics.PingsUploaded.WithLabelValues("sent").Add(float64(len(batch)))
	r.state.RecordPing(r.opts.Now())
	return nil
}
