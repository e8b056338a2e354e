package reporter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/platform"
	"github.com/sentinelr/devicesync/internal/scheduler"
	"github.com/sentinelr/devicesync/internal/tracking"
)

const (
	HeartbeatJobName         = "sentinelr.heartbeat"
	DefaultHeartbeatInterval = 60 * time.Second
)

type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, creds model.DeviceCredentials, payload model.HeartbeatPayload) (*model.HeartbeatResult, error)
}

type HeartbeatReporter struct {
	sched    *scheduler.Scheduler
	state    *tracking.State
	device   platform.Device
	sender   HeartbeatSender
	interval time.Duration
	now      func() time.Time
}

func NewHeartbeatReporter(
	sched *scheduler.Scheduler,
	state *tracking.State,
	device platform.Device,
	sender HeartbeatSender,
	interval time.Duration,
) *HeartbeatReporter {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	h := &HeartbeatReporter{
		sched:    sched,
		state:    state,
		device:   device,
		sender:   sender,
		interval: interval,
		now:      time.Now,
	}
	state.Register(HeartbeatJobName, h)
	return h
}

// Start fires one heartbeat immediately and then one per interval. Starting
// while already running is a no-op.
func (h *HeartbeatReporter) Start() bool {
	return h.sched.Every(HeartbeatJobName, h.interval, h.tick)
}

// Stop is a no-op when not running.
func (h *HeartbeatReporter) Stop(_ context.Context) error {
	h.sched.Cancel(HeartbeatJobName)
	return nil
}

func (h *HeartbeatReporter) IsRunning() bool {
	return h.sched.Running(HeartbeatJobName)
}

func (h *HeartbeatReporter) tick(ctx context.Context) {
	err := h.Beat(ctx)
	switch {
	case err == nil:
	case apperrors.GetCode(err) == apperrors.ErrCodeNotPaired:
		log.Debug().Msg("heartbeat skipped: device not paired")
	default:
		log.Warn().Err(err).Msg("heartbeat failed")
	}
}

// Beat sends a single heartbeat if the device is paired. Transport errors
// are returned for the caller to retry; a rejected token unpairs the device.
func (h *HeartbeatReporter) Beat(ctx context.Context) error {
	if _, err := h.state.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("device state reload failed, using cached flags")
	}
	creds, ok := h.state.PairedCredentials()
	if !ok {
		metrics.HeartbeatsSent.WithLabelValues("skipped").Inc()
		return apperrors.NotPaired()
	}

	ctx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()

	battery, err := h.device.Battery(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "read battery", err)
	}
	h.state.SetBattery(battery.Level, battery.Charging)

	info := h.device.Info()
	payload := model.HeartbeatPayload{
		BatteryLevel: battery.Level,
		IsCharging:   battery.Charging,
		DeviceName:   info.Name,
		DeviceModel:  info.Model,
		DeviceBrand:  info.Brand,
		OSVersion:    info.OSVersion,
		AppVersion:   info.AppVersion,
		Timestamp:    h.now(),
	}

	res, err := h.sender.SendHeartbeat(ctx, creds, payload)
	if err != nil {
		metrics.HeartbeatsSent.WithLabelValues("failed").Inc()
		if apperrors.IsUnauthorized(err) {
			log.Warn().Err(err).Msg("heartbeat rejected, unpairing device")
			if uerr := h.state.UnpairDevice(context.WithoutCancel(ctx)); uerr != nil {
				log.Error().Err(uerr).Msg("failed to unpair after rejection")
			}
			return err
		}
		h.state.SetConnection(model.ConnectionOffline)
		return err
	}

	metrics.HeartbeatsSent.WithLabelValues("sent").Inc()
	h.state.SetConnection(model.ConnectionOnline)
	ev := log.Debug().Int("battery", battery.Level)
	if res != nil {
		ev = ev.Time("serverTime", res.ServerTime)
	}
	ev.Msg("heartbeat sent")
	return nil
}
