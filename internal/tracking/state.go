// Package tracking holds the companion device's view of itself. Persisted
// fields live in a credstore.Store; live fields are rebuilt every process
// start. All reads and writes are serialized through one mutex because the
// background reporters run concurrently with user actions.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/credstore"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
)

// Stopper is a reporter that must halt when the device is unpaired.
type Stopper interface {
	Stop(ctx context.Context) error
}

type Live struct {
	Location         *model.LocationPing
	BatteryLevel     *int
	IsCharging       *bool
	LastPingAt       *time.Time
	ConnectionStatus model.ConnectionStatus
}

type Snapshot struct {
	Paired          bool
	TrackingEnabled bool
	Credentials     model.DeviceCredentials
	Live
}

type State struct {
	mu              sync.Mutex
	store           credstore.Store
	paired          bool
	trackingEnabled bool
	creds           model.DeviceCredentials
	live            Live
	stoppers        map[string]Stopper
}

// Open rebuilds state from store. A paired flag without complete credentials
// is treated as unpaired and the leftovers are cleared.
func Open(ctx context.Context, store credstore.Store) (*State, error) {
	s := &State{
		store:    store,
		live:     Live{ConnectionStatus: model.ConnectionOffline},
		stoppers: make(map[string]Stopper),
	}

	values, err := store.GetMany(ctx, credstore.AllKeys...)
	if err != nil {
		return nil, fmt.Errorf("load device state: %w", err)
	}

	s.creds = model.DeviceCredentials{
		DeviceID:    values[credstore.KeyDeviceID],
		UploadToken: values[credstore.KeyUploadToken],
	}
	s.paired = credstore.ParseBool(values[credstore.KeyPaired])
	s.trackingEnabled = credstore.ParseBool(values[credstore.KeyTrackingEnabled])

	if s.paired && !s.creds.Complete() {
		log.Warn().Msg("paired flag set without credentials, resetting device state")
		if err := store.ClearMany(ctx, credstore.AllKeys...); err != nil {
			return nil, fmt.Errorf("reset device state: %w", err)
		}
		s.paired = false
		s.trackingEnabled = false
		s.creds = model.DeviceCredentials{}
	}

	return s, nil
}

// Change describes what Reload picked up from the store.
type Change struct {
	Unpaired        bool
	TrackingChanged bool
}

// Reload re-reads the persisted flags so writes made by another process
// close the gate at once. Reporters are not stopped here; callers owning
// them react to the returned Change.
func (s *State) Reload(ctx context.Context) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.store.GetMany(ctx, credstore.AllKeys...)
	if err != nil {
		return Change{}, fmt.Errorf("reload device state: %w", err)
	}
	creds := model.DeviceCredentials{
		DeviceID:    values[credstore.KeyDeviceID],
		UploadToken: values[credstore.KeyUploadToken],
	}
	paired := credstore.ParseBool(values[credstore.KeyPaired]) && creds.Complete()
	trackingEnabled := paired && credstore.ParseBool(values[credstore.KeyTrackingEnabled])

	change := Change{
		Unpaired:        s.paired && !paired,
		TrackingChanged: s.trackingEnabled != trackingEnabled,
	}
	if !paired {
		creds = model.DeviceCredentials{}
		if s.paired {
			s.live = Live{ConnectionStatus: model.ConnectionOffline}
		}
	}
	s.paired = paired
	s.trackingEnabled = trackingEnabled
	s.creds = creds
	return change, nil
}

// Register binds a reporter that UnpairDevice must stop.
func (s *State) Register(name string, r Stopper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppers[name] = r
}

// CompletePairing persists credentials and the paired flag in one write.
// Repeating it with the same values is a no-op.
func (s *State) CompletePairing(ctx context.Context, deviceID, token string) error {
	creds := model.DeviceCredentials{DeviceID: deviceID, UploadToken: token}
	if !creds.Complete() {
		return apperrors.ValidationError("device id and upload token are both required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paired && s.creds == creds {
		return nil
	}

	if err := s.store.SetMany(ctx, map[string]string{
		credstore.KeyDeviceID:    deviceID,
		credstore.KeyUploadToken: token,
		credstore.KeyPaired:      credstore.FormatBool(true),
	}); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}

	s.creds = creds
	s.paired = true
	log.Info().Str("deviceId", deviceID).Msg("device paired")
	return nil
}

// UnpairDevice clears every persisted key, resets live fields and stops all
// registered reporters.
func (s *State) UnpairDevice(ctx context.Context) error {
	s.mu.Lock()
	if err := s.store.ClearMany(ctx, credstore.AllKeys...); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clear device state: %w", err)
	}
	deviceID := s.creds.DeviceID
	s.paired = false
	s.trackingEnabled = false
	s.creds = model.DeviceCredentials{}
	s.live = Live{ConnectionStatus: model.ConnectionOffline}

	stoppers := make(map[string]Stopper, len(s.stoppers))
	for name, r := range s.stoppers {
		stoppers[name] = r
	}
	s.mu.Unlock()

	// reporters call back into State while stopping
	for name, r := range stoppers {
		if err := r.Stop(ctx); err != nil {
			log.Error().Err(err).Str("reporter", name).Msg("failed to stop reporter on unpair")
		}
	}

	log.Info().Str("deviceId", deviceID).Msg("device unpaired")
	return nil
}

// ToggleTracking flips the tracking flag, or sets it when explicit is given.
// Enabling requires a paired device.
func (s *State) ToggleTracking(ctx context.Context, explicit *bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := !s.trackingEnabled
	if explicit != nil {
		next = *explicit
	}
	if next && !s.paired {
		return s.trackingEnabled, apperrors.NotPaired()
	}
	if next == s.trackingEnabled {
		return next, nil
	}

	if err := s.store.SetMany(ctx, map[string]string{
		credstore.KeyTrackingEnabled: credstore.FormatBool(next),
	}); err != nil {
		return s.trackingEnabled, fmt.Errorf("persist tracking flag: %w", err)
	}
	s.trackingEnabled = next
	return next, nil
}

// Gate reports whether uploads may be sent right now, and with which
// credentials.
func (s *State) Gate() (model.DeviceCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paired || !s.trackingEnabled || !s.creds.Complete() {
		return model.DeviceCredentials{}, false
	}
	return s.creds, true
}

// PairedCredentials returns credentials when paired, regardless of tracking.
func (s *State) PairedCredentials() (model.DeviceCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paired || !s.creds.Complete() {
		return model.DeviceCredentials{}, false
	}
	return s.creds, true
}

func (s *State) Paired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paired
}

func (s *State) TrackingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackingEnabled
}

func (s *State) SetLocation(ping model.LocationPing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Location = &ping
}

func (s *State) SetBattery(level int, charging bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.BatteryLevel = &level
	s.live.IsCharging = &charging
}

// RecordPing marks a successful upload and flips the device online.
func (s *State) RecordPing(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.LastPingAt = &at
	s.live.ConnectionStatus = model.ConnectionOnline
}

func (s *State) SetConnection(status model.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.ConnectionStatus = status
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Paired:          s.paired,
		TrackingEnabled: s.trackingEnabled,
		Credentials:     s.creds,
		Live:            s.live,
	}
}
