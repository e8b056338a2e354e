// Package activation redeems a pairing code on the companion device and
// commits the issued credentials.
package activation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/pairing"
)

type Pairer interface {
	PairDevice(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error)
}

// Committer persists credentials; tracking.State satisfies it.
type Committer interface {
	CompletePairing(ctx context.Context, deviceID, token string) error
}

type Options struct {
	DeviceName string
	DeviceType string
	Platform   string
	Debounce   time.Duration
}

type Client struct {
	pairer    Pairer
	committer Committer
	opts      Options
	debouncer *InputDebouncer

	mu       sync.Mutex
	code     string
	scanName string
	busy     bool
}

func New(pairer Pairer, committer Committer, opts Options) *Client {
	if opts.DeviceType == "" {
		opts.DeviceType = "phone"
	}
	c := &Client{pairer: pairer, committer: committer, opts: opts}
	c.debouncer = NewInputDebouncer(opts.Debounce, c.setCode)
	return c
}

func (c *Client) setCode(code string) {
	c.mu.Lock()
	c.code = code
	c.scanName = ""
	c.mu.Unlock()
}

// Type records raw keyboard input. The normalized code becomes visible via
// Code once typing pauses.
func (c *Client) Type(raw string) {
	c.debouncer.Feed(raw)
}

// Enter normalizes raw input immediately and returns the display form.
func (c *Client) Enter(raw string) string {
	c.debouncer.Stop()
	code := pairing.NormalizeInput(raw)
	c.setCode(code)
	return code
}

// Scan decodes a scanned QR payload. The decoded name hint is kept for
// display only.
func (c *Client) Scan(scanned string) (pairing.Payload, error) {
	c.debouncer.Stop()
	p, err := pairing.DecodePayload(scanned)
	if err != nil {
		return pairing.Payload{}, err
	}
	c.mu.Lock()
	c.code = p.Code
	c.scanName = p.Name
	c.mu.Unlock()
	return p, nil
}

func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// Submit redeems the current code. The code's shape is checked before any
// network call. On failure the code is kept so the user can retry.
func (c *Client) Submit(ctx context.Context) (model.DeviceCredentials, error) {
	c.debouncer.Flush()

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return model.DeviceCredentials{}, apperrors.Conflict("Activation is already in progress")
	}
	code := c.code
	c.busy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	if err := pairing.ValidateCode(code); err != nil {
		return model.DeviceCredentials{}, actionable(err)
	}

	res, err := c.pairer.PairDevice(ctx, model.PairDeviceRequest{
		Code:       code,
		DeviceName: c.opts.DeviceName,
		DeviceType: c.opts.DeviceType,
		Platform:   c.opts.Platform,
	})
	if err != nil {
		log.Warn().Err(err).Str("code", pairing.MaskCode(code)).Msg("activation failed")
		return model.DeviceCredentials{}, actionable(err)
	}

	creds := model.DeviceCredentials{DeviceID: res.DeviceID, UploadToken: res.DeviceToken}
	if err := c.committer.CompletePairing(ctx, creds.DeviceID, creds.UploadToken); err != nil {
		return model.DeviceCredentials{}, apperrors.Wrap(apperrors.ErrCodeInternal,
			"Paired, but the credentials could not be saved. Try again.", err)
	}

	log.Info().Str("deviceId", creds.DeviceID).Str("code", pairing.MaskCode(code)).Msg("device activated")
	return creds, nil
}

// Activate is Enter followed by Submit.
func (c *Client) Activate(ctx context.Context, raw string) (model.DeviceCredentials, error) {
	c.Enter(raw)
	return c.Submit(ctx)
}

// actionable rewrites err with a message the user can act on. The original
// error stays reachable through Unwrap.
func actionable(err error) *apperrors.AppError {
	code := apperrors.GetCode(err)

	var msg string
	switch code {
	case apperrors.ErrCodeMissingRequired, apperrors.ErrCodeInvalidPairingCode:
		msg = "Enter the 8-character code shown on the dashboard, like AB12-CD34."
	case apperrors.ErrCodePairingExpired:
		msg = "This code has expired. Generate a new code on the dashboard and try again."
	case apperrors.ErrCodeAlreadyPaired:
		msg = "This code was already used. Generate a new code on the dashboard."
	case apperrors.ErrCodeNotFound:
		msg = "Code not recognised. Check it and try again."
	case apperrors.ErrCodeRateLimitExceeded:
		msg = "Too many attempts. Wait a minute and try again."
	case apperrors.ErrCodeTransport:
		msg = "Could not reach the server. Check your connection and try again."
	default:
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Message != "" {
			msg = appErr.Message
		} else {
			msg = "Activation failed. Try again."
		}
	}
	return apperrors.Wrap(code, msg, err)
}
