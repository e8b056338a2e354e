// Package backend is the HTTP client for the device sync API. Device calls
// authenticate with the upload token issued at activation; operator calls use
// the dashboard's operator token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/httputil"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/pairing"
)

const DeviceIDHeader = "X-Device-ID"

type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	operatorToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithOperatorToken(token string) Option {
	return func(c *Client) {
		c.operatorToken = token
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: config.APIRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type auth func(*http.Request)

func deviceAuth(creds model.DeviceCredentials) auth {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+creds.UploadToken)
		r.Header.Set(DeviceIDHeader, creds.DeviceID)
	}
}

func (c *Client) operatorAuth() auth {
	return func(r *http.Request) {
		if c.operatorToken != "" {
			r.Header.Set("Authorization", "Bearer "+c.operatorToken)
		}
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, authFn auth, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, "encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authFn != nil {
		authFn(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Transport(op, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httputil.ReadError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// PairDevice redeems a pairing code for device credentials.
func (c *Client) PairDevice(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error) {
	var res model.PairDeviceResult
	if err := c.do(ctx, "pair device", http.MethodPost, "/v1/pairing/redeem", nil, nil, req, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "pairing was rejected"
		}
		return &res, apperrors.ValidationError(msg)
	}
	if res.DeviceID == "" || res.DeviceToken == "" {
		return &res, apperrors.Transport("pair device", fmt.Errorf("response is missing credentials"))
	}
	return &res, nil
}

func (c *Client) UploadPings(ctx context.Context, creds model.DeviceCredentials, pings []model.LocationPing) (*model.UploadPingResult, error) {
	var res model.UploadPingResult
	body := model.UploadPingsRequest{Pings: pings}
	if err := c.do(ctx, "upload ping", http.MethodPost, "/v1/devices/ping", nil, deviceAuth(creds), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SendHeartbeat(ctx context.Context, creds model.DeviceCredentials, payload model.HeartbeatPayload) (*model.HeartbeatResult, error) {
	var res model.HeartbeatResult
	if err := c.do(ctx, "send heartbeat", http.MethodPost, "/v1/devices/heartbeat", nil, deviceAuth(creds), payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CreateCode(ctx context.Context, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error) {
	var res model.CreatePairingCodeResult
	if err := c.do(ctx, "create pairing code", http.MethodPost, "/v1/pairing/codes", nil, c.operatorAuth(), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CheckCodeStatus(ctx context.Context, code string) (*model.CodeStatusResult, error) {
	var res model.CodeStatusResult
	path := "/v1/pairing/codes/" + url.PathEscape(pairing.FormatCode(pairing.StripCode(code))) + "/status"
	if err := c.do(ctx, "check code status", http.MethodGet, path, nil, c.operatorAuth(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetFamilyDevices(ctx context.Context, filters model.DeviceFilters) (*model.DeviceList, error) {
	query := url.Values{}
	if filters.Status != nil {
		query.Set("status", string(*filters.Status))
	}
	if filters.UserID != "" {
		query.Set("userId", filters.UserID)
	}

	var res model.DeviceList
	if err := c.do(ctx, "list devices", http.MethodGet, "/v1/devices", query, c.operatorAuth(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UnpairDevice(ctx context.Context, deviceID string) error {
	return c.do(ctx, "unpair device", http.MethodPost, "/v1/devices/"+url.PathEscape(deviceID)+"/unpair", nil, c.operatorAuth(), nil, nil)
}

// RemoveDevice soft-deletes the device; it disappears from listings.
func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	return c.do(ctx, "remove device", http.MethodDelete, "/v1/devices/"+url.PathEscape(deviceID), nil, c.operatorAuth(), nil, nil)
}

func (c *Client) UpdateDevice(ctx context.Context, deviceID string, params model.UpdateDeviceParams) (*model.Device, error) {
	if params.IsEmpty() {
		return nil, apperrors.ValidationError("nothing to update")
	}
	var res model.Device
	if err := c.do(ctx, "update device", http.MethodPatch, "/v1/devices/"+url.PathEscape(deviceID), nil, c.operatorAuth(), params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetLiveLocation(ctx context.Context, q model.LiveLocationQuery) (*model.LiveLocations, error) {
	query := url.Values{}
	if q.DeviceID != "" {
		query.Set("deviceId", q.DeviceID)
	}
	if q.UserID != "" {
		query.Set("userId", q.UserID)
	}

	var res model.LiveLocations
	if err := c.do(ctx, "live location", http.MethodGet, "/v1/locations/live", query, c.operatorAuth(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EventsURL is the websocket endpoint for change notifications.
func (c *Client) EventsURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/v1/events"
	if c.operatorToken != "" {
		u.RawQuery = url.Values{"token": {c.operatorToken}}.Encode()
	}
	return u.String()
}
