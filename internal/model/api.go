package model

import "time"

type CreatePairingCodeRequest struct {
	DeviceName    string `json:"deviceName,omitempty"`
	WindowSeconds int    `json:"windowSeconds,omitempty"`
}

type CreatePairingCodeResult struct {
	Code      string    `json:"code"`
	QRPayload string    `json:"qrPayload"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CodeStatusResult struct {
	Status CodeStatus `json:"status"`
	Device *Device    `json:"device,omitempty"`
}

type PairDeviceRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

type PairDeviceResult struct {
	Success     bool   `json:"success"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	Message     string `json:"message,omitempty"`
}

type UploadPingsRequest struct {
	Pings []LocationPing `json:"pings"`
}

type UploadPingResult struct {
	Success  bool `json:"success"`
	Accepted int  `json:"accepted"`
}

type HeartbeatResult struct {
	Success    bool      `json:"success"`
	ServerTime time.Time `json:"serverTime"`
}

type DeviceList struct {
	Devices []Device `json:"devices"`
}

type LiveLocations struct {
	Locations []LocationEntry `json:"locations"`
}
