package model

import "time"

type HeartbeatPayload struct {
	BatteryLevel int       `json:"batteryLevel"`
	IsCharging   bool      `json:"isCharging"`
	DeviceName   string    `json:"deviceName"`
	DeviceModel  string    `json:"deviceModel"`
	DeviceBrand  string    `json:"deviceBrand"`
	OSVersion    string    `json:"osVersion"`
	AppVersion   string    `json:"appVersion"`
	Timestamp    time.Time `json:"timestamp"`
}
