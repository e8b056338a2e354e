package model

import "time"

type LocationPing struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Accuracy  float64        `json:"accuracy"`
	Altitude  *float64       `json:"altitude,omitempty"`
	Speed     *float64       `json:"speed,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    LocationSource `json:"source"`
}

// StoredLocationPing is a ping as persisted by the backend.
type StoredLocationPing struct {
	ID         string         `db:"id"`
	DeviceID   string         `db:"device_id"`
	Latitude   float64        `db:"latitude"`
	Longitude  float64        `db:"longitude"`
	Accuracy   float64        `db:"accuracy"`
	Altitude   *float64       `db:"altitude"`
	Speed      *float64       `db:"speed"`
	Source     LocationSource `db:"source"`
	RecordedAt time.Time      `db:"recorded_at"`
	ReceivedAt time.Time      `db:"received_at"`
}

type LocationEntry struct {
	DeviceID       string    `db:"device_id" json:"deviceId"`
	DeviceName     string    `db:"device_name" json:"deviceName"`
	AssignedUserID *string   `db:"assigned_user_id" json:"assignedUserId,omitempty"`
	Latitude       float64   `db:"latitude" json:"latitude"`
	Longitude      float64   `db:"longitude" json:"longitude"`
	Accuracy       float64   `db:"accuracy" json:"accuracy"`
	BatteryLevel   *int      `db:"battery_level" json:"batteryLevel,omitempty"`
	RecordedAt     time.Time `db:"recorded_at" json:"recordedAt"`
}

type LiveLocationQuery struct {
	DeviceID string
	UserID   string
}
