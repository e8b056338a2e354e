package model

import "time"

// Device is the backend's canonical record of a companion device. Removed is
// terminal and only hides the row from listings.
type Device struct {
	ID             string     `db:"id" json:"id"`
	FamilyID       string     `db:"family_id" json:"familyId"`
	Name           string     `db:"name" json:"name"`
	Type           string     `db:"type" json:"type"`
	Platform       string     `db:"platform" json:"platform"`
	PairStatus     PairStatus `db:"pair_status" json:"pairStatus"`
	AssignedUserID *string    `db:"assigned_user_id" json:"assignedUserId,omitempty"`
	Online         bool       `db:"online" json:"online"`
	LastSeenAt     *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	BatteryLevel   *int       `db:"battery_level" json:"batteryLevel,omitempty"`
	IsCharging     *bool      `db:"is_charging" json:"isCharging,omitempty"`
	OSVersion      *string    `db:"os_version" json:"osVersion,omitempty"`
	AppVersion     *string    `db:"app_version" json:"appVersion,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

func (d *Device) IsVisible() bool {
	return d.PairStatus != PairStatusRemoved
}

func (d *Device) IsOnline(now time.Time, window time.Duration) bool {
	return d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) <= window
}

type CreateDeviceParams struct {
	ID       string
	FamilyID string
	Name     string
	Type     string
	Platform string
}

type UpdateDeviceParams struct {
	Name           *string `json:"name,omitempty"`
	AssignedUserID *string `json:"assignedUserId,omitempty"`
}

func (p UpdateDeviceParams) IsEmpty() bool {
	return p.Name == nil && p.AssignedUserID == nil
}

type DeviceFilters struct {
	Status *PairStatus
	UserID string
}

// DeviceCredentials is what a companion device holds after activation.
// Both fields are required for any authenticated upload.
type DeviceCredentials struct {
	DeviceID    string `json:"deviceId"`
	UploadToken string `json:"uploadToken"`
}

func (c DeviceCredentials) Complete() bool {
	return c.DeviceID != "" && c.UploadToken != ""
}
