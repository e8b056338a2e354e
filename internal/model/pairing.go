package model

import "time"

type PairingCode struct {
	Code       string     `db:"code" json:"code"`
	FamilyID   string     `db:"family_id" json:"familyId"`
	DeviceName *string    `db:"device_name" json:"deviceName,omitempty"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	UsedAt     *time.Time `db:"used_at" json:"usedAt,omitempty"`
	DeviceID   *string    `db:"device_id" json:"deviceId,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Status derives the externally visible code status at the given instant.
func (pc *PairingCode) Status(now time.Time) CodeStatus {
	if pc.UsedAt != nil {
		return CodeStatusPaired
	}
	if !now.Before(pc.ExpiresAt) {
		return CodeStatusExpired
	}
	return CodeStatusPending
}

type CreatePairingCodeParams struct {
	Code       string
	FamilyID   string
	DeviceName *string
	ExpiresAt  time.Time
}
