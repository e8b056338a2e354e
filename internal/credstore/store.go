// Package credstore persists the companion device's identity and flags.
// Every implementation writes and clears several keys as one atomic unit so
// a crash can never leave a device paired but tokenless.
package credstore

import (
	"context"
	"strconv"
)

// KeyPrefix namespaces device state away from unrelated app settings.
const KeyPrefix = "sentinelr.device."

const (
	KeyDeviceID        = KeyPrefix + "id"
	KeyUploadToken     = KeyPrefix + "uploadToken"
	KeyPaired          = KeyPrefix + "paired"
	KeyTrackingEnabled = KeyPrefix + "trackingEnabled"
)

// AllKeys lists every key owned by the device state.
var AllKeys = []string{KeyDeviceID, KeyUploadToken, KeyPaired, KeyTrackingEnabled}

type Store interface {
	// GetMany returns the values present for keys; missing keys are absent
	// from the map.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// SetMany writes all values or none.
	SetMany(ctx context.Context, values map[string]string) error
	// ClearMany removes all keys or none.
	ClearMany(ctx context.Context, keys ...string) error
	Close() error
}

func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}

func ParseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
