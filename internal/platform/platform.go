// Package platform is the boundary between the companion agent and the host
// device: permissions, location fixes and battery/identity facts.
package platform

import (
	"context"

	"github.com/sentinelr/devicesync/internal/model"
)

type Permission string

const (
	PermissionLocationForeground Permission = "foreground location"
	PermissionLocationBackground Permission = "background location"
	PermissionNotifications      Permission = "notifications"
)

type Permissions interface {
	Granted(ctx context.Context, p Permission) (bool, error)
}

type LocationSampler interface {
	CurrentLocation(ctx context.Context) (model.LocationPing, error)
}

type DeviceInfo struct {
	Name       string
	Model      string
	Brand      string
	OSVersion  string
	AppVersion string
}

type BatteryStatus struct {
	Level    int
	Charging bool
}

type Device interface {
	Info() DeviceInfo
	Battery(ctx context.Context) (BatteryStatus, error)
}

// Provider bundles every host capability the agent consumes.
type Provider interface {
	Permissions
	LocationSampler
	Device
}
