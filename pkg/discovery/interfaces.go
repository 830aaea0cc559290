// Package discovery pkg/discovery/interfaces.go
package discovery

import (
	"context"

	"github.com/carverauto/devicefleet/pkg/fastboot"
)

// FastbootLister reports devices sitting in fastboot. *fastboot.Discovery
// implements it.
type FastbootLister interface {
	// IsAvailable reports whether the fastboot binary can be used at all
	IsAvailable(ctx context.Context) bool

	// ListDevices returns the current bootloader and fastbootd serials
	ListDevices(ctx context.Context) (*fastboot.DeviceSet, error)
}
