package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/registry"
	"github.com/carverauto/devicefleet/pkg/runner"
	"github.com/carverauto/devicefleet/pkg/virtualdevice"
)

var errNoVirtualPlaceholder = errors.New("no local virtual device available")

// provision allocates a local virtual placeholder, boots an instance on it,
// optionally holds it, and tears it down.
func provision(
	ctx context.Context, opts *options, cfg *models.FleetConfig,
	reg registry.Manager, r runner.CommandRunner, log logger.Logger) error {
	target := reg.Allocate(ctx, registry.DeviceSelector{Variants: []device.Variant{device.LocalVirtual}})
	if target == nil {
		return fmt.Errorf("%w: set placeholders.local_virtual_devices", errNoVirtualPlaceholder)
	}

	var sink virtualdevice.ArtifactSink
	if cfg.VirtualDevice.ArtifactDir != "" {
		sink = &virtualdevice.DirArtifactSink{Dir: cfg.VirtualDevice.ArtifactDir}
	}

	controller := virtualdevice.NewController(r, log, cfg.ADBPath, cfg.VirtualDevice, sink,
		virtualdevice.WithVerboseDriver(cfg.Logging.IsVerbose()))

	inputs := virtualdevice.BuildInputs{DeviceImage: opts.deviceImage, HostPackage: opts.hostPackage}

	err := controller.Run(ctx, target, inputs, func(ctx context.Context, s *virtualdevice.Session) error {
		log.Info().
			Str("serial", target.Serial()).
			Str("instance", s.InstanceName).
			Str("address", s.Address()).
			Msg("Virtual device connected")

		if opts.holdInstance <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(opts.holdInstance):
		}

		return nil
	})

	state := device.FreeAsAvailable
	if err != nil {
		state = device.FreeAsUnavailable
	}

	reg.Free(context.WithoutCancel(ctx), target, state)

	return err
}

func printSnapshot(w io.Writer, reg registry.Manager) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(reg.Descriptors())
}
