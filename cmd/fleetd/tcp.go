/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"time"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/registry"
	"github.com/carverauto/devicefleet/pkg/runner"
	"github.com/carverauto/devicefleet/pkg/tcpdevice"
)

// connectTCP brings the device at opts.tcpAddress into the fleet, holds it,
// and disconnects it again.
func connectTCP(
	ctx context.Context, opts *options, cfg *models.FleetConfig,
	reg registry.Manager, r runner.CommandRunner, log logger.Logger) error {
	controller := tcpdevice.NewController(reg, r, log, cfg.ADBPath, cfg.CommandTimeout.Std(), cfg.TCP)

	d, err := controller.Connect(ctx, opts.tcpAddress)
	if err != nil {
		return err
	}

	log.Info().Str("serial", d.Serial()).Str("variant", string(d.Variant())).Msg("TCP device ready")

	if opts.holdInstance > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(opts.holdInstance):
		}
	}

	return controller.Disconnect(context.WithoutCancel(ctx), d)
}
