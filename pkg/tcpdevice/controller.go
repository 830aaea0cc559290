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

// Package tcpdevice brings devices into the fleet over adb TCP connections and
// takes them out again.
package tcpdevice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/registry"
	"github.com/carverauto/devicefleet/pkg/runner"
)

const (
	defaultADBPath        = "adb"
	defaultCommandTimeout = 30 * time.Second
	defaultOnlinePoll     = time.Second
	connectedPrefix       = "connected to "
)

// Option customizes a Controller.
type Option func(*Controller)

// WithOnlinePoll sets the delay between get-state checks while waiting for a
// connected device.
func WithOnlinePoll(d time.Duration) Option {
	return func(c *Controller) {
		c.onlinePoll = d
	}
}

// Controller connects and disconnects TCP devices on behalf of a caller that
// holds them for the duration.
type Controller struct {
	registry       registry.Manager
	runner         runner.CommandRunner
	logger         logger.Logger
	adbPath        string
	commandTimeout time.Duration
	cfg            models.TCPConfig
	onlinePoll     time.Duration
}

// NewController returns a Controller. Unset cfg bounds fall back to defaults.
func NewController(
	reg registry.Manager, r runner.CommandRunner, log logger.Logger,
	adbPath string, commandTimeout time.Duration, cfg models.TCPConfig, opts ...Option) *Controller {
	if adbPath == "" {
		adbPath = defaultADBPath
	}

	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}

	c := &Controller{
		registry:       reg,
		runner:         r,
		logger:         log,
		adbPath:        adbPath,
		commandTimeout: commandTimeout,
		cfg:            cfg.WithDefaults(),
		onlinePoll:     defaultOnlinePoll,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect claims hostPort for the caller, runs adb connect and waits for the
// device to come online. On failure the claim is dropped and the device is
// evicted.
func (c *Controller) Connect(ctx context.Context, hostPort string) (*registry.TrackedDevice, error) {
	d := c.registry.Claim(ctx, device.Handle{Serial: hostPort, State: device.AdbUnknown})
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, hostPort)
	}

	recovery := d.RecoveryEnabled()
	d.SetRecoveryEnabled(false)

	err := c.adbConnect(ctx, hostPort)
	if err == nil {
		err = c.waitOnline(ctx, hostPort)
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("serial", hostPort).Msg("TCP device connection failed")
		c.registry.HandleEvent(context.WithoutCancel(ctx), d, device.FreeUnknown)

		return nil, err
	}

	d.SetRecoveryEnabled(recovery)
	d.SetHandle(device.Handle{Serial: hostPort, State: device.AdbOnline})
	c.registry.SetConnectionState(ctx, d, device.Online)

	c.logger.Info().Str("serial", hostPort).Msg("TCP device connected")

	return d, nil
}

// Disconnect switches d back to USB mode, drops the TCP connection and evicts
// the device. Every step runs; failures are returned joined.
func (c *Controller) Disconnect(ctx context.Context, d *registry.TrackedDevice) error {
	if d == nil {
		return nil
	}

	serial := d.Handle().Serial

	var errs []error

	if res := c.runner.RunTimed(ctx, c.commandTimeout, c.adbPath, "-s", serial, "usb"); !res.Succeeded() {
		errs = append(errs, fmt.Errorf("adb usb %s: %s", serial, strings.TrimSpace(res.Output())))
	}

	if res := c.runner.RunTimed(ctx, c.commandTimeout, c.adbPath, "disconnect", serial); !res.Succeeded() {
		errs = append(errs, fmt.Errorf("adb disconnect %s: %s", serial, strings.TrimSpace(res.Output())))
	}

	c.registry.HandleEvent(context.WithoutCancel(ctx), d, device.FreeUnknown)

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn().Err(err).Str("serial", serial).Msg("TCP device disconnect incomplete")
	} else {
		c.logger.Info().Str("serial", serial).Msg("TCP device disconnected")
	}

	return err
}

func (c *Controller) adbConnect(ctx context.Context, hostPort string) error {
	attempt := 0

	operation := func() (struct{}, error) {
		attempt++

		res := c.runner.RunTimed(ctx, c.commandTimeout, c.adbPath, "connect", hostPort)

		out := strings.TrimSpace(res.Output())
		if res.Succeeded() && strings.Contains(out, connectedPrefix+hostPort) {
			return struct{}{}, nil
		}

		c.logger.Debug().
			Str("serial", hostPort).
			Int("attempt", attempt).
			Str("output", out).
			Msg("adb connect attempt failed")

		return struct{}{}, fmt.Errorf("%w: %s: %s", ErrConnectFailed, hostPort, out)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.RetryInterval.Std())),
		backoff.WithMaxTries(uint(c.cfg.ConnectAttempts)),
		backoff.WithMaxElapsedTime(0))

	return err
}

func (c *Controller) waitOnline(ctx context.Context, hostPort string) error {
	operation := func() (struct{}, error) {
		res := c.runner.RunTimed(ctx, c.commandTimeout, c.adbPath, "-s", hostPort, "get-state")
		if state := strings.TrimSpace(res.Output()); !res.Succeeded() || state != string(device.AdbOnline) {
			return struct{}{}, fmt.Errorf("device %s state %q", hostPort, state)
		}

		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.onlinePoll)),
		backoff.WithMaxElapsedTime(c.cfg.OnlineTimeout.Std()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotOnline, err)
	}

	return nil
}
