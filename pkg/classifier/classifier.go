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

// Package classifier assigns a variant to a newly discovered device.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/runner"
)

const (
	frameworkBinary = "/system/bin/pm"
	missingFileText = "No such file"
)

var (
	errProbeInconclusive = errors.New("framework probe inconclusive")
	networkSerial        = regexp.MustCompile(`^(?:(?:\d{1,3}\.){3}\d{1,3}|localhost):\d+$`)
)

// Option customizes a Classifier.
type Option func(*Classifier)

// WithNestedDetector replaces the nested remote environment check.
func WithNestedDetector(detect func(context.Context) bool) Option {
	return func(c *Classifier) {
		c.detectNested = detect
	}
}

// Classifier implements registry.Classifier.
type Classifier struct {
	runner  runner.CommandRunner
	logger  logger.Logger
	adbPath string
	probe   models.ProbeConfig

	detectNested func(context.Context) bool
	nestedOnce   sync.Once
	nested       bool
}

// New builds a Classifier that probes devices through adbPath. Unset probe
// bounds fall back to their defaults.
func New(
	r runner.CommandRunner, log logger.Logger, adbPath string,
	probe models.ProbeConfig, remote models.RemoteEnvConfig, opts ...Option) *Classifier {
	c := &Classifier{
		runner:       r,
		logger:       log,
		adbPath:      adbPath,
		probe:        probe.WithDefaults(),
		detectNested: newNestedDetector(remote, log),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Classify decides the variant and initial connection state of handle. The
// result depends only on the handle and the probe responses.
func (c *Classifier) Classify(ctx context.Context, handle device.Handle) device.Classification {
	result := device.Classification{InitialConnection: connectionFor(handle)}

	switch {
	case handle.Stub == device.RemoteVirtualStub:
		result = device.Classification{Variant: device.RemoteVirtual, InitialConnection: device.NotAvailable}
	case handle.Stub == device.LocalVirtualStub:
		result = device.Classification{Variant: device.LocalVirtual, InitialConnection: device.NotAvailable}
	case handle.Stub == device.TCPStub:
		result = device.Classification{Variant: device.RemoteTCP, InitialConnection: device.NotAvailable}
	case networkSerial.MatchString(handle.Serial):
		if c.isNested(ctx) {
			result.Variant = device.NestedRemote
		} else {
			result = device.Classification{Variant: device.RemoteTCP, InitialConnection: device.NotAvailable}
		}
	case c.hasFramework(ctx, handle):
		result.Variant = device.FullStack
	default:
		result.Variant = device.NoFrameworkSupport
	}

	switch handle.Fastboot {
	case device.BootloaderMode:
		result.InitialConnection = device.Fastboot
	case device.UserspaceFastboot:
		result.InitialConnection = device.Fastbootd
	case device.NoFastboot:
	}

	c.logger.Debug().
		Str("serial", handle.Serial).
		Str("variant", string(result.Variant)).
		Str("connection_state", string(result.InitialConnection)).
		Msg("Classified device")

	return result
}

// hasFramework probes for the package manager binary. Devices that are not
// online, and probes that never give a clear answer, count as having one.
func (c *Classifier) hasFramework(ctx context.Context, handle device.Handle) bool {
	if !handle.IsOnline() {
		return true
	}

	attempt := 0

	operation := func() (bool, error) {
		attempt++

		res := c.runner.RunTimed(ctx, c.probe.Timeout.Std(),
			c.adbPath, "-s", handle.Serial, "shell", "ls", frameworkBinary)

		out := res.Output()

		switch {
		case res.Succeeded() && strings.Contains(out, frameworkBinary):
			return true, nil
		case strings.Contains(out, missingFileText):
			return false, nil
		}

		status := runner.StatusException
		if res != nil {
			status = res.Status
		}

		c.logger.Debug().
			Str("serial", handle.Serial).
			Int("attempt", attempt).
			Str("status", string(status)).
			Msg("Framework probe inconclusive")

		return false, fmt.Errorf("%w: %s", errProbeInconclusive, status)
	}

	present, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.probe.Backoff.Std())),
		backoff.WithMaxTries(uint(c.probe.Attempts)))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("serial", handle.Serial).
			Int("attempts", attempt).
			Msg("Could not determine framework support, assuming present")

		return true
	}

	return present
}

func (c *Classifier) isNested(ctx context.Context) bool {
	c.nestedOnce.Do(func() {
		c.nested = c.detectNested(ctx)
	})

	return c.nested
}

func connectionFor(handle device.Handle) device.ConnectionState {
	switch handle.State {
	case device.AdbOnline:
		return device.Online
	case device.AdbUnknown:
		return device.NotAvailable
	case device.AdbOffline, device.AdbUnauthorized, device.AdbRecovery, device.AdbSideload, device.AdbBootloader:
		return device.Offline
	}

	return device.Offline
}
