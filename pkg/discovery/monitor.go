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

// Package discovery polls the device bridge and fastboot and feeds what it
// sees into the fleet registry.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/registry"
	"github.com/carverauto/devicefleet/pkg/runner"
)

const (
	defaultCheckLimit     = 8
	defaultPollInterval   = 5 * time.Second
	defaultCommandTimeout = time.Minute
	defaultADBPath        = "adb"
	checkReply            = "ok"
)

// Config tunes the monitor.
type Config struct {
	ADBPath        string
	PollInterval   time.Duration
	CommandTimeout time.Duration
}

// Monitor keeps the registry in sync with attached devices.
type Monitor struct {
	config   Config
	registry registry.Manager
	runner   runner.CommandRunner
	fastboot FastbootLister
	logger   logger.Logger

	pollMu          sync.Mutex
	known           map[string]device.AdbState
	fastbootChecked bool
	fastbootUsable  bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor wires a monitor. fb may be nil to skip fastboot polling.
func NewMonitor(
	config Config, reg registry.Manager, r runner.CommandRunner, fb FastbootLister, log logger.Logger) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}

	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaultCommandTimeout
	}

	if config.ADBPath == "" {
		config.ADBPath = defaultADBPath
	}

	return &Monitor{
		config:   config,
		registry: reg,
		runner:   r,
		fastboot: fb,
		logger:   log,
		known:    make(map[string]device.AdbState),
	}
}

// Start polls once and then every PollInterval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrMonitorRunning
	}

	m.running = true
	m.done = make(chan struct{})

	m.wg.Add(1)

	go m.loop(ctx, m.done)

	m.logger.Info().Dur("interval", m.config.PollInterval).Msg("Discovery monitor started")

	return nil
}

// Stop ends the poll loop and waits for the in-flight pass.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil
	}

	m.running = false
	close(m.done)
	m.mu.Unlock()

	stopped := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		m.logger.Info().Msg("Discovery monitor stopped")
		return nil
	case <-ctx.Done():
		return ErrMonitorStopTimeout
	}
}

func (m *Monitor) loop(ctx context.Context, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.PollOnce(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Discovery pass incomplete")
		}

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single discovery pass: fastboot first, then the device
// bridge, then availability checks.
func (m *Monitor) PollOnce(ctx context.Context) error {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	inFastboot := m.pollFastboot(ctx)

	if err := m.pollAdb(ctx, inFastboot); err != nil {
		return err
	}

	m.runAvailabilityChecks(ctx)

	return nil
}

func (m *Monitor) pollFastboot(ctx context.Context) map[string]struct{} {
	seen := make(map[string]struct{})

	if m.fastboot == nil {
		return seen
	}

	if !m.fastbootChecked {
		m.fastbootChecked = true
		m.fastbootUsable = m.fastboot.IsAvailable(ctx)

		if !m.fastbootUsable {
			m.logger.Warn().Msg("Fastboot unavailable, bootloader devices will not be tracked")
		}
	}

	if !m.fastbootUsable {
		return seen
	}

	set, err := m.fastboot.ListDevices(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Skipping fastboot update")
		return seen
	}

	m.registerFastboot(ctx, set.Bootloader, device.BootloaderMode, device.Fastboot, seen)
	m.registerFastboot(ctx, set.Userspace, device.UserspaceFastboot, device.Fastbootd, seen)

	m.registry.UpdateFastbootStates(ctx, set.Bootloader, false)
	m.registry.UpdateFastbootStates(ctx, set.Userspace, true)

	return seen
}

// registerFastboot tracks serials listed by fastboot. Known devices move to
// state before UpdateFastbootStates runs, so a bootloader/fastbootd switch
// within one pass keeps the device.
func (m *Monitor) registerFastboot(
	ctx context.Context, serials []string, mode device.FastbootMode, state device.ConnectionState,
	seen map[string]struct{}) {
	for _, serial := range serials {
		seen[serial] = struct{}{}

		if d := m.registry.Find(serial); d != nil {
			m.registry.SetConnectionState(ctx, d, state)
			continue
		}

		d := m.registry.FindOrCreate(ctx, device.Handle{Serial: serial, Fastboot: mode})
		if d == nil {
			continue
		}

		m.registry.HandleEvent(ctx, d, device.ForceAvailable)
	}
}

func (m *Monitor) pollAdb(ctx context.Context, inFastboot map[string]struct{}) error {
	res := m.runner.RunTimed(ctx, m.config.CommandTimeout, m.config.ADBPath, "devices")
	if !res.Succeeded() {
		return fmt.Errorf("%w: %s", ErrDeviceListFailed, strings.TrimSpace(res.Output()))
	}

	listed := make(map[string]struct{})

	for _, handle := range ParseAdbDevices(res.Stdout) {
		listed[handle.Serial] = struct{}{}
		m.observe(ctx, handle)
	}

	for serial := range m.known {
		if _, ok := listed[serial]; ok {
			continue
		}

		delete(m.known, serial)

		if _, ok := inFastboot[serial]; ok {
			continue
		}

		m.disconnect(ctx, serial)
	}

	return nil
}

func (m *Monitor) observe(ctx context.Context, handle device.Handle) {
	prev, known := m.known[handle.Serial]
	m.known[handle.Serial] = handle.State

	d := m.registry.Find(handle.Serial)

	// an unchanged listing only matters once the registry has dropped the device
	if known && prev == handle.State && d != nil {
		return
	}

	if d == nil {
		d = m.registry.FindOrCreate(ctx, handle)
	}

	if d == nil {
		return
	}

	m.registry.SetConnectionState(ctx, d, connectionForAdb(handle.State))

	online := handle.State == device.AdbOnline

	var event device.Event

	switch {
	case d.AllocationState() == device.Unknown && online:
		event = device.Connected
	case d.AllocationState() == device.Unknown:
		event = device.ConnectedOffline
	case online:
		event = device.StateChangeOnline
	default:
		event = device.StateChangeOffline
	}

	res := m.registry.HandleEvent(ctx, d, event)

	m.logger.Debug().
		Str("serial", handle.Serial).
		Str("adb_state", string(handle.State)).
		Str("event", string(event)).
		Str("allocation_state", string(res.State)).
		Msg("Device state observed")
}

func (m *Monitor) disconnect(ctx context.Context, serial string) {
	d := m.registry.Find(serial)
	if d == nil {
		return
	}

	m.registry.SetConnectionState(ctx, d, device.NotAvailable)

	// placeholders outlive the instance they stand in for
	if d.IsStub() {
		return
	}

	m.registry.HandleEvent(ctx, d, device.Disconnected)

	m.logger.Info().Str("serial", serial).Msg("Device disconnected")
}

func (m *Monitor) runAvailabilityChecks(ctx context.Context) {
	var pending []*registry.TrackedDevice

	for _, d := range m.registry.Iterate() {
		if d.AllocationState() == device.CheckingAvailability {
			pending = append(pending, d)
		}
	}

	if len(pending) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(defaultCheckLimit)

	for _, d := range pending {
		g.Go(func() error {
			m.checkAvailability(gCtx, d)
			return nil
		})
	}

	_ = g.Wait()
}

func (m *Monitor) checkAvailability(ctx context.Context, d *registry.TrackedDevice) {
	serial := d.Handle().Serial

	res := m.runner.RunTimed(ctx, m.config.CommandTimeout, m.config.ADBPath, "-s", serial, "shell", "echo", checkReply)

	event := device.AvailableCheckFailed
	if res.Succeeded() && strings.TrimSpace(res.Stdout) == checkReply {
		event = device.AvailableCheckPassed
	}

	result := m.registry.HandleEvent(ctx, d, event)

	if event == device.AvailableCheckFailed {
		m.logger.Warn().
			Str("serial", serial).
			Str("allocation_state", string(result.State)).
			Msg("Device failed availability check")
	}
}
