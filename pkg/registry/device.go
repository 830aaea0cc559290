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

package registry

import (
	"sync"
	"time"

	"github.com/carverauto/devicefleet/pkg/device"
)

// TrackedDevice is one device known to the fleet. Serial and variant never
// change after creation; state fields are only written by the registry.
type TrackedDevice struct {
	serial  string
	variant device.Variant

	mu              sync.RWMutex
	allocation      device.AllocationState
	connection      device.ConnectionState
	handle          device.Handle
	original        device.Handle
	recoveryEnabled bool
	terminal        bool
	lastChanged     time.Time
}

func newTrackedDevice(handle device.Handle, c device.Classification, now time.Time) *TrackedDevice {
	return &TrackedDevice{
		serial:          handle.Serial,
		variant:         c.Variant,
		allocation:      device.Unknown,
		connection:      c.InitialConnection,
		handle:          handle,
		original:        handle,
		recoveryEnabled: true,
		lastChanged:     now,
	}
}

// Serial returns the identifier the device was registered under.
func (d *TrackedDevice) Serial() string {
	return d.serial
}

// Variant returns the classification fixed at creation.
func (d *TrackedDevice) Variant() device.Variant {
	return d.variant
}

// Supports reports whether the device's variant exposes capability.
func (d *TrackedDevice) Supports(capability device.Capability) bool {
	return d.variant.Supports(capability)
}

func (d *TrackedDevice) AllocationState() device.AllocationState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.allocation
}

func (d *TrackedDevice) ConnectionState() device.ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.connection
}

// Handle returns the handle currently used to reach the device.
func (d *TrackedDevice) Handle() device.Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.handle
}

// SetHandle swaps the handle used to reach the device, e.g. once a virtual
// device has a network address.
func (d *TrackedDevice) SetHandle(h device.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handle = h
}

// RestoreHandle puts back the handle the device was discovered with.
func (d *TrackedDevice) RestoreHandle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handle = d.original
}

// IsStub reports whether the device was registered from a placeholder handle.
func (d *TrackedDevice) IsStub() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.original.IsStub()
}

func (d *TrackedDevice) RecoveryEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.recoveryEnabled
}

// SetRecoveryEnabled toggles automatic recovery for the device.
func (d *TrackedDevice) SetRecoveryEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recoveryEnabled = enabled
}

func (d *TrackedDevice) setAllocationState(state device.AllocationState, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.allocation = state
	d.lastChanged = now

	// reaching Unknown through a transition is final; a fresh device also
	// starts in Unknown but is still live
	if state == device.Unknown {
		d.terminal = true
	}
}

func (d *TrackedDevice) isTerminal() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.terminal
}

func (d *TrackedDevice) setConnectionState(state device.ConnectionState) device.ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.connection
	d.connection = state

	return prev
}

// Descriptor is a point-in-time, read-only view of a tracked device.
type Descriptor struct {
	Serial          string                 `json:"serial"`
	Variant         device.Variant         `json:"variant"`
	Allocation      device.AllocationState `json:"allocation_state"`
	Connection      device.ConnectionState `json:"connection_state"`
	Stub            bool                   `json:"stub"`
	Capabilities    []device.Capability    `json:"capabilities"`
	LastStateChange time.Time              `json:"last_state_change"`
}

// Descriptor snapshots the device.
func (d *TrackedDevice) Descriptor() Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Descriptor{
		Serial:          d.serial,
		Variant:         d.variant,
		Allocation:      d.allocation,
		Connection:      d.connection,
		Stub:            d.original.IsStub(),
		Capabilities:    d.variant.Capabilities(),
		LastStateChange: d.lastChanged,
	}
}
