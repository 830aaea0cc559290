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

// Package registry tracks the device fleet and serializes every allocation
// state change behind a single lock.
package registry

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

// DeviceRegistry owns the ordered list of tracked devices. List order drives
// allocation: a successfully allocated device moves to the tail.
type DeviceRegistry struct {
	mu         sync.Mutex
	devices    []*TrackedDevice
	classifier Classifier
	sink       EventSink
	logger     logger.Logger
	now        func() time.Time
}

var _ Manager = (*DeviceRegistry)(nil)

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry(classifier Classifier, log logger.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		classifier: classifier,
		logger:     log,
		now:        time.Now,
	}
}

// SetEventSink registers a sink for transition notifications. Must be called
// before the registry is shared.
func (r *DeviceRegistry) SetEventSink(sink EventSink) {
	r.sink = sink
}

// FindOrCreate returns the live device for handle.Serial, classifying and
// registering a new one when none exists. Invalid serials yield nil.
func (r *DeviceRegistry) FindOrCreate(ctx context.Context, handle device.Handle) *TrackedDevice {
	if !device.ValidSerial(handle.Serial) {
		r.logger.Debug().Str("serial", handle.Serial).Msg("Ignoring device with invalid serial")
		return nil
	}

	r.mu.Lock()
	existing := r.findLiveLocked(handle.Serial)
	r.mu.Unlock()

	if existing != nil {
		return existing
	}

	classification := r.classifier.Classify(ctx, handle)
	created := newTrackedDevice(handle, classification, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()

	// another caller may have registered the serial while we were probing
	if existing = r.findLiveLocked(handle.Serial); existing != nil {
		return existing
	}

	r.removeSerialLocked(handle.Serial)
	r.devices = append(r.devices, created)

	r.logger.Info().
		Str("serial", created.Serial()).
		Str("variant", string(created.Variant())).
		Str("connection_state", string(created.ConnectionState())).
		Msg("Tracking new device")

	return created
}

// Allocate hands out the first device that matches selector and accepts the
// allocation request, or nil.
func (r *DeviceRegistry) Allocate(ctx context.Context, selector DeviceSelector) *TrackedDevice {
	event := selector.event()

	var (
		allocated *TrackedDevice
		notice    *models.DeviceTransitionEventData
	)

	r.mu.Lock()

	for i, d := range r.devices {
		if d.isTerminal() || !selector.Matches(d) {
			continue
		}

		res, n := r.applyLocked(d, event)
		if !res.Allocated() {
			continue
		}

		r.moveToTailLocked(i)
		allocated, notice = d, n

		break
	}

	r.mu.Unlock()

	r.publish(ctx, notice)

	if allocated != nil {
		r.logger.Debug().Str("serial", allocated.Serial()).Str("event", string(event)).Msg("Allocated device")
	}

	return allocated
}

// ForceAllocate allocates a tracked device regardless of its availability.
// Serials the fleet has not seen yield nil.
func (r *DeviceRegistry) ForceAllocate(ctx context.Context, serial string) *TrackedDevice {
	d := r.Find(serial)
	if d == nil {
		r.logger.Debug().Str("serial", serial).Msg("Force allocation of unknown device")
		return nil
	}

	return r.forceAllocate(ctx, d)
}

// Claim registers handle if needed and force-allocates it. Used when the
// caller is about to bring the device up itself, e.g. over TCP.
func (r *DeviceRegistry) Claim(ctx context.Context, handle device.Handle) *TrackedDevice {
	d := r.Find(handle.Serial)
	if d == nil {
		d = r.FindOrCreate(ctx, handle)
	}

	if d == nil {
		return nil
	}

	return r.forceAllocate(ctx, d)
}

func (r *DeviceRegistry) forceAllocate(ctx context.Context, d *TrackedDevice) *TrackedDevice {
	serial := d.Serial()

	if res := r.HandleEvent(ctx, d, device.ForceAllocateRequest); !res.Allocated() {
		r.logger.Warn().
			Str("serial", serial).
			Str("allocation_state", string(res.State)).
			Msg("Force allocation rejected")

		return nil
	}

	return d
}

// Free returns an allocated device to the pool. Placeholder devices always go
// back to Available.
func (r *DeviceRegistry) Free(
	ctx context.Context, d *TrackedDevice, state device.FreeDeviceState) device.AllocationAttemptResult {
	event := device.FreeEvent(state)
	if d.IsStub() {
		event = device.FreeAvailable
	}

	res := r.HandleEvent(ctx, d, event)
	d.SetRecoveryEnabled(true)

	return res
}

// HandleEvent drives d through the allocation state machine. A device that
// ends up Unknown is evicted.
func (r *DeviceRegistry) HandleEvent(
	ctx context.Context, d *TrackedDevice, event device.Event) device.AllocationAttemptResult {
	if d == nil {
		return device.AllocationAttemptResult{State: device.Unknown}
	}

	r.mu.Lock()

	idx := r.indexLocked(d)
	if idx < 0 {
		r.mu.Unlock()

		return device.AllocationAttemptResult{State: d.AllocationState()}
	}

	res, notice := r.applyLocked(d, event)

	// a device that never left its initial Unknown state is dropped on disconnect too
	evict := res.State == device.Unknown && (res.StateChanged || event == device.Disconnected)
	if evict {
		r.removeAtLocked(idx)

		if notice != nil {
			notice.Evicted = true
		}
	}

	r.mu.Unlock()

	if evict {
		r.logger.Info().Str("serial", d.Serial()).Str("event", string(event)).Msg("Evicted device")
	}

	r.publish(ctx, notice)

	return res
}

// UpdateFastbootStates marks the listed serials as Fastboot (or Fastbootd) and
// disconnects every device that was in that mode but is no longer listed.
func (r *DeviceRegistry) UpdateFastbootStates(ctx context.Context, serials []string, isFastbootd bool) {
	mode := device.Fastboot
	if isFastbootd {
		mode = device.Fastbootd
	}

	listed := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		listed[s] = struct{}{}
	}

	var gone []*TrackedDevice

	r.mu.Lock()

	for _, d := range r.devices {
		if _, ok := listed[d.Serial()]; ok {
			d.setConnectionState(mode)
			continue
		}

		if d.ConnectionState() == mode {
			d.setConnectionState(device.NotAvailable)
			gone = append(gone, d)
		}
	}

	r.mu.Unlock()

	for _, d := range gone {
		r.logger.Debug().Str("serial", d.Serial()).Str("mode", string(mode)).Msg("Device left fastboot")
		r.HandleEvent(ctx, d, device.Disconnected)
	}
}

// SetConnectionState records reachability reported by discovery and returns
// the previous value.
func (r *DeviceRegistry) SetConnectionState(
	_ context.Context, d *TrackedDevice, state device.ConnectionState) device.ConnectionState {
	if d == nil {
		return state
	}

	return d.setConnectionState(state)
}

// Find returns the live device whose serial, or current handle serial, equals serial.
func (r *DeviceRegistry) Find(serial string) *TrackedDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.findLiveLocked(serial); d != nil {
		return d
	}

	for _, d := range r.devices {
		if !d.isTerminal() && d.Handle().Serial == serial {
			return d
		}
	}

	return nil
}

// Iterate returns a snapshot of the tracked devices in allocation order.
func (r *DeviceRegistry) Iterate() []*TrackedDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*TrackedDevice, len(r.devices))
	copy(out, r.devices)

	return out
}

// Size returns the number of tracked devices.
func (r *DeviceRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.devices)
}

// Descriptors returns a display view of the fleet, allocated devices first and
// then by serial.
func (r *DeviceRegistry) Descriptors() []Descriptor {
	snapshot := r.Iterate()

	out := make([]Descriptor, 0, len(snapshot))
	for _, d := range snapshot {
		out = append(out, d.Descriptor())
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Allocation == device.Allocated, out[j].Allocation == device.Allocated
		if ai != aj {
			return ai
		}

		return out[i].Serial < out[j].Serial
	})

	return out
}

func (r *DeviceRegistry) applyLocked(
	d *TrackedDevice, event device.Event) (device.AllocationAttemptResult, *models.DeviceTransitionEventData) {
	prev := d.AllocationState()

	res := device.Transition(prev, event)
	if !res.StateChanged {
		return res, nil
	}

	now := r.now()
	d.setAllocationState(res.State, now)

	return res, &models.DeviceTransitionEventData{
		Serial:          d.Serial(),
		Variant:         string(d.Variant()),
		Event:           string(event),
		PreviousState:   string(prev),
		CurrentState:    string(res.State),
		ConnectionState: string(d.ConnectionState()),
		Timestamp:       now,
	}
}

func (r *DeviceRegistry) publish(ctx context.Context, notice *models.DeviceTransitionEventData) {
	if notice == nil || r.sink == nil {
		return
	}

	if err := r.sink.PublishDeviceTransition(ctx, notice); err != nil {
		r.logger.Warn().Err(err).Str("serial", notice.Serial).Msg("Failed to publish device transition")
	}
}

func (r *DeviceRegistry) findLiveLocked(serial string) *TrackedDevice {
	for _, d := range r.devices {
		if d.Serial() == serial && !d.isTerminal() {
			return d
		}
	}

	return nil
}

func (r *DeviceRegistry) indexLocked(target *TrackedDevice) int {
	for i, d := range r.devices {
		if d == target {
			return i
		}
	}

	return -1
}

func (r *DeviceRegistry) removeSerialLocked(serial string) {
	kept := r.devices[:0]

	for _, d := range r.devices {
		if d.Serial() != serial {
			kept = append(kept, d)
		}
	}

	clear(r.devices[len(kept):])
	r.devices = kept
}

func (r *DeviceRegistry) removeAtLocked(i int) {
	r.devices = slices.Delete(r.devices, i, i+1)
}

func (r *DeviceRegistry) moveToTailLocked(i int) {
	d := r.devices[i]
	r.devices = append(r.devices[:i], r.devices[i+1:]...)
	r.devices = append(r.devices, d)
}
