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

//go:generate mockgen -destination=mock_registry.go -package=registry github.com/carverauto/devicefleet/pkg/registry Classifier,EventSink

import (
	"context"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/models"
)

// Classifier decides the variant and initial connection state of a newly seen
// device. It may block on probes and is never called with the registry lock held.
type Classifier interface {
	Classify(ctx context.Context, handle device.Handle) device.Classification
}

// EventSink receives every allocation state change after the registry lock
// has been released.
type EventSink interface {
	PublishDeviceTransition(ctx context.Context, data *models.DeviceTransitionEventData) error
}

// Manager is the fleet view used by discovery loops and schedulers.
type Manager interface {
	FindOrCreate(ctx context.Context, handle device.Handle) *TrackedDevice
	Allocate(ctx context.Context, selector DeviceSelector) *TrackedDevice
	ForceAllocate(ctx context.Context, serial string) *TrackedDevice
	Claim(ctx context.Context, handle device.Handle) *TrackedDevice
	Free(ctx context.Context, d *TrackedDevice, state device.FreeDeviceState) device.AllocationAttemptResult
	HandleEvent(ctx context.Context, d *TrackedDevice, event device.Event) device.AllocationAttemptResult
	UpdateFastbootStates(ctx context.Context, serials []string, isFastbootd bool)
	SetConnectionState(ctx context.Context, d *TrackedDevice, state device.ConnectionState) device.ConnectionState
	Find(serial string) *TrackedDevice
	Iterate() []*TrackedDevice
	Descriptors() []Descriptor
	Size() int
}
