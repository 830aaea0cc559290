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
	"slices"

	"github.com/carverauto/devicefleet/pkg/device"
)

// DeviceSelector describes which devices an allocation request accepts. A
// selector naming serials is explicit; all other fields are then ignored.
// Placeholder devices only match when asked for by serial or by variant.
type DeviceSelector struct {
	Serials      []string
	Variants     []device.Variant
	Capabilities []device.Capability
	Match        func(*TrackedDevice) bool
}

// MatchAny accepts every live, non-placeholder device.
func MatchAny() DeviceSelector {
	return DeviceSelector{}
}

// MatchSerials accepts only the named devices.
func MatchSerials(serials ...string) DeviceSelector {
	return DeviceSelector{Serials: serials}
}

// IsExplicit reports whether the caller asked for specific devices.
func (s DeviceSelector) IsExplicit() bool {
	return len(s.Serials) > 0
}

func (s DeviceSelector) event() device.Event {
	if s.IsExplicit() {
		return device.ExplicitAllocateRequest
	}

	return device.AllocateRequest
}

// Matches reports whether d satisfies the selector.
func (s DeviceSelector) Matches(d *TrackedDevice) bool {
	if d == nil {
		return false
	}

	if s.IsExplicit() {
		return slices.Contains(s.Serials, d.Serial()) || slices.Contains(s.Serials, d.Handle().Serial)
	}

	variantNamed := slices.Contains(s.Variants, d.Variant())
	if len(s.Variants) > 0 && !variantNamed {
		return false
	}

	if d.IsStub() && !variantNamed {
		return false
	}

	for _, c := range s.Capabilities {
		if !d.Supports(c) {
			return false
		}
	}

	return s.Match == nil || s.Match(d)
}
