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

package device

// Event is an input symbol for the allocation state machine.
type Event string

const (
	AllocateRequest         Event = "ALLOCATE_REQUEST"
	ExplicitAllocateRequest Event = "EXPLICIT_ALLOCATE_REQUEST"
	ForceAllocateRequest    Event = "FORCE_ALLOCATE_REQUEST"
	FreeAvailable           Event = "FREE_AVAILABLE"
	FreeUnavailable         Event = "FREE_UNAVAILABLE"
	FreeUnknown             Event = "FREE_UNKNOWN"
	ForceAvailable          Event = "FORCE_AVAILABLE"
	Connected               Event = "CONNECTED_ONLINE"
	ConnectedOffline        Event = "CONNECTED_OFFLINE"
	Disconnected            Event = "DISCONNECTED"
	StateChangeOnline       Event = "STATE_CHANGE_ONLINE"
	StateChangeOffline      Event = "STATE_CHANGE_OFFLINE"
	AvailableCheckStart     Event = "AVAILABLE_CHECK_START"
	AvailableCheckPassed    Event = "AVAILABLE_CHECK_PASSED"
	AvailableCheckFailed    Event = "AVAILABLE_CHECK_FAILED"
	AvailableCheckIgnored   Event = "AVAILABLE_CHECK_IGNORED"
)

// FreeEvent maps a caller's free verdict to the event that releases the device.
func FreeEvent(state FreeDeviceState) Event {
	switch state {
	case FreeAsAvailable:
		return FreeAvailable
	case FreeAsUnavailable, FreeAsUnresponsive:
		return FreeUnavailable
	case FreeAsIgnore:
		return FreeUnknown
	default:
		return FreeUnavailable
	}
}
