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

// AllocationAttemptResult is returned by every transition. Callers decide success
// from StateChanged and State, never from the event they sent.
type AllocationAttemptResult struct {
	StateChanged bool
	State        AllocationState
}

// Allocated reports whether the attempt moved the device into Allocated.
func (r AllocationAttemptResult) Allocated() bool {
	return r.StateChanged && r.State == Allocated
}

var transitions = map[AllocationState]map[Event]AllocationState{
	Unknown: {
		Connected:            CheckingAvailability,
		ConnectedOffline:     Unavailable,
		StateChangeOnline:    CheckingAvailability,
		StateChangeOffline:   Unavailable,
		ForceAllocateRequest: Allocated,
		ForceAvailable:       Available,
	},
	Available: {
		AllocateRequest:         Allocated,
		ExplicitAllocateRequest: Allocated,
		ForceAllocateRequest:    Allocated,
		StateChangeOffline:      Unavailable,
		AvailableCheckStart:     CheckingAvailability,
		Disconnected:            Unknown,
	},
	Allocated: {
		FreeAvailable:   Available,
		FreeUnavailable: Unavailable,
		FreeUnknown:     Unknown,
		Disconnected:    Unknown,
	},
	CheckingAvailability: {
		AvailableCheckPassed:  Available,
		AvailableCheckFailed:  Unavailable,
		AvailableCheckIgnored: Unknown,
		ForceAllocateRequest:  Allocated,
		ForceAvailable:        Available,
		StateChangeOffline:    Unavailable,
		Disconnected:          Unknown,
	},
	Unavailable: {
		ForceAvailable:       Available,
		ForceAllocateRequest: Allocated,
		StateChangeOnline:    CheckingAvailability,
		AvailableCheckStart:  CheckingAvailability,
		Disconnected:         Unknown,
	},
}

// Transition applies event to current. It has no side effects and no knowledge of
// concurrency; an event with no entry for current leaves the state untouched.
func Transition(current AllocationState, event Event) AllocationAttemptResult {
	next, ok := transitions[current][event]
	if !ok || next == current {
		return AllocationAttemptResult{StateChanged: false, State: current}
	}

	return AllocationAttemptResult{StateChanged: true, State: next}
}
