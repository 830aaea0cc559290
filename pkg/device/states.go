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

// Package device defines the device vocabulary shared by the fleet: allocation
// and connection states, allocation events, behavioral variants and raw handles.
package device

// AllocationState is the ownership state of a tracked device.
type AllocationState string

const (
	// Unknown is terminal; a device that reaches it is evicted from the registry.
	Unknown              AllocationState = "Unknown"
	Available            AllocationState = "Available"
	Allocated            AllocationState = "Allocated"
	CheckingAvailability AllocationState = "Checking_Availability"
	Unavailable          AllocationState = "Unavailable"
)

// ConnectionState reflects reachability and is independent of ownership.
type ConnectionState string

const (
	Online       ConnectionState = "ONLINE"
	Offline      ConnectionState = "OFFLINE"
	Fastboot     ConnectionState = "FASTBOOT"
	Fastbootd    ConnectionState = "FASTBOOTD"
	TCPOffline   ConnectionState = "TCP_OFFLINE"
	NotAvailable ConnectionState = "NOT_AVAILABLE"
)

// IsFastbootFamily reports whether the state is one of the bootloader-adjacent modes.
func (s ConnectionState) IsFastbootFamily() bool {
	return s == Fastboot || s == Fastbootd
}

// FreeDeviceState is the caller's verdict on a device it is returning.
type FreeDeviceState string

const (
	FreeAsAvailable    FreeDeviceState = "AVAILABLE"
	FreeAsUnavailable  FreeDeviceState = "UNAVAILABLE"
	FreeAsUnresponsive FreeDeviceState = "UNRESPONSIVE"
	FreeAsIgnore       FreeDeviceState = "IGNORE"
)
