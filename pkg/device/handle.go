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

import "strings"

// StubKind tags a handle that stands in for a device which is not (yet) reachable.
type StubKind string

const (
	NotStub           StubKind = ""
	RemoteVirtualStub StubKind = "remote-virtual"
	LocalVirtualStub  StubKind = "local-virtual"
	TCPStub           StubKind = "tcp"
)

// FastbootMode marks a handle discovered through the bootloader device listing.
type FastbootMode string

const (
	NoFastboot        FastbootMode = ""
	BootloaderMode    FastbootMode = "fastboot"
	UserspaceFastboot FastbootMode = "fastbootd"
)

// AdbState is the state column reported by the device bridge listing.
type AdbState string

const (
	AdbOnline       AdbState = "device"
	AdbOffline      AdbState = "offline"
	AdbUnauthorized AdbState = "unauthorized"
	AdbRecovery     AdbState = "recovery"
	AdbSideload     AdbState = "sideload"
	AdbBootloader   AdbState = "bootloader"
	AdbUnknown      AdbState = ""
)

// UnknownSerialMarker appears in serials the bridge could not read.
const UnknownSerialMarker = "?"

// Handle is the raw view of a device as seen by discovery, before classification.
type Handle struct {
	Serial   string
	State    AdbState
	Stub     StubKind
	Fastboot FastbootMode
}

// IsStub reports whether the handle is a placeholder rather than a live device.
func (h Handle) IsStub() bool {
	return h.Stub != NotStub
}

// IsOnline reports whether the bridge sees the device as fully connected.
func (h Handle) IsOnline() bool {
	return h.State == AdbOnline && h.Fastboot == NoFastboot
}

// ValidSerial reports whether serial can identify a tracked device.
func ValidSerial(serial string) bool {
	serial = strings.TrimSpace(serial)
	return serial != "" && !strings.Contains(serial, UnknownSerialMarker)
}

// Classification is the outcome of classifying a handle.
type Classification struct {
	Variant           Variant
	InitialConnection ConnectionState
}
