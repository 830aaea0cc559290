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

// Variant is the behavioral category fixed at classification time.
type Variant string

const (
	FullStack          Variant = "FULL_STACK"
	NoFrameworkSupport Variant = "NO_FRAMEWORK_SUPPORT"
	RemoteTCP          Variant = "REMOTE_TCP"
	RemoteVirtual      Variant = "REMOTE_VIRTUAL"
	LocalVirtual       Variant = "LOCAL_VIRTUAL"
	NestedRemote       Variant = "NESTED_REMOTE"
)

// Capability is an operation family a variant may support.
type Capability string

const (
	InstallSoftware    Capability = "install_software"
	CaptureDiagnostics Capability = "capture_diagnostics"
	ManageUsers        Capability = "manage_users"
	Reboot             Capability = "reboot"
)

var allCapabilities = []Capability{InstallSoftware, CaptureDiagnostics, ManageUsers, Reboot}

var capabilityTable = map[Variant]map[Capability]struct{}{
	FullStack:          capabilitySet(allCapabilities...),
	NoFrameworkSupport: capabilitySet(CaptureDiagnostics, Reboot),
	RemoteTCP:          capabilitySet(allCapabilities...),
	RemoteVirtual:      capabilitySet(allCapabilities...),
	LocalVirtual:       capabilitySet(allCapabilities...),
	NestedRemote:       capabilitySet(allCapabilities...),
}

func capabilitySet(caps ...Capability) map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}

	return set
}

// Supports reports whether the variant exposes capability.
func (v Variant) Supports(capability Capability) bool {
	_, ok := capabilityTable[v][capability]
	return ok
}

// Capabilities lists the variant's capabilities in a stable order.
func (v Variant) Capabilities() []Capability {
	out := make([]Capability, 0, len(allCapabilities))
	for _, c := range allCapabilities {
		if v.Supports(c) {
			out = append(out, c)
		}
	}

	return out
}

// IsVirtual reports whether the variant is backed by a virtual machine.
func (v Variant) IsVirtual() bool {
	return v == RemoteVirtual || v == LocalVirtual || v == NestedRemote
}
