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

package discovery

import (
	"context"
	"fmt"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/registry"
)

// AddPlaceholders registers the configured stub devices and makes them
// available for allocation.
func AddPlaceholders(ctx context.Context, reg registry.Manager, cfg models.PlaceholderConfig) []*registry.TrackedDevice {
	kinds := []struct {
		count  int
		prefix string
		stub   device.StubKind
	}{
		{cfg.TCPDevices, "tcp-device", device.TCPStub},
		{cfg.RemoteVirtualDevices, "remote-virtual-device", device.RemoteVirtualStub},
		{cfg.LocalVirtualDevices, "local-virtual-device", device.LocalVirtualStub},
	}

	var added []*registry.TrackedDevice

	for _, k := range kinds {
		for i := range k.count {
			handle := device.Handle{Serial: fmt.Sprintf("%s-%d", k.prefix, i), Stub: k.stub}

			d := reg.FindOrCreate(ctx, handle)
			if d == nil {
				continue
			}

			reg.HandleEvent(ctx, d, device.ForceAvailable)
			added = append(added, d)
		}
	}

	return added
}
