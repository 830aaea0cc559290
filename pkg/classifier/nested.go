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

package classifier

import (
	"context"
	"os"
	"os/user"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

const guestRole = "guest"

// newNestedDetector reports whether fleetd itself runs inside a remote virtual
// device host, where network serials belong to nested instances.
func newNestedDetector(remote models.RemoteEnvConfig, log logger.Logger) func(context.Context) bool {
	return func(ctx context.Context) bool {
		if remote.ForceNested {
			return true
		}

		if u, err := user.Current(); err == nil && u.Username == remote.RemoteUser {
			log.Info().Str("user", u.Username).Msg("Running as remote virtual device user")
			return true
		}

		system, role, err := host.VirtualizationWithContext(ctx)
		if err != nil || role != guestRole {
			return false
		}

		home := filepath.Join("/home", remote.RemoteUser)
		if _, err := os.Stat(home); err != nil {
			return false
		}

		log.Info().Str("virtualization", system).Str("home", home).Msg("Detected nested remote environment")

		return true
	}
}
