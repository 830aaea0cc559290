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
	"bufio"
	"strings"

	"github.com/carverauto/devicefleet/pkg/device"
)

const listHeader = "List of devices attached"

// ParseAdbDevices turns adb devices output into handles, in listing order.
// Daemon chatter and malformed lines are skipped.
func ParseAdbDevices(output string) []device.Handle {
	var handles []device.Handle

	scanner := bufio.NewScanner(strings.NewReader(output))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, listHeader) || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		handles = append(handles, device.Handle{
			Serial: fields[0],
			State:  device.AdbState(fields[1]),
		})
	}

	return handles
}

func connectionForAdb(state device.AdbState) device.ConnectionState {
	if state == device.AdbOnline {
		return device.Online
	}

	return device.Offline
}
