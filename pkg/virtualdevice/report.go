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

package virtualdevice

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const reportSuccess = "SUCCESS"

// Report is the subset of the driver's report file fleetd relies on.
type Report struct {
	Status       string
	InstanceName string
	Host         string
	Port         int
	Errors       []string
}

// ReadReport loads and parses the report at path.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReportUnreadable, err)
	}

	return ParseReport(data)
}

// ParseReport extracts the first device of a driver report.
func ParseReport(data []byte) (*Report, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrReportUnreadable)
	}

	doc := gjson.ParseBytes(data)

	r := &Report{
		Status:       doc.Get("status").String(),
		InstanceName: doc.Get("data.devices.0.instance_name").String(),
	}

	for _, e := range doc.Get("errors").Array() {
		r.Errors = append(r.Errors, e.String())
	}

	if addr := doc.Get("data.devices.0.ip").String(); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err == nil {
			r.Host = host
			r.Port, _ = strconv.Atoi(port)
		} else {
			r.Host = addr
		}
	}

	return r, nil
}

// Validate rejects reports that cannot describe a usable instance.
func (r *Report) Validate() error {
	if r.Status != reportSuccess {
		return fmt.Errorf("%w: status %q: %s", ErrDriverStatus, r.Status, strings.Join(r.Errors, "; "))
	}

	if r.InstanceName == "" {
		return ErrMissingInstanceName
	}

	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, r.Port)
	}

	return nil
}

// Address returns host:port.
func (r *Report) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
