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
	"errors"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/carverauto/devicefleet/pkg/device"
)

// Status is how far provisioning of a session got.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCreated   Status = "CREATED"
	StatusConnected Status = "CONNECTED"
	StatusFailed    Status = "FAILED"
	StatusTornDown  Status = "TORN_DOWN"
)

// Target is the tracked device a virtual instance is provisioned for.
type Target interface {
	Serial() string
	Handle() device.Handle
	SetHandle(h device.Handle)
	RestoreHandle()
	RecoveryEnabled() bool
	SetRecoveryEnabled(enabled bool)
}

// Session is the runtime state of one provisioned instance. Every field may be
// empty when provisioning stopped early.
type Session struct {
	ID           uuid.UUID
	InstanceName string
	Host         string
	Port         int
	Status       Status
	// Dir is the driver's TMPDIR for this session.
	Dir          string

	target   Target
	driver   string
	mu       sync.Mutex
	tempDirs []string
	once     sync.Once
}

func newSession(target Target) *Session {
	return &Session{
		ID:     uuid.New(),
		Status: StatusPending,
		target: target,
	}
}

// Address returns host:port once the driver reported one.
func (s *Session) Address() string {
	if s == nil || s.Host == "" || s.Port <= 0 {
		return ""
	}

	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TempDirs lists the directories that teardown removes.
func (s *Session) TempDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.tempDirs))
	copy(out, s.tempDirs)

	return out
}

func (s *Session) mkdirTemp(root, pattern string) (string, error) {
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tempDirs = append(s.tempDirs, dir)
	s.mu.Unlock()

	return dir, nil
}

// removeTempDirs deletes every temp dir exactly once.
func (s *Session) removeTempDirs() error {
	var errs []error

	s.once.Do(func() {
		for _, dir := range s.TempDirs() {
			if err := os.RemoveAll(dir); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}
