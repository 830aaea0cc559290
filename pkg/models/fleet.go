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

package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carverauto/devicefleet/pkg/logger"
)

var (
	errNegativePlaceholders = errors.New("placeholder device counts must not be negative")
	errInvalidProbeAttempts = errors.New("probe attempts must be at least 1")
	errInvalidMaxAttempts   = errors.New("virtual_device.max_attempts must be at least 1")
	errInvalidTCPAttempts   = errors.New("tcp.connect_attempts must be at least 1")
	errEventsURLRequired    = errors.New("events.nats_url is required when events are enabled")
)

const (
	defaultADBPath           = "adb"
	defaultFastbootPath      = "fastboot"
	defaultPollInterval      = 5 * time.Second
	defaultCommandTimeout    = time.Minute
	defaultProbeAttempts     = 3
	defaultProbeBackoff      = 500 * time.Millisecond
	defaultProbeTimeout      = 30 * time.Second
	defaultRemoteUser        = "vsoc-01"
	defaultDriverMaxAttempts = 3
	defaultDriverTimeout     = 15 * time.Minute
	defaultConnectTimeout    = 5 * time.Minute
	defaultTCPAttempts       = 3
	defaultTCPRetryInterval  = 5 * time.Second
	defaultTCPOnlineTimeout  = time.Minute
	defaultEventsStream      = "fleet"
	defaultEventsSubjectRoot = "fleet.device"
	hostToolsEnv             = "ANDROID_HOST_OUT"
	tmpRootEnv               = "TMPDIR"
)

// FleetConfig is the document read by fleetd.
type FleetConfig struct {
	Logging        *logger.Config      `json:"logging,omitempty"`
	ADBPath        string              `json:"adb_path"`
	FastbootPath   string              `json:"fastboot_path"`
	PollInterval   Duration            `json:"poll_interval"`
	CommandTimeout Duration            `json:"command_timeout"`
	Probe          ProbeConfig         `json:"probe"`
	Placeholders   PlaceholderConfig   `json:"placeholders"`
	Remote         RemoteEnvConfig     `json:"remote"`
	VirtualDevice  VirtualDeviceConfig `json:"virtual_device"`
	TCP            TCPConfig           `json:"tcp"`
	Events         EventsConfig        `json:"events"`
}

// ProbeConfig bounds the framework-support probe run during classification.
type ProbeConfig struct {
	Attempts int      `json:"attempts"`
	Backoff  Duration `json:"backoff"`
	Timeout  Duration `json:"timeout"`
}

// PlaceholderConfig sets how many stub devices are registered at startup.
type PlaceholderConfig struct {
	TCPDevices           int `json:"tcp_devices"`
	RemoteVirtualDevices int `json:"remote_virtual_devices"`
	LocalVirtualDevices  int `json:"local_virtual_devices"`
}

// RemoteEnvConfig controls detection of a nested remote execution environment.
type RemoteEnvConfig struct {
	ForceNested bool   `json:"force_nested"`
	RemoteUser  string `json:"remote_user"`
}

// VirtualDeviceConfig configures the local virtual device driver.
type VirtualDeviceConfig struct {
	DriverPath     string   `json:"driver_path"`
	HostToolsDir   string   `json:"host_tools_dir"`
	TmpRoot        string   `json:"tmp_root"`
	ArtifactDir    string   `json:"artifact_dir"`
	MaxAttempts    int      `json:"max_attempts"`
	AttemptTimeout Duration `json:"attempt_timeout"`
	ConnectTimeout Duration `json:"connect_timeout"`
	ExtraArgs      []string `json:"extra_args"`
}

// TCPConfig bounds bringing a device into the fleet over an adb TCP connection.
type TCPConfig struct {
	ConnectAttempts int      `json:"connect_attempts"`
	RetryInterval   Duration `json:"retry_interval"`
	OnlineTimeout   Duration `json:"online_timeout"`
}

// EventsConfig configures publishing of allocation transitions to NATS JetStream.
type EventsConfig struct {
	Enabled     bool           `json:"enabled"`
	NATSURL     string         `json:"nats_url"`
	StreamName  string         `json:"stream_name"`
	SubjectRoot string         `json:"subject_root"`
	TLS         *NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig holds the mTLS material for the event broker connection.
type NATSTLSConfig struct {
	CAFile     string `json:"ca_file"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	ServerName string `json:"server_name"`
}

// Validate fills defaults and rejects inconsistent settings.
func (c *FleetConfig) Validate() error {
	if strings.TrimSpace(c.ADBPath) == "" {
		c.ADBPath = defaultADBPath
	}

	if strings.TrimSpace(c.FastbootPath) == "" {
		c.FastbootPath = defaultFastbootPath
	}

	c.PollInterval = c.PollInterval.orDefault(defaultPollInterval)
	c.CommandTimeout = c.CommandTimeout.orDefault(defaultCommandTimeout)

	if err := c.Probe.validate(); err != nil {
		return err
	}

	if c.Placeholders.TCPDevices < 0 || c.Placeholders.RemoteVirtualDevices < 0 ||
		c.Placeholders.LocalVirtualDevices < 0 {
		return errNegativePlaceholders
	}

	if c.Remote.RemoteUser == "" {
		c.Remote.RemoteUser = defaultRemoteUser
	}

	if err := c.VirtualDevice.validate(); err != nil {
		return err
	}

	if c.TCP.ConnectAttempts < 0 {
		return fmt.Errorf("%w: got %d", errInvalidTCPAttempts, c.TCP.ConnectAttempts)
	}

	c.TCP = c.TCP.WithDefaults()

	return c.Events.validate()
}

func (p *ProbeConfig) validate() error {
	if p.Attempts == 0 {
		p.Attempts = defaultProbeAttempts
	}

	if p.Attempts < 1 {
		return fmt.Errorf("%w: got %d", errInvalidProbeAttempts, p.Attempts)
	}

	p.Backoff = p.Backoff.orDefault(defaultProbeBackoff)
	p.Timeout = p.Timeout.orDefault(defaultProbeTimeout)

	return nil
}

// WithDefaults returns p with unset or out-of-range fields replaced by defaults.
func (p ProbeConfig) WithDefaults() ProbeConfig {
	if p.Attempts < 1 {
		p.Attempts = defaultProbeAttempts
	}

	p.Backoff = p.Backoff.orDefault(defaultProbeBackoff)
	p.Timeout = p.Timeout.orDefault(defaultProbeTimeout)

	return p
}

// WithDefaults returns v with unset or out-of-range retry bounds replaced by defaults.
func (v VirtualDeviceConfig) WithDefaults() VirtualDeviceConfig {
	if v.MaxAttempts < 1 {
		v.MaxAttempts = defaultDriverMaxAttempts
	}

	v.AttemptTimeout = v.AttemptTimeout.orDefault(defaultDriverTimeout)
	v.ConnectTimeout = v.ConnectTimeout.orDefault(defaultConnectTimeout)

	return v
}

// WithDefaults returns t with unset or out-of-range fields replaced by defaults.
func (t TCPConfig) WithDefaults() TCPConfig {
	if t.ConnectAttempts < 1 {
		t.ConnectAttempts = defaultTCPAttempts
	}

	t.RetryInterval = t.RetryInterval.orDefault(defaultTCPRetryInterval)
	t.OnlineTimeout = t.OnlineTimeout.orDefault(defaultTCPOnlineTimeout)

	return t
}

func (v *VirtualDeviceConfig) validate() error {
	if v.HostToolsDir == "" {
		v.HostToolsDir = os.Getenv(hostToolsEnv)
	}

	if v.TmpRoot == "" {
		v.TmpRoot = os.Getenv(tmpRootEnv)
	}

	if v.TmpRoot == "" {
		v.TmpRoot = os.TempDir()
	}

	if v.MaxAttempts == 0 {
		v.MaxAttempts = defaultDriverMaxAttempts
	}

	if v.MaxAttempts < 1 {
		return fmt.Errorf("%w: got %d", errInvalidMaxAttempts, v.MaxAttempts)
	}

	v.AttemptTimeout = v.AttemptTimeout.orDefault(defaultDriverTimeout)
	v.ConnectTimeout = v.ConnectTimeout.orDefault(defaultConnectTimeout)

	return nil
}

func (e *EventsConfig) validate() error {
	if !e.Enabled {
		return nil
	}

	if e.NATSURL == "" {
		return errEventsURLRequired
	}

	if e.StreamName == "" {
		e.StreamName = defaultEventsStream
	}

	if e.SubjectRoot == "" {
		e.SubjectRoot = defaultEventsSubjectRoot
	}

	return nil
}
