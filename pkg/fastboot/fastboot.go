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

// Package fastboot lists devices sitting in the bootloader or in userspace fastboot.
package fastboot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/devicefleet/pkg/archive"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/runner"
)

const (
	defaultTimeout    = time.Minute
	defaultProbeLimit = 8
	binaryName        = "fastboot"
)

var (
	ErrListFailed       = errors.New("fastboot device listing failed")
	ErrBinaryNotInZip   = errors.New("fastboot binary not found in archive")
	bootloaderLine      = regexp.MustCompile(`^([\w\d-]+)\s+fastboot\s*$`)
	userspaceLine       = regexp.MustCompile(`^([\w\d-]+)\s+fastbootd\s*$`)
	userspaceProbeReply = "yes"
)

// DeviceSet is one listing split by fastboot flavor. Both slices are sorted.
type DeviceSet struct {
	Bootloader []string
	Userspace  []string
}

// Discovery wraps the fastboot CLI.
type Discovery struct {
	runner     runner.CommandRunner
	logger     logger.Logger
	path       string
	timeout    time.Duration
	probeLimit int
}

// NewDiscovery returns a Discovery invoking the binary at path.
func NewDiscovery(r runner.CommandRunner, log logger.Logger, path string, timeout time.Duration) *Discovery {
	if path == "" {
		path = binaryName
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Discovery{
		runner:     r,
		logger:     log,
		path:       path,
		timeout:    timeout,
		probeLimit: defaultProbeLimit,
	}
}

// Path returns the fastboot binary in use.
func (d *Discovery) Path() string {
	return d.path
}

// IsAvailable reports whether the fastboot binary can be executed. Older
// releases exit non-zero from help but still print their usage banner.
func (d *Discovery) IsAvailable(ctx context.Context) bool {
	res := d.runner.RunTimed(ctx, d.timeout, d.path, "help")
	if res.Succeeded() {
		return true
	}

	if res != nil && res.Status == runner.StatusFailed && strings.Contains(res.Output(), "usage: fastboot") {
		return true
	}

	d.logger.Debug().Str("path", d.path).Msg("fastboot is not available")

	return false
}

// ListDevices returns every serial fastboot can see. Serials listed as plain
// bootloader devices are probed in parallel and moved to Userspace when the
// device reports is-userspace.
func (d *Discovery) ListDevices(ctx context.Context) (*DeviceSet, error) {
	res := d.runner.RunTimed(ctx, d.timeout, d.path, "devices")
	if !res.Succeeded() {
		status := runner.StatusException
		if res != nil {
			status = res.Status
		}

		return nil, fmt.Errorf("%w: %s", ErrListFailed, status)
	}

	bootloader, userspace := ParseDevices(res.Stdout)

	var (
		mu    sync.Mutex
		moved = make(map[string]struct{})
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.probeLimit)

	for _, serial := range bootloader {
		g.Go(func() error {
			if d.isUserspace(gCtx, serial) {
				mu.Lock()
				moved[serial] = struct{}{}
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	set := &DeviceSet{Userspace: userspace}

	for _, serial := range bootloader {
		if _, ok := moved[serial]; ok {
			set.Userspace = append(set.Userspace, serial)
			continue
		}

		set.Bootloader = append(set.Bootloader, serial)
	}

	sort.Strings(set.Bootloader)
	sort.Strings(set.Userspace)

	return set, nil
}

func (d *Discovery) isUserspace(ctx context.Context, serial string) bool {
	res := d.runner.RunTimed(ctx, d.timeout, d.path, "-s", serial, "getvar", "is-userspace")

	// getvar prints to stderr, so look at both streams
	return strings.Contains(res.Output(), userspaceProbeReply)
}

// ParseDevices splits fastboot devices output into bootloader and userspace
// serials. Lines matching neither pattern are ignored.
func ParseDevices(output string) (bootloader, userspace []string) {
	scanner := bufio.NewScanner(strings.NewReader(output))

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := userspaceLine.FindStringSubmatch(line); m != nil {
			userspace = append(userspace, m[1])
			continue
		}

		if m := bootloaderLine.FindStringSubmatch(line); m != nil {
			bootloader = append(bootloader, m[1])
		}
	}

	return bootloader, userspace
}

// ResolveFastbootPath returns a runnable fastboot binary for path. A zipped
// distribution is unpacked into a new directory under tmpRoot, which is returned
// as tempDir and must be removed by the caller.
func ResolveFastbootPath(path, tmpRoot string) (resolved, tempDir string, err error) {
	if archive.DetectFormat(path) != archive.FormatZip {
		return path, "", nil
	}

	tempDir, err = os.MkdirTemp(tmpRoot, "fastboot")
	if err != nil {
		return "", "", fmt.Errorf("create fastboot dir: %w", err)
	}

	if err = archive.Extract(path, tempDir); err != nil {
		_ = os.RemoveAll(tempDir)
		return "", "", fmt.Errorf("unzip fastboot: %w", err)
	}

	resolved, err = findBinary(tempDir)
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return "", "", err
	}

	if err = os.Chmod(resolved, 0o755); err != nil { //nolint:gosec // must be executable
		_ = os.RemoveAll(tempDir)
		return "", "", fmt.Errorf("chmod fastboot: %w", err)
	}

	return resolved, tempDir, nil
}

func findBinary(root string) (string, error) {
	var found string

	err := filepath.WalkDir(root, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() && entry.Name() == binaryName {
			found = p
			return filepath.SkipAll
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	if found == "" {
		return "", ErrBinaryNotInZip
	}

	return found, nil
}
