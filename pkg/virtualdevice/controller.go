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

// Package virtualdevice provisions and tears down local virtual devices through
// an external driver binary.
package virtualdevice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/devicefleet/pkg/archive"
	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/runner"
)

const (
	defaultDriverBinary = "acloud_prebuilt"
	defaultConnectPoll  = time.Second
	adbCommandTimeout   = 30 * time.Second
	deleteTimeout       = 2 * time.Minute
	reportFileName      = "report.json"
	tmpDirEnv           = "TMPDIR"
	runtimeSubdir       = "cuttlefish_runtime"
	driverTempSubdir    = "acloud_cvd_temp"
)

// runtimeArtifacts are copied out of the instance runtime dir at teardown.
var runtimeArtifacts = []string{"kernel.log", "logcat", "launcher.log", "cuttlefish_config.json"}

// BuildInputs names the device image and host tool package. Either may be a
// directory or an archive.
type BuildInputs struct {
	DeviceImage string
	HostPackage string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithConnectPoll sets the delay between connection checks.
func WithConnectPoll(d time.Duration) Option {
	return func(c *Controller) {
		c.connectPoll = d
	}
}

// WithVerboseDriver appends -v to driver invocations.
func WithVerboseDriver(verbose bool) Option {
	return func(c *Controller) {
		c.verbose = verbose
	}
}

// Controller runs provisioning and teardown of local virtual devices.
type Controller struct {
	runner      runner.CommandRunner
	logger      logger.Logger
	adbPath     string
	cfg         models.VirtualDeviceConfig
	artifacts   ArtifactSink
	connectPoll time.Duration
	verbose     bool
}

// NewController returns a Controller. artifacts may be nil.
func NewController(
	r runner.CommandRunner, log logger.Logger, adbPath string,
	cfg models.VirtualDeviceConfig, artifacts ArtifactSink, opts ...Option) *Controller {
	c := &Controller{
		runner:      r,
		logger:      log,
		adbPath:     adbPath,
		cfg:         cfg.WithDefaults(),
		artifacts:   artifacts,
		connectPoll: defaultConnectPoll,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run provisions an instance for target, calls fn, and always tears down.
func (c *Controller) Run(
	ctx context.Context, target Target, inputs BuildInputs, fn func(context.Context, *Session) error) error {
	session, err := c.Provision(ctx, target, inputs)
	defer c.Teardown(ctx, session)

	if err != nil {
		return err
	}

	return fn(ctx, session)
}

// Provision boots a virtual device for target and connects to it. The returned
// session is never nil and must be passed to Teardown even on error.
func (c *Controller) Provision(ctx context.Context, target Target, inputs BuildInputs) (*Session, error) {
	session := newSession(target)

	err := c.provision(ctx, session, inputs)
	if err != nil {
		session.Status = StatusFailed

		c.logger.Error().
			Err(err).
			Str("serial", target.Serial()).
			Str("session", session.ID.String()).
			Msg("Virtual device provisioning failed")

		return session, err
	}

	session.Status = StatusConnected

	c.logger.Info().
		Str("serial", target.Serial()).
		Str("instance", session.InstanceName).
		Str("address", session.Address()).
		Msg("Virtual device ready")

	return session, nil
}

func (c *Controller) provision(ctx context.Context, session *Session, inputs BuildInputs) error {
	dir, err := session.mkdirTemp(c.cfg.TmpRoot, "fleet-vd-")
	if err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	session.Dir = dir

	imageDir, hostDir, err := c.resolveInputs(session, inputs)
	if err != nil {
		return err
	}

	report, err := c.create(ctx, session, imageDir, hostDir)
	if err != nil {
		return err
	}

	session.InstanceName = report.InstanceName
	session.Host = report.Host
	session.Port = report.Port

	if err := report.Validate(); err != nil {
		return err
	}

	session.Status = StatusCreated

	return c.connect(ctx, session)
}

func (c *Controller) resolveInputs(session *Session, inputs BuildInputs) (imageDir, hostDir string, err error) {
	if inputs.DeviceImage == "" {
		return "", "", fmt.Errorf("%w: no device image", ErrMissingBuildInputs)
	}

	hostPackage := inputs.HostPackage
	if hostPackage == "" {
		hostPackage = c.cfg.HostToolsDir
	}

	if hostPackage == "" {
		return "", "", fmt.Errorf("%w: no host package and no host tools dir", ErrMissingBuildInputs)
	}

	if imageDir, err = c.resolveInput(session, inputs.DeviceImage, "image"); err != nil {
		return "", "", err
	}

	if hostDir, err = c.resolveInput(session, hostPackage, "host"); err != nil {
		return "", "", err
	}

	return imageDir, hostDir, nil
}

func (c *Controller) resolveInput(session *Session, path, kind string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMissingBuildInputs, kind, err)
	}

	if info.IsDir() {
		return path, nil
	}

	if !archive.IsArchive(path) {
		return "", fmt.Errorf("%w: %s %s is neither a directory nor an archive", ErrMissingBuildInputs, kind, path)
	}

	dst, err := session.mkdirTemp(c.cfg.TmpRoot, "fleet-"+kind+"-")
	if err != nil {
		return "", fmt.Errorf("create %s dir: %w", kind, err)
	}

	if err := archive.Extract(path, dst); err != nil {
		return "", fmt.Errorf("%w: extract %s: %w", ErrMissingBuildInputs, kind, err)
	}

	return dst, nil
}

func (c *Controller) create(ctx context.Context, session *Session, imageDir, hostDir string) (*Report, error) {
	reportPath := filepath.Join(session.Dir, reportFileName)

	args := []string{
		"create", "--local-instance",
		"--local-image", imageDir,
		"--local-tool", hostDir,
		"--report_file", reportPath,
		"--no-autoconnect", "--yes", "--skip-pre-run-check",
	}
	args = append(args, c.cfg.ExtraArgs...)

	if c.verbose {
		args = append(args, "-v")
	}

	driver := c.driverPath(hostDir)
	session.driver = driver
	env := map[string]string{tmpDirEnv: session.Dir}
	attempt := 0

	operation := func() (struct{}, error) {
		attempt++

		_ = os.Remove(reportPath)

		res := c.runner.RunTimedWithEnv(ctx, c.cfg.AttemptTimeout.Std(), env, driver, args...)
		if res.Succeeded() {
			return struct{}{}, nil
		}

		status := runner.StatusException
		if res != nil {
			status = res.Status
		}

		c.logger.Warn().
			Str("session", session.ID.String()).
			Int("attempt", attempt).
			Str("status", string(status)).
			Str("stderr", strings.TrimSpace(res.Output())).
			Msg("Virtual device create attempt failed")

		return struct{}{}, fmt.Errorf("%w: attempt %d: %s", ErrDriverFailed, attempt, status)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0))
	if err != nil {
		return nil, err
	}

	return ReadReport(reportPath)
}

func (c *Controller) connect(ctx context.Context, session *Session) error {
	target := session.target
	addr := session.Address()

	recovery := target.RecoveryEnabled()
	target.SetRecoveryEnabled(false)

	defer target.SetRecoveryEnabled(recovery)

	target.SetHandle(device.Handle{Serial: addr, State: device.AdbOffline})

	operation := func() (struct{}, error) {
		res := c.runner.RunTimed(ctx, adbCommandTimeout, c.adbPath, "connect", addr)
		if !strings.Contains(res.Output(), "connected to") {
			return struct{}{}, fmt.Errorf("adb connect %s: %s", addr, strings.TrimSpace(res.Output()))
		}

		res = c.runner.RunTimed(ctx, adbCommandTimeout, c.adbPath, "-s", addr, "get-state")
		if state := strings.TrimSpace(res.Output()); !res.Succeeded() || state != string(device.AdbOnline) {
			return struct{}{}, fmt.Errorf("device %s state %q", addr, state)
		}

		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.connectPoll)),
		backoff.WithMaxElapsedTime(c.cfg.ConnectTimeout.Std()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	target.SetHandle(device.Handle{Serial: addr, State: device.AdbOnline})

	return nil
}

// Teardown releases everything Provision created. Each step is best effort and
// failures are only logged.
func (c *Controller) Teardown(ctx context.Context, session *Session) {
	if session == nil {
		return
	}

	// cleanup must still run when the caller's context is already cancelled
	ctx = context.WithoutCancel(ctx)

	var errs []error

	if addr := session.Address(); addr != "" {
		res := c.runner.RunTimed(ctx, adbCommandTimeout, c.adbPath, "disconnect", addr)
		if !res.Succeeded() {
			errs = append(errs, fmt.Errorf("adb disconnect %s: %s", addr, strings.TrimSpace(res.Output())))
		}
	}

	if session.InstanceName != "" {
		if err := c.deleteInstance(ctx, session); err != nil {
			errs = append(errs, err)
		}

		c.collectArtifacts(ctx, session)
	}

	if session.target != nil {
		session.target.RestoreHandle()
	}

	if err := session.removeTempDirs(); err != nil {
		errs = append(errs, err)
	}

	session.Status = StatusTornDown

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn().Err(err).Str("session", session.ID.String()).Msg("Virtual device teardown incomplete")
		return
	}

	c.logger.Debug().Str("session", session.ID.String()).Msg("Virtual device torn down")
}

func (c *Controller) deleteInstance(ctx context.Context, session *Session) error {
	env := map[string]string{}
	if session.Dir != "" {
		env[tmpDirEnv] = session.Dir
	}

	driver := session.driver
	if driver == "" {
		driver = c.driverPath(c.cfg.HostToolsDir)
	}

	res := c.runner.RunTimedWithEnv(ctx, deleteTimeout, env, driver,
		"delete", "--local-only", "--instance-names", session.InstanceName)
	if !res.Succeeded() {
		return fmt.Errorf("delete instance %s: %s", session.InstanceName, strings.TrimSpace(res.Output()))
	}

	return nil
}

func (c *Controller) collectArtifacts(ctx context.Context, session *Session) {
	if session.Dir == "" {
		return
	}

	runtimeDir := filepath.Join(session.Dir, driverTempSubdir, session.InstanceName, runtimeSubdir)

	for _, name := range runtimeArtifacts {
		path := filepath.Join(runtimeDir, name)

		if _, err := os.Stat(path); err != nil {
			c.logger.Warn().Str("session", session.ID.String()).Str("artifact", name).Msg("Artifact not found")
			continue
		}

		if c.artifacts == nil {
			continue
		}

		if err := c.artifacts.SaveArtifact(ctx, session, name, path); err != nil {
			c.logger.Warn().Err(err).Str("artifact", name).Msg("Failed to save artifact")
		}
	}
}

func (c *Controller) driverPath(hostDir string) string {
	if c.cfg.DriverPath != "" {
		return c.cfg.DriverPath
	}

	if hostDir == "" {
		return defaultDriverBinary
	}

	return filepath.Join(hostDir, "bin", defaultDriverBinary)
}
