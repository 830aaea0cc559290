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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/devicefleet/pkg/classifier"
	"github.com/carverauto/devicefleet/pkg/config"
	"github.com/carverauto/devicefleet/pkg/discovery"
	"github.com/carverauto/devicefleet/pkg/fastboot"
	"github.com/carverauto/devicefleet/pkg/lifecycle"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/natsutil"
	"github.com/carverauto/devicefleet/pkg/registry"
	"github.com/carverauto/devicefleet/pkg/runner"
	"github.com/carverauto/devicefleet/pkg/version"
)

const stopTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		l := logger.GetLogger()
		l.Fatal().Err(err).Msg("fleetd exited")
	}
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Println("fleetd", version.GetFullVersion())

		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Step 1: Load config
	var cfg models.FleetConfig
	if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := opts.apply(&cfg); err != nil {
		return err
	}

	// Step 2: Create logger from loaded config
	fleetLogger, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}

	// Step 3: Wire the fleet
	cmdRunner := runner.NewExecRunner(fleetLogger)

	fastbootPath, fastbootTmp, err := fastboot.ResolveFastbootPath(cfg.FastbootPath, cfg.VirtualDevice.TmpRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve fastboot: %w", err)
	}

	if fastbootTmp != "" {
		defer func() {
			if err := os.RemoveAll(fastbootTmp); err != nil {
				fleetLogger.Warn().Err(err).Str("dir", fastbootTmp).Msg("Failed to remove fastboot temp dir")
			}
		}()
	}

	fb := fastboot.NewDiscovery(cmdRunner, fleetLogger, fastbootPath, cfg.CommandTimeout.Std())
	cls := classifier.New(cmdRunner, fleetLogger, cfg.ADBPath, cfg.Probe, cfg.Remote)
	reg := registry.NewDeviceRegistry(cls, fleetLogger)

	if cfg.Events.Enabled {
		publisher, nc, err := natsutil.ConnectWithEventPublisher(ctx, &cfg.Events, fleetLogger,
			nats.Name("devicefleet-fleetd"))
		if err != nil {
			return fmt.Errorf("failed to set up event publishing: %w", err)
		}
		defer nc.Close()

		reg.SetEventSink(publisher)
	}

	placeholders := discovery.AddPlaceholders(ctx, reg, cfg.Placeholders)
	fleetLogger.Info().Int("placeholders", len(placeholders)).Msg("Registered placeholder devices")

	monitor := discovery.NewMonitor(discovery.Config{
		ADBPath:        cfg.ADBPath,
		PollInterval:   cfg.PollInterval.Std(),
		CommandTimeout: cfg.CommandTimeout.Std(),
	}, reg, cmdRunner, fb, fleetLogger)

	switch {
	case opts.deviceImage != "":
		return provision(ctx, opts, &cfg, reg, cmdRunner, fleetLogger)
	case opts.tcpAddress != "":
		return connectTCP(ctx, opts, &cfg, reg, cmdRunner, fleetLogger)
	case opts.once:
		if err := monitor.PollOnce(ctx); err != nil {
			return err
		}

		return printSnapshot(os.Stdout, reg)
	}

	// Step 4: Run until signalled
	if err := monitor.Start(ctx); err != nil {
		return err
	}

	fleetLogger.Info().Str("adb", cfg.ADBPath).Str("fastboot", fastbootPath).Msg("fleetd running")

	<-ctx.Done()

	fleetLogger.Info().Msg("Shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	return monitor.Stop(stopCtx)
}

// setupLogging points the process-wide logger at config and returns the
// component logger handed to the fleet.
func setupLogging(config *logger.Config) (logger.Logger, error) {
	if err := lifecycle.InitializeLogger(config); err != nil {
		return nil, err
	}

	fleetLogger, err := lifecycle.CreateComponentLogger("fleetd", config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return fleetLogger, nil
}
