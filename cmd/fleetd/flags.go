package main

import (
	"time"

	flag "github.com/spf13/pflag"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

const defaultConfigPath = "/etc/devicefleet/fleetd.json"

type options struct {
	configPath   string
	debug        bool
	once         bool
	showVersion  bool
	natsURL      string
	deviceImage  string
	hostPackage  string
	tcpAddress   string
	holdInstance time.Duration
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("fleetd", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to fleetd config file")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "Print version and exit")
	fs.BoolVar(&opts.once, "once", false, "Run a single discovery pass, print the fleet and exit")
	fs.StringVar(&opts.natsURL, "nats-url", "", "Publish allocation transitions to this NATS server")
	fs.StringVar(&opts.deviceImage, "provision-image", "",
		"Boot a local virtual device from this image dir or archive, then exit")
	fs.StringVar(&opts.hostPackage, "host-package", "", "Host tools dir or archive used with --provision-image")
	fs.StringVar(&opts.tcpAddress, "connect", "", "Connect the device at host:port over adb TCP, then disconnect and exit")
	fs.DurationVar(&opts.holdInstance, "hold", 0,
		"Keep a provisioned instance or TCP device up this long before teardown")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return opts, nil
}

// apply lets flags override the loaded config.
func (o *options) apply(cfg *models.FleetConfig) error {
	if o.debug {
		if cfg.Logging == nil {
			cfg.Logging = logger.DefaultConfig()
		}

		cfg.Logging.Debug = true
	}

	if o.natsURL == "" {
		return nil
	}

	cfg.Events.Enabled = true
	cfg.Events.NATSURL = o.natsURL

	return cfg.Validate()
}
