package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fleetd.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{
		"adb_path": "/opt/platform-tools/adb",
		"poll_interval": "2s",
		"placeholders": {"tcp_devices": 2},
		"virtual_device": {"max_attempts": 5, "extra_args": ["--gpu_mode", "guest"]},
		"events": {"enabled": true, "nats_url": "nats://127.0.0.1:4222",
			"tls": {"ca_file": "certs/ca.pem", "cert_file": "/abs/client.pem", "key_file": "certs/client-key.pem"}}
	}`)

	var cfg models.FleetConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "/opt/platform-tools/adb", cfg.ADBPath)
	assert.Equal(t, "fastboot", cfg.FastbootPath)
	assert.Equal(t, 2*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 2, cfg.Placeholders.TCPDevices)
	assert.Equal(t, 5, cfg.VirtualDevice.MaxAttempts)
	assert.Equal(t, []string{"--gpu_mode", "guest"}, cfg.VirtualDevice.ExtraArgs)
	assert.Equal(t, "fleet", cfg.Events.StreamName)
	assert.Equal(t, "fleet.device", cfg.Events.SubjectRoot)

	dir := filepath.Dir(path)
	require.NotNil(t, cfg.Events.TLS)
	assert.Equal(t, filepath.Join(dir, "certs/ca.pem"), cfg.Events.TLS.CAFile)
	assert.Equal(t, "/abs/client.pem", cfg.Events.TLS.CertFile)
	assert.Equal(t, filepath.Join(dir, "certs/client-key.pem"), cfg.Events.TLS.KeyFile)
}

func TestLoadAndValidateRejectsUnknownKeys(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeConfig(t, `{"adb_pth": "adb"}`)

	var cfg models.FleetConfig
	require.Error(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))
}

func TestLoadAndValidateSurfacesValidationErrors(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{"events": {"enabled": true}}`)

	var cfg models.FleetConfig
	require.Error(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg models.FleetConfig
	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "/nonexistent/fleetd.json", &cfg)
	require.Error(t, err)

	err = NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errConfigPathRequired)
}

func TestInvalidConfigSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg models.FleetConfig
	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLEET_ADB_PATH", "/usr/bin/adb")
	t.Setenv("FLEET_POLL_INTERVAL", "750ms")
	t.Setenv("FLEET_PROBE_ATTEMPTS", "4")
	t.Setenv("FLEET_PLACEHOLDERS_LOCAL_VIRTUAL_DEVICES", "3")
	t.Setenv("FLEET_REMOTE_FORCE_NESTED", "true")
	t.Setenv("FLEET_VIRTUAL_DEVICE_EXTRA_ARGS", "--cpus=4, --memory_mb=4096")
	t.Setenv("FLEET_EVENTS_ENABLED", "false")

	var cfg models.FleetConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/usr/bin/adb", cfg.ADBPath)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval.Std())
	assert.Equal(t, 4, cfg.Probe.Attempts)
	assert.Equal(t, 3, cfg.Placeholders.LocalVirtualDevices)
	assert.True(t, cfg.Remote.ForceNested)
	assert.Equal(t, []string{"--cpus=4", "--memory_mb=4096"}, cfg.VirtualDevice.ExtraArgs)
	assert.Nil(t, cfg.Events.TLS)
	assert.Nil(t, cfg.Logging)
}

func TestLoadFromEnvironmentCustomPrefix(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "LAB_")
	t.Setenv("LAB_FASTBOOT_PATH", "/opt/fastboot")
	t.Setenv("LAB_LOGGING_LEVEL", "debug")

	var cfg models.FleetConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/opt/fastboot", cfg.FastbootPath)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvironmentJSONDocument(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLEET_CONFIG_JSON", `{"adb_path": "/json/adb", "placeholders": {"tcp_devices": 1}}`)
	t.Setenv("FLEET_ADB_PATH", "/ignored/adb")

	var cfg models.FleetConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "/json/adb", cfg.ADBPath)
	assert.Equal(t, 1, cfg.Placeholders.TCPDevices)
}

func TestLoadFromEnvironmentBadValue(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FLEET_PROBE_ATTEMPTS", "three")

	var cfg models.FleetConfig
	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEET_PROBE_ATTEMPTS")
}

func TestEnvLoaderRejectsNonStruct(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "X_")

	var s string
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
	require.ErrorIs(t, loader.Load(context.Background(), "", nil), ErrDstMustBeNonNilPointer)
}
