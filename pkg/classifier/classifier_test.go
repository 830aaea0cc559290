package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
	"github.com/carverauto/devicefleet/pkg/runner"
)

func testProbe() models.ProbeConfig {
	return models.ProbeConfig{
		Attempts: 3,
		Backoff:  models.Duration(time.Millisecond),
		Timeout:  models.Duration(time.Second),
	}
}

func newTestClassifier(r runner.CommandRunner, nested bool) *Classifier {
	return New(r, logger.NewTestLogger(), "adb", testProbe(), models.RemoteEnvConfig{RemoteUser: "vsoc-01"},
		WithNestedDetector(func(context.Context) bool { return nested }))
}

func expectProbe(mr *runner.MockCommandRunner, serial string) *gomock.Call {
	return mr.EXPECT().RunTimed(gomock.Any(), time.Second, "adb", "-s", serial, "shell", "ls", "/system/bin/pm")
}

func TestClassifyStubsAndNetworkSerials(t *testing.T) {
	tests := []struct {
		name       string
		handle     device.Handle
		nested     bool
		variant    device.Variant
		connection device.ConnectionState
	}{
		{
			name:       "remote virtual stub",
			handle:     device.Handle{Serial: "remote-virtual-device-0", Stub: device.RemoteVirtualStub},
			variant:    device.RemoteVirtual,
			connection: device.NotAvailable,
		},
		{
			name:       "local virtual stub",
			handle:     device.Handle{Serial: "local-virtual-device-0", Stub: device.LocalVirtualStub},
			variant:    device.LocalVirtual,
			connection: device.NotAvailable,
		},
		{
			name:       "tcp stub",
			handle:     device.Handle{Serial: "tcp-device-0", Stub: device.TCPStub},
			variant:    device.RemoteTCP,
			connection: device.NotAvailable,
		},
		{
			name:       "ip serial",
			handle:     device.Handle{Serial: "192.168.1.20:5555", State: device.AdbOnline},
			variant:    device.RemoteTCP,
			connection: device.NotAvailable,
		},
		{
			name:       "localhost serial when nested",
			handle:     device.Handle{Serial: "localhost:6520", State: device.AdbOnline},
			nested:     true,
			variant:    device.NestedRemote,
			connection: device.Online,
		},
		{
			name:       "stub wins over nested",
			handle:     device.Handle{Serial: "127.0.0.1:6520", Stub: device.TCPStub},
			nested:     true,
			variant:    device.RemoteTCP,
			connection: device.NotAvailable,
		},
		{
			name:       "offline device skips probe",
			handle:     device.Handle{Serial: "HT1234", State: device.AdbOffline},
			variant:    device.FullStack,
			connection: device.Offline,
		},
		{
			name:       "bootloader marker overrides connection",
			handle:     device.Handle{Serial: "HT1234", State: device.AdbUnknown, Fastboot: device.BootloaderMode},
			variant:    device.FullStack,
			connection: device.Fastboot,
		},
		{
			name:       "fastbootd marker on stub",
			handle:     device.Handle{Serial: "tcp-device-1", Stub: device.TCPStub, Fastboot: device.UserspaceFastboot},
			variant:    device.RemoteTCP,
			connection: device.Fastbootd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mr := runner.NewMockCommandRunner(ctrl)

			got := newTestClassifier(mr, tt.nested).Classify(context.Background(), tt.handle)
			assert.Equal(t, tt.variant, got.Variant)
			assert.Equal(t, tt.connection, got.InitialConnection)
		})
	}
}

func TestClassifyProbeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  *runner.CommandResult
		calls   int
		variant device.Variant
	}{
		{
			name:    "framework present",
			result:  &runner.CommandResult{Status: runner.StatusSuccess, Stdout: "/system/bin/pm\n"},
			calls:   1,
			variant: device.FullStack,
		},
		{
			name: "framework missing",
			result: &runner.CommandResult{
				Status:   runner.StatusFailed,
				ExitCode: 1,
				Stderr:   "ls: /system/bin/pm: No such file or directory\n",
			},
			calls:   1,
			variant: device.NoFrameworkSupport,
		},
		{
			name:    "probe always times out",
			result:  &runner.CommandResult{Status: runner.StatusTimedOut, ExitCode: -1},
			calls:   3,
			variant: device.FullStack,
		},
		{
			name:    "unrecognized output",
			result:  &runner.CommandResult{Status: runner.StatusSuccess, Stdout: "error: closed\n"},
			calls:   3,
			variant: device.FullStack,
		},
		{
			name:    "runner exception",
			result:  nil,
			calls:   3,
			variant: device.FullStack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			mr := runner.NewMockCommandRunner(ctrl)
			expectProbe(mr, "HT1234").Return(tt.result).Times(tt.calls)

			handle := device.Handle{Serial: "HT1234", State: device.AdbOnline}
			got := newTestClassifier(mr, false).Classify(context.Background(), handle)

			assert.Equal(t, tt.variant, got.Variant)
			assert.Equal(t, device.Online, got.InitialConnection)
		})
	}
}

func TestClassifyBoundsProbeWithoutValidatedConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := runner.NewMockCommandRunner(ctrl)
	mr.EXPECT().RunTimed(gomock.Any(), 30*time.Second, "adb", "-s", "HT1234", "shell", "ls", "/system/bin/pm").
		Return(&runner.CommandResult{Status: runner.StatusTimedOut}).
		Times(3)

	c := New(mr, logger.NewTestLogger(), "adb", models.ProbeConfig{Attempts: -1}, models.RemoteEnvConfig{},
		WithNestedDetector(func(context.Context) bool { return false }))

	got := c.Classify(context.Background(), device.Handle{Serial: "HT1234", State: device.AdbOnline})
	assert.Equal(t, device.FullStack, got.Variant)
}

func TestClassifyRecoversAfterTransientFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := runner.NewMockCommandRunner(ctrl)

	gomock.InOrder(
		expectProbe(mr, "HT1234").Return(&runner.CommandResult{Status: runner.StatusTimedOut}),
		expectProbe(mr, "HT1234").Return(&runner.CommandResult{Status: runner.StatusFailed, Stderr: "No such file or directory"}),
	)

	got := newTestClassifier(mr, false).Classify(context.Background(), device.Handle{Serial: "HT1234", State: device.AdbOnline})
	assert.Equal(t, device.NoFrameworkSupport, got.Variant)
}

func TestClassifyIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := runner.NewMockCommandRunner(ctrl)
	expectProbe(mr, "HT1234").
		Return(&runner.CommandResult{Status: runner.StatusFailed, Stderr: "No such file or directory"}).
		Times(2)

	c := newTestClassifier(mr, false)
	handle := device.Handle{Serial: "HT1234", State: device.AdbOnline}

	assert.Equal(t, c.Classify(context.Background(), handle), c.Classify(context.Background(), handle))
}

func TestNestedDetectionIsCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := runner.NewMockCommandRunner(ctrl)

	calls := 0
	c := New(mr, logger.NewTestLogger(), "adb", testProbe(), models.RemoteEnvConfig{},
		WithNestedDetector(func(context.Context) bool {
			calls++
			return true
		}))

	for range 3 {
		got := c.Classify(context.Background(), device.Handle{Serial: "127.0.0.1:6520", State: device.AdbOnline})
		assert.Equal(t, device.NestedRemote, got.Variant)
	}

	assert.Equal(t, 1, calls)
}

func TestNestedDetectorForced(t *testing.T) {
	detect := newNestedDetector(models.RemoteEnvConfig{ForceNested: true}, logger.NewTestLogger())
	assert.True(t, detect(context.Background()))

	detect = newNestedDetector(models.RemoteEnvConfig{RemoteUser: "no-such-user-for-fleet-tests"}, logger.NewTestLogger())
	assert.False(t, detect(context.Background()))
}

func TestNetworkSerialPattern(t *testing.T) {
	assert.True(t, networkSerial.MatchString("10.0.0.1:5555"))
	assert.True(t, networkSerial.MatchString("localhost:6520"))
	assert.False(t, networkSerial.MatchString("10.0.0.1"))
	assert.False(t, networkSerial.MatchString("emulator-5554"))
	assert.False(t, networkSerial.MatchString("host.example.com:5555"))
}
