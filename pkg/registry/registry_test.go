package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/devicefleet/pkg/device"
	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

func classifyForTest(_ context.Context, h device.Handle) device.Classification {
	c := device.Classification{Variant: device.FullStack, InitialConnection: device.Online}

	switch {
	case h.Stub == device.TCPStub:
		c = device.Classification{Variant: device.RemoteTCP, InitialConnection: device.NotAvailable}
	case h.Stub == device.LocalVirtualStub:
		c = device.Classification{Variant: device.LocalVirtual, InitialConnection: device.NotAvailable}
	case strings.HasPrefix(h.Serial, "nofw"):
		c.Variant = device.NoFrameworkSupport
	}

	switch h.Fastboot {
	case device.BootloaderMode:
		c.InitialConnection = device.Fastboot
	case device.UserspaceFastboot:
		c.InitialConnection = device.Fastbootd
	case device.NoFastboot:
	}

	return c
}

func newTestRegistry(t *testing.T) (*DeviceRegistry, *MockClassifier) {
	t.Helper()

	ctrl := gomock.NewController(t)
	classifier := NewMockClassifier(ctrl)
	classifier.EXPECT().Classify(gomock.Any(), gomock.Any()).DoAndReturn(classifyForTest).AnyTimes()

	return NewDeviceRegistry(classifier, logger.NewTestLogger()), classifier
}

func addAvailable(t *testing.T, reg *DeviceRegistry, handle device.Handle) *TrackedDevice {
	t.Helper()

	ctx := context.Background()
	d := reg.FindOrCreate(ctx, handle)
	require.NotNil(t, d)

	res := reg.HandleEvent(ctx, d, device.ForceAvailable)
	require.True(t, res.StateChanged)
	require.Equal(t, device.Available, d.AllocationState())

	return d
}

func online(serial string) device.Handle {
	return device.Handle{Serial: serial, State: device.AdbOnline}
}

func TestFindOrCreateInvalidSerial(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier := NewMockClassifier(ctrl)
	reg := NewDeviceRegistry(classifier, logger.NewTestLogger())

	for _, serial := range []string{"", "  ", "????????????", "emulator-?"} {
		assert.Nil(t, reg.FindOrCreate(context.Background(), device.Handle{Serial: serial}))
	}

	assert.Zero(t, reg.Size())
}

func TestFindOrCreateReturnsExistingDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier := NewMockClassifier(ctrl)
	classifier.EXPECT().Classify(gomock.Any(), online("serial-1")).DoAndReturn(classifyForTest).Times(1)

	reg := NewDeviceRegistry(classifier, logger.NewTestLogger())
	ctx := context.Background()

	first := reg.FindOrCreate(ctx, online("serial-1"))
	require.NotNil(t, first)
	assert.Equal(t, device.Unknown, first.AllocationState())
	assert.Equal(t, device.FullStack, first.Variant())

	second := reg.FindOrCreate(ctx, online("serial-1"))
	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Size())
}

func TestFindOrCreateConcurrentCallersShareOneDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const callers = 32

	results := make([]*TrackedDevice, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i] = reg.FindOrCreate(context.Background(), online("shared"))
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, reg.Size())

	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestFindOrCreateAfterEvictionBuildsFreshDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	old := addAvailable(t, reg, online("serial-1"))

	res := reg.HandleEvent(ctx, old, device.Disconnected)
	assert.True(t, res.StateChanged)
	assert.Equal(t, device.Unknown, res.State)
	assert.Nil(t, reg.Find("serial-1"))

	fresh := reg.FindOrCreate(ctx, online("serial-1"))
	require.NotNil(t, fresh)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 1, reg.Size())
}

func TestAllocateFreeScenario(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	x := addAvailable(t, reg, online("X"))

	got := reg.Allocate(ctx, MatchAny())
	require.Same(t, x, got)
	assert.Equal(t, device.Allocated, x.AllocationState())

	assert.Nil(t, reg.Allocate(ctx, MatchAny()))

	res := reg.HandleEvent(ctx, x, device.FreeAvailable)
	assert.True(t, res.StateChanged)
	assert.Equal(t, device.Available, x.AllocationState())

	assert.Same(t, x, reg.Allocate(ctx, MatchAny()))
}

func TestAllocateMutualExclusion(t *testing.T) {
	reg, _ := newTestRegistry(t)
	addAvailable(t, reg, online("only"))

	const callers = 64

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if reg.Allocate(context.Background(), MatchAny()) != nil {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestAllocateRoundRobin(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	serials := []string{"a", "b", "c", "d"}
	for _, s := range serials {
		addAvailable(t, reg, online(s))
	}

	var visited []string

	for range serials {
		d := reg.Allocate(ctx, MatchAny())
		require.NotNil(t, d)

		visited = append(visited, d.Serial())
		reg.Free(ctx, d, device.FreeAsAvailable)
	}

	assert.ElementsMatch(t, serials, visited)
	assert.Equal(t, serials, visited)

	again := reg.Allocate(ctx, MatchAny())
	require.NotNil(t, again)
	assert.Equal(t, "a", again.Serial())
}

func TestAllocateSkipsIneligibleDevices(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	busy := addAvailable(t, reg, online("busy"))
	require.NotNil(t, reg.Allocate(ctx, MatchSerials("busy")))
	require.Equal(t, device.Allocated, busy.AllocationState())

	offline := reg.FindOrCreate(ctx, device.Handle{Serial: "offline", State: device.AdbOffline})
	reg.HandleEvent(ctx, offline, device.ConnectedOffline)

	idle := addAvailable(t, reg, online("idle"))

	assert.Same(t, idle, reg.Allocate(ctx, MatchAny()))
	assert.Equal(t, device.Unavailable, offline.AllocationState())
}

func TestAllocateExplicitSerial(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg, _ := newTestRegistry(t)
	sink := NewMockEventSink(ctrl)
	ctx := context.Background()

	addAvailable(t, reg, online("first"))
	second := addAvailable(t, reg, online("second"))

	reg.SetEventSink(sink)
	sink.EXPECT().PublishDeviceTransition(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, data *models.DeviceTransitionEventData) error {
			assert.Equal(t, "second", data.Serial)
			assert.Equal(t, string(device.ExplicitAllocateRequest), data.Event)
			assert.Equal(t, string(device.Available), data.PreviousState)
			assert.Equal(t, string(device.Allocated), data.CurrentState)

			return nil
		})

	assert.Same(t, second, reg.Allocate(ctx, MatchSerials("second")))
	assert.Nil(t, reg.Allocate(ctx, MatchSerials("missing")))
}

func TestAllocateByCapability(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	addAvailable(t, reg, online("nofw-1"))
	full := addAvailable(t, reg, online("full-1"))

	sel := DeviceSelector{Capabilities: []device.Capability{device.InstallSoftware}}
	assert.Same(t, full, reg.Allocate(ctx, sel))
	assert.Nil(t, reg.Allocate(ctx, sel))

	diag := DeviceSelector{Capabilities: []device.Capability{device.CaptureDiagnostics}}
	got := reg.Allocate(ctx, diag)
	require.NotNil(t, got)
	assert.Equal(t, device.NoFrameworkSupport, got.Variant())
}

func TestPlaceholdersNeedExplicitRequest(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	stub := addAvailable(t, reg, device.Handle{Serial: "tcp-device-0", Stub: device.TCPStub})
	assert.Equal(t, device.NotAvailable, stub.ConnectionState())

	assert.Nil(t, reg.Allocate(ctx, MatchAny()))
	assert.Same(t, stub, reg.Allocate(ctx, DeviceSelector{Variants: []device.Variant{device.RemoteTCP}}))

	res := reg.Free(ctx, stub, device.FreeAsUnavailable)
	assert.Equal(t, device.Available, res.State)
	assert.Same(t, stub, reg.Allocate(ctx, MatchSerials("tcp-device-0")))
}

func TestFreeMapsStates(t *testing.T) {
	tests := []struct {
		name  string
		state device.FreeDeviceState
		want  device.AllocationState
		gone  bool
	}{
		{"available", device.FreeAsAvailable, device.Available, false},
		{"unavailable", device.FreeAsUnavailable, device.Unavailable, false},
		{"unresponsive", device.FreeAsUnresponsive, device.Unavailable, false},
		{"ignore evicts", device.FreeAsIgnore, device.Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t)
			ctx := context.Background()

			d := addAvailable(t, reg, online("dev"))
			require.NotNil(t, reg.Allocate(ctx, MatchAny()))
			d.SetRecoveryEnabled(false)

			res := reg.Free(ctx, d, tt.state)
			assert.True(t, res.StateChanged)
			assert.Equal(t, tt.want, res.State)
			assert.Equal(t, tt.gone, reg.Find("dev") == nil)
			assert.True(t, d.RecoveryEnabled())
		})
	}
}

func TestForceAllocate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	x := addAvailable(t, reg, online("X"))
	require.NotNil(t, reg.Allocate(ctx, MatchSerials("X")))
	reg.Free(ctx, x, device.FreeAsUnavailable)
	require.Equal(t, device.Unavailable, x.AllocationState())

	d := reg.ForceAllocate(ctx, "X")
	require.Same(t, x, d)
	assert.Equal(t, device.Allocated, d.AllocationState())
	assert.Nil(t, reg.ForceAllocate(ctx, "X"), "already allocated")
}

func TestForceAllocateUnknownSerial(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	assert.Nil(t, reg.ForceAllocate(ctx, "typo-serial"))
	assert.Nil(t, reg.ForceAllocate(ctx, "bad?serial"))
	assert.Zero(t, reg.Size())

	assert.Nil(t, reg.Allocate(ctx, MatchAny()), "nothing may be handed out")
}

func TestClaimRegistersAndAllocates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d := reg.Claim(ctx, device.Handle{Serial: "10.0.0.9:5555", State: device.AdbUnknown})
	require.NotNil(t, d)
	assert.Equal(t, device.Allocated, d.AllocationState())
	assert.Same(t, d, reg.Find("10.0.0.9:5555"))

	assert.Nil(t, reg.Claim(ctx, device.Handle{Serial: "10.0.0.9:5555"}), "already allocated")
	assert.Nil(t, reg.Claim(ctx, device.Handle{Serial: "bad?serial"}))
	assert.Equal(t, 1, reg.Size())
}

func TestUpdateFastbootStates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	a := addAvailable(t, reg, device.Handle{Serial: "A", Fastboot: device.BootloaderMode})
	b := addAvailable(t, reg, online("B"))
	require.Equal(t, device.Fastboot, a.ConnectionState())

	reg.UpdateFastbootStates(ctx, []string{"A"}, false)
	assert.Equal(t, device.Fastboot, a.ConnectionState())
	assert.Equal(t, device.Online, b.ConnectionState())
	assert.Equal(t, 2, reg.Size())

	reg.UpdateFastbootStates(ctx, nil, false)
	assert.Equal(t, device.NotAvailable, a.ConnectionState())
	assert.Nil(t, reg.Find("A"))
	assert.Same(t, b, reg.Find("B"))
	assert.Equal(t, device.Available, b.AllocationState())
}

func TestUpdateFastbootStatesModesAreIndependent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d := addAvailable(t, reg, device.Handle{Serial: "D", Fastboot: device.UserspaceFastboot})
	b := addAvailable(t, reg, device.Handle{Serial: "B", Fastboot: device.BootloaderMode})

	reg.UpdateFastbootStates(ctx, nil, false)
	assert.Same(t, d, reg.Find("D"), "bootloader update leaves fastbootd devices alone")
	assert.Nil(t, reg.Find("B"))
	assert.Equal(t, device.NotAvailable, b.ConnectionState())

	reg.UpdateFastbootStates(ctx, []string{"X"}, true)
	assert.Nil(t, reg.Find("D"))
}

func TestHandleEventEvictsFreshDeviceOnDisconnect(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d := reg.FindOrCreate(ctx, online("fresh"))
	require.NotNil(t, d)

	res := reg.HandleEvent(ctx, d, device.Disconnected)
	assert.False(t, res.StateChanged)
	assert.Zero(t, reg.Size())

	res = reg.HandleEvent(ctx, d, device.ForceAvailable)
	assert.False(t, res.StateChanged, "untracked devices are not driven")
}

func TestHandleEventPublishesEviction(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg, _ := newTestRegistry(t)
	sink := NewMockEventSink(ctrl)
	ctx := context.Background()

	d := addAvailable(t, reg, online("gone"))
	reg.SetEventSink(sink)

	sink.EXPECT().PublishDeviceTransition(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, data *models.DeviceTransitionEventData) error {
			assert.True(t, data.Evicted)
			assert.Equal(t, string(device.Unknown), data.CurrentState)

			return errors.New("broker down")
		})

	res := reg.HandleEvent(ctx, d, device.Disconnected)
	assert.Equal(t, device.Unknown, res.State)
	assert.Zero(t, reg.Size())
}

func TestNoTransitionPublishesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg, _ := newTestRegistry(t)
	sink := NewMockEventSink(ctrl)

	d := addAvailable(t, reg, online("idle"))
	reg.SetEventSink(sink)

	res := reg.HandleEvent(context.Background(), d, device.FreeAvailable)
	assert.False(t, res.StateChanged)
	assert.Equal(t, device.Available, res.State)
}

func TestIterateReturnsSnapshot(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	addAvailable(t, reg, online("a"))
	b := addAvailable(t, reg, online("b"))

	snapshot := reg.Iterate()
	require.Len(t, snapshot, 2)

	reg.HandleEvent(ctx, b, device.Disconnected)
	addAvailable(t, reg, online("c"))

	assert.Len(t, snapshot, 2)
	assert.Equal(t, "b", snapshot[1].Serial())
	assert.Equal(t, 2, reg.Size())
}

func TestFindMatchesCurrentHandle(t *testing.T) {
	reg, _ := newTestRegistry(t)

	d := addAvailable(t, reg, device.Handle{Serial: "local-virtual-device-0", Stub: device.LocalVirtualStub})
	d.SetHandle(device.Handle{Serial: "127.0.0.1:6520", State: device.AdbOnline})

	assert.Same(t, d, reg.Find("127.0.0.1:6520"))
	assert.Same(t, d, reg.Find("local-virtual-device-0"))

	d.RestoreHandle()
	assert.Nil(t, reg.Find("127.0.0.1:6520"))
	assert.True(t, d.IsStub())
}

func TestDescriptorsOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, s := range []string{"c", "a", "d", "b"} {
		addAvailable(t, reg, online(s))
	}

	require.NotNil(t, reg.Allocate(ctx, MatchSerials("d")))
	require.NotNil(t, reg.Allocate(ctx, MatchSerials("b")))

	var order []string
	for _, desc := range reg.Descriptors() {
		order = append(order, desc.Serial)
	}

	assert.Equal(t, []string{"b", "d", "a", "c"}, order)

	desc := reg.Descriptors()[0]
	assert.Equal(t, device.Allocated, desc.Allocation)
	assert.Equal(t, device.FullStack.Capabilities(), desc.Capabilities)
	assert.False(t, desc.LastStateChange.IsZero())
}
