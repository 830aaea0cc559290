package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

var errTestFixture = errors.New("fixture error")

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "fleet.device.>",
			want:     []string{"fleet.device.>"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"fleet.>"},
			subject:  "fleet.device.>",
			want:     []string{"fleet.>"},
		},
		{
			name:     "keeps list when identical",
			subjects: []string{"fleet.device.>"},
			subject:  "fleet.device.>",
			want:     []string{"fleet.device.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "fleet.device.>",
			want:     []string{"logs.syslog.*", "fleet.device.>"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, result)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "fleet.device.allocated", "fleet.device.allocated", true},
		{"single wildcard", "fleet.*.allocated", "fleet.device.allocated", true},
		{"greater wildcard", "fleet.>", "fleet.device.allocated", true},
		{"greater wildcard needs a token", "fleet.device.>", "fleet.device", false},
		{"no match length", "fleet.*", "fleet.device.allocated", false},
		{"no match tokens", "logs.syslog.*", "fleet.device.allocated", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, matchesSubject(tc.pattern, tc.subject))
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, isStreamMissingErr(tc.err))
		})
	}
}

func TestSubjectFor(t *testing.T) {
	t.Parallel()

	p := NewEventPublisher(nil, "fleet", "fleet.device.", logger.NewTestLogger())

	assert.Equal(t, "fleet.device.allocated", p.SubjectFor("Allocated"))
	assert.Equal(t, "fleet.device.unknown", p.SubjectFor("UNKNOWN"))
}

func TestPublishDeviceTransitionRejectsNil(t *testing.T) {
	t.Parallel()

	p := NewEventPublisher(nil, "fleet", "fleet.device", logger.NewTestLogger())

	require.ErrorIs(t, p.PublishDeviceTransition(context.Background(), nil), errNilTransition)
}

func TestTLSConfigRequiresMaterial(t *testing.T) {
	t.Parallel()

	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.NATSTLSConfig{CAFile: "/tmp/ca.pem"})
	require.ErrorIs(t, err, ErrMTLSRequired)
}

func TestPublishDeviceTransitionEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	cfg := &models.EventsConfig{
		Enabled:     true,
		NATSURL:     srv.ClientURL(),
		StreamName:  "fleet",
		SubjectRoot: "fleet.device",
	}

	publisher, nc, err := ConnectWithEventPublisher(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	assert.Equal(t, "fleet", publisher.Stream())

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := &models.DeviceTransitionEventData{
		Serial:          "emulator-5554",
		Variant:         "LocalVirtual",
		Event:           "ExplicitAllocateRequest",
		PreviousState:   "Available",
		CurrentState:    "Allocated",
		ConnectionState: "Online",
		Timestamp:       ts,
	}

	require.NoError(t, publisher.PublishDeviceTransition(ctx, data))

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "fleet")
	require.NoError(t, err)

	msg, err := stream.GetLastMsgForSubject(ctx, "fleet.device.allocated")
	require.NoError(t, err)

	var event struct {
		models.CloudEvent
		Data models.DeviceTransitionEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &event))

	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, DeviceTransitionEventType, event.Type)
	assert.Equal(t, "emulator-5554", event.Subject)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "Allocated", event.Data.CurrentState)
	assert.Equal(t, "Available", event.Data.PreviousState)
	assert.True(t, ts.Equal(event.Data.Timestamp))
}

func TestCreateEventPublisherWidensExistingStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "fleet",
		Subjects: []string{"other.events"},
	})
	require.NoError(t, err)

	_, err = CreateEventPublisher(ctx, nc, "fleet", "fleet.device", logger.NewTestLogger())
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "fleet")
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"other.events", "fleet.device.>"}, info.Config.Subjects)
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)

	return srv
}
