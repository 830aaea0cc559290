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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/devicefleet/pkg/logger"
	"github.com/carverauto/devicefleet/pkg/models"
)

const (
	// DeviceTransitionEventType is the CloudEvent type of allocation transitions.
	DeviceTransitionEventType = "com.carverauto.devicefleet.device.allocation"

	defaultEventSource = "devicefleet/fleetd"
	cloudEventsVersion = "1.0"
)

var errNilTransition = errors.New("nil device transition")

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js          jetstream.JetStream
	stream      string
	subjectRoot string
	source      string
	logger      logger.Logger
	now         func() time.Time
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName, subjectRoot string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:          js,
		stream:      streamName,
		subjectRoot: strings.TrimSuffix(subjectRoot, "."),
		source:      defaultEventSource,
		logger:      log,
		now:         time.Now,
	}
}

// Stream returns the name of the JetStream stream events land in.
func (p *EventPublisher) Stream() string {
	return p.stream
}

// SubjectFor returns the subject a transition into state is published on.
func (p *EventPublisher) SubjectFor(state string) string {
	return p.subjectRoot + "." + strings.ToLower(state)
}

// PublishDeviceTransition publishes an allocation transition to the events stream.
func (p *EventPublisher) PublishDeviceTransition(ctx context.Context, data *models.DeviceTransitionEventData) error {
	if data == nil {
		return errNilTransition
	}

	now := p.now().UTC()
	if data.Timestamp.IsZero() {
		data.Timestamp = now
	}

	subject := p.SubjectFor(data.CurrentState)

	event := models.CloudEvent{
		SpecVersion:     cloudEventsVersion,
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            DeviceTransitionEventType,
		DataContentType: "application/json",
		Subject:         data.Serial,
		Time:            &now,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device transition event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish device transition to %s: %w", subject, err)
	}

	p.logger.Debug().
		Str("serial", data.Serial).
		Str("subject", subject).
		Str("from", data.PreviousState).
		Str("to", data.CurrentState).
		Msg("Published device transition")

	return nil
}

// ConnectWithEventPublisher creates a NATS connection with JetStream and returns an EventPublisher.
func ConnectWithEventPublisher(
	ctx context.Context, cfg *models.EventsConfig, log logger.Logger, extraOpts ...nats.Option,
) (*EventPublisher, *nats.Conn, error) {
	nc, err := ConnectWithSecurity(cfg.NATSURL, cfg.TLS, log, extraOpts...)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := CreateEventPublisher(ctx, nc, cfg.StreamName, cfg.SubjectRoot, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return publisher, nc, nil
}

// ConnectWithSecurity creates a NATS connection, using mTLS when tlsCfg is set.
func ConnectWithSecurity(natsURL string, tlsCfg *models.NATSTLSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if tlsCfg != nil {
		tlsConf, err := TLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher creates an EventPublisher for an existing NATS connection,
// creating the stream or widening its subjects to cover subjectRoot.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName, subjectRoot string, log logger.Logger) (*EventPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	wanted := strings.TrimSuffix(subjectRoot, ".") + ".>"

	stream, err := js.Stream(ctx, streamName)

	switch {
	case err == nil:
		info, infoErr := stream.Info(ctx)
		if infoErr != nil {
			return nil, fmt.Errorf("failed to read stream %s: %w", streamName, infoErr)
		}

		cfg := info.Config
		subjects := ensureSubjectList(cfg.Subjects, wanted)

		if len(subjects) != len(cfg.Subjects) {
			cfg.Subjects = subjects

			if _, err = js.UpdateStream(ctx, cfg); err != nil {
				return nil, fmt.Errorf("failed to update stream %s: %w", streamName, err)
			}

			log.Info().Str("stream", streamName).Strs("subjects", subjects).Msg("Updated NATS JetStream stream subjects")
		}
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{wanted},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Msg("Created NATS JetStream stream")
	default:
		return nil, fmt.Errorf("failed to look up stream %s: %w", streamName, err)
	}

	return NewEventPublisher(js, streamName, subjectRoot, log), nil
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, existing := range subjects {
		if matchesSubject(existing, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether pattern covers subject using NATS token
// wildcards. A literal ">" in subject is treated as an ordinary token.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}
