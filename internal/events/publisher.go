// Package events forwards trip session events to downstream collaborators
// (push notifications, emergency contacts) over Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/trip"
)

// DefaultTopic is the Pub/Sub topic trip events are published to.
const DefaultTopic = "trip-events"

// Message is a published trip event.
type Message struct {
	SessionID string
	RiderID   string
	Type      trip.EventType
	At        time.Time

	// Data is the JSON encoding of the event.
	Data []byte
}

// NewMessage encodes ev for publishing.
func NewMessage(ev trip.Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	return Message{
		SessionID: ev.SessionID,
		RiderID:   ev.RiderID,
		Type:      ev.Type,
		At:        ev.At,
		Data:      data,
	}, nil
}

// Publisher delivers trip event messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string

	// Topic defaults to DefaultTopic.
	Topic string

	Logger zerolog.Logger
}

// PubSubPublisher publishes trip events to a Pub/Sub topic, ordered per session.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

var _ Publisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher creates a Pub/Sub publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(topic)
	publisher.EnableMessageOrdering = true

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topic:     topic,
		logger:    cfg.Logger,
	}, nil
}

// Publish sends msg and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) error {
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		OrderingKey: msg.SessionID,
		Attributes: map[string]string{
			"event_type": string(msg.Type),
			"session_id": msg.SessionID,
			"rider_id":   msg.RiderID,
		},
	})

	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses its ordering key until resumed.
		p.publisher.ResumePublish(msg.SessionID)
		return fmt.Errorf("publishing %s to %s: %w", msg.Type, p.topic, err)
	}

	p.logger.Debug().
		Str("message_id", id).
		Str("session_id", msg.SessionID).
		Str("event_type", string(msg.Type)).
		Msg("trip event published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

// LogPublisher writes trip events to the log. It is used when Pub/Sub is not configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

var _ Publisher = LogPublisher{}

// Publish logs msg.
func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Logger.Info().
		Str("session_id", msg.SessionID).
		Str("rider_id", msg.RiderID).
		Str("event_type", string(msg.Type)).
		Time("at", msg.At).
		Msg("trip event")
	return nil
}

// Close is a no-op.
func (LogPublisher) Close() error { return nil }
