// Package events fans session activity out to any number of observers over
// an in-process pub/sub channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/wudi/attachkit/observability"
)

// TopicSession carries every session event.
const TopicSession = "attachment.session"

// Kind discriminates session events.
type Kind string

const (
	KindProgress     Kind = "progress"
	KindProgressDone Kind = "progress-done"
	KindAlert        Kind = "alert"
	KindStaged       Kind = "staged"
	KindCleared      Kind = "cleared"
)

// Event mirrors one UI collaborator call. Text is set for progress, Title
// and Message for alerts, Names for the staged listing. Success alerts carry
// the title "Success".
type Event struct {
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	Names   []string  `json:"names,omitempty"`
	At      time.Time `json:"at"`
}

type options struct {
	logger observability.Logger
}

type Option func(*options)

// WithLogger routes bus diagnostics to l.
func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Bus is an in-process fan-out of session events. Publishing blocks until
// every live subscriber has taken delivery, which keeps events in publish
// order end to end; a stalled observer therefore backpressures the session.
type Bus struct {
	logger observability.Logger
	pubsub *gochannel.GoChannel
}

// NewBus builds a bus with no subscribers. Subscribers registered before an
// operation observe all of its events.
func NewBus(opts ...Option) *Bus {
	o := options{logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{
		logger: o.logger,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            16,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NewStdLogger(false, false),
		),
	}
}

// Publish emits ev on the session topic, stamping At when unset.
func (b *Bus) Publish(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.pubsub.Publish(TopicSession, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe delivers decoded events until ctx ends or the bus closes; the
// returned channel closes when delivery stops. Malformed payloads are acked
// and dropped so they are never retried; an event abandoned because ctx
// ended is nacked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, TopicSession)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("dropping malformed event payload",
					observability.Error("cause", err))
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down. Subscriber channels drain and close.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
