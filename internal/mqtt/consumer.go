package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/events"
)

// envelope is the JSON payload published for every event
type envelope struct {
	Kind  events.Kind  `json:"kind"`
	Node  string       `json:"node,omitempty"`
	Event events.Event `json:"event"`
}

// Consumer forwards bus events to <topic>/<kind>, e.g. ridenote/batch_progress
type Consumer struct {
	client  Client
	prefix  string
	node    string
	timeout time.Duration
	skip    map[events.Kind]bool
}

// NewConsumer creates an events consumer publishing through client.
// Countdown ticks are not forwarded unless includeTicks is set.
func NewConsumer(client Client, cfg Config, includeTicks bool) *Consumer {
	prefix := strings.TrimRight(cfg.Topic, "/")
	if prefix == "" {
		prefix = DefaultTopic
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	c := &Consumer{
		client:  client,
		prefix:  prefix,
		node:    cfg.ClientID,
		timeout: timeout,
		skip:    map[events.Kind]bool{},
	}
	if !includeTicks {
		c.skip[events.KindRecordingTick] = true
	}
	return c
}

// Topic returns the topic an event kind is published to
func (c *Consumer) Topic(kind events.Kind) string {
	return c.prefix + "/" + kind.Topic()
}

// Consume publishes one event
func (c *Consumer) Consume(event events.Event) error {
	if c.skip[event.Kind()] {
		return nil
	}

	payload, err := json.Marshal(envelope{Kind: event.Kind(), Node: c.node, Event: event})
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(event.Kind())).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Publish(ctx, c.Topic(event.Kind()), payload)
}
