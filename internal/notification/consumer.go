package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/ridenote/internal/events"
	"github.com/tphakala/ridenote/internal/logger"
)

const sendTimeout = 30 * time.Second

// Consumer turns batch summaries and failures into notifications.
// Events that need no message are ignored.
type Consumer struct {
	sender Sender
	title  string
	log    logger.Logger
}

// NewConsumer wraps sender for the event bus
func NewConsumer(sender Sender, title string) *Consumer {
	if title == "" {
		title = DefaultTitle
	}
	return &Consumer{
		sender: sender,
		title:  title,
		log:    logger.Global().Module("notification"),
	}
}

// Consume implements events.Consumer
func (c *Consumer) Consume(ev events.Event) error {
	msg := Message(ev)
	if msg == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := c.sender.Send(ctx, c.title, msg); err != nil {
		c.log.Warn("failed to send notification",
			logger.String("event", string(ev.Kind())),
			logger.Error(err))
		return err
	}
	return nil
}

// Message renders the notification text for ev, or "" when ev is not worth a
// message.
func Message(ev events.Event) string {
	switch e := ev.(type) {
	case events.BatchComplete:
		if e.Processed == 0 {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s batch finished: %d processed, %d succeeded", stageName(e.Stage), e.Processed, e.Succeeded)
		if e.Fallback > 0 {
			fmt.Fprintf(&b, ", %d fallback", e.Fallback)
		}
		if e.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", e.Failed)
		}
		if e.Cancelled {
			b.WriteString(" (cancelled)")
		}
		return b.String()
	case events.Published:
		if e.Status != "ERROR" {
			return ""
		}
		return fmt.Sprintf("OSM upload of %s failed: %s", e.FileName, e.Error)
	case events.FinishActivity:
		if e.Error == "" {
			return ""
		}
		return "Capture failed: " + e.Error
	default:
		return ""
	}
}

func stageName(stage string) string {
	switch stage {
	case "transcribe":
		return "Transcription"
	case "osm":
		return "OSM upload"
	case "":
		return "Batch"
	default:
		return stage
	}
}
