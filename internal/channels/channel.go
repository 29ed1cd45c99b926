// Package channels provides the channel abstraction layer for the intake
// pipeline. A channel connects one chat platform (Telegram, a WhatsApp
// bridge, ...) to the orchestration core: it normalizes inbound payloads
// into bus.NormalizedMessage and delivers outbound text and media.
//
// The pipeline depends only on the narrow sender interfaces below; channels
// depend only on the InboundHandler they are constructed with. Wiring both
// sides happens in cmd, which keeps the packages cycle-free.
package channels

import (
	"context"

	"github.com/clinicleads/leadflow/internal/bus"
)

// InboundHandler receives every normalized inbound message a channel
// produces. In the worker binary this is the intake entry point (lead
// resolution + job enqueue).
type InboundHandler func(ctx context.Context, msg bus.NormalizedMessage) error

// Sender is the minimum capability set every channel implements.
type Sender interface {
	// Name returns the channel identifier (e.g. "telegram", "whatsapp").
	Name() string

	// Start begins listening for inbound messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// SendText delivers a plain text message and returns the platform's
	// external message ID.
	SendText(ctx context.Context, channelUserID, text string) (string, error)
}

// URLMediaSender is implemented by channels that accept link-based media.
type URLMediaSender interface {
	Sender
	SendMediaURL(ctx context.Context, channelUserID, mediaURL, mediaType, caption string) (string, error)
}

// BufferMediaSender is implemented by channels that accept direct binary
// uploads. Preferred over URL media when resolving template images.
type BufferMediaSender interface {
	Sender
	SendMediaBytes(ctx context.Context, channelUserID string, data []byte, mimeType, caption string) (string, error)
}

// TypingNotifier is implemented by channels that can show a typing
// indicator while the delivery pacer waits between message parts.
type TypingNotifier interface {
	SendTyping(ctx context.Context, channelUserID string) error
}
