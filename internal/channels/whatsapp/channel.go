// Package whatsapp connects leads arriving through a WhatsApp bridge to the
// intake pipeline. The bridge (e.g. whatsapp-web.js based) handles the
// actual WhatsApp protocol; this channel exchanges JSON over WebSocket.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinicleads/leadflow/internal/channels"
	"github.com/clinicleads/leadflow/internal/config"
)

// ackTimeout bounds how long a send waits for the bridge to confirm the
// delivered message ID before falling back to the client ref.
const ackTimeout = 10 * time.Second

// Channel is the WhatsApp bridge intake channel.
type Channel struct {
	config  config.WhatsAppConfig
	handler channels.InboundHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan string // ref → delivered message ID

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, handler channels.InboundHandler) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		config:  cfg,
		handler: handler,
		pending: make(map[string]chan string),
	}, nil
}

// Name returns the channel identifier.
func (c *Channel) Name() string { return "whatsapp" }

// Start connects to the bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// The reconnect loop keeps trying; startup does not fail hard.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()
	return nil
}

// Stop gracefully shuts down the channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

// SendText delivers a text message through the bridge and returns the
// delivered WhatsApp message ID (or the client ref if the ack times out).
func (c *Channel) SendText(ctx context.Context, channelUserID, text string) (string, error) {
	return c.sendRequest(ctx, map[string]interface{}{
		"type":    "message",
		"to":      channelUserID,
		"content": text,
	})
}

// SendMediaURL asks the bridge to fetch and deliver link-based media.
func (c *Channel) SendMediaURL(ctx context.Context, channelUserID, mediaURL, mediaType, caption string) (string, error) {
	return c.sendRequest(ctx, map[string]interface{}{
		"type":       "media",
		"to":         channelUserID,
		"media_url":  mediaURL,
		"media_type": mediaType,
		"caption":    caption,
	})
}

// sendRequest writes one JSON frame tagged with a client ref and waits for
// the bridge ack carrying the delivered message ID.
func (c *Channel) sendRequest(ctx context.Context, payload map[string]interface{}) (string, error) {
	ref := uuid.Must(uuid.NewV7()).String()
	payload["ref"] = ref

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp message: %w", err)
	}

	ackCh := make(chan string, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("whatsapp bridge not connected")
	}
	c.pending[ref] = ackCh
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		c.dropPending(ref)
		return "", fmt.Errorf("send whatsapp message: %w", err)
	}

	select {
	case id := <-ackCh:
		c.dropPending(ref)
		if id != "" {
			return id, nil
		}
		return ref, nil
	case <-time.After(ackTimeout):
		c.dropPending(ref)
		slog.Debug("whatsapp ack timeout, using client ref", "ref", ref)
		return ref, nil
	case <-ctx.Done():
		c.dropPending(ref)
		return "", ctx.Err()
	}
}

func (c *Channel) dropPending(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := map[string][]string{}
	if c.config.Token != "" {
		header["Authorization"] = []string{"Bearer " + c.config.Token}
	}

	conn, _, err := dialer.Dial(c.config.BridgeURL, header)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge JSON", "error", err)
			continue
		}

		switch frame.Type {
		case "message":
			c.handleIncoming(frame)
		case "ack":
			c.handleAck(frame)
		default:
			slog.Debug("whatsapp bridge frame skipped", "type", frame.Type)
		}
	}
}

func (c *Channel) handleAck(frame bridgeFrame) {
	c.mu.Lock()
	ackCh, ok := c.pending[frame.Ref]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ackCh <- frame.MessageID:
	default:
	}
}

func (c *Channel) handleIncoming(frame bridgeFrame) {
	normalized := normalize(frame)
	if normalized == nil {
		return
	}
	if err := c.handler(c.ctx, *normalized); err != nil {
		slog.Error("inbound handler failed", "channel", "whatsapp",
			"message_id", normalized.ChannelMessageID, "error", err)
	}
}
