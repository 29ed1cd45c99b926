// Package telegram connects leads arriving over the Telegram Bot API to the
// intake pipeline using long polling.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/clinicleads/leadflow/internal/channels"
	"github.com/clinicleads/leadflow/internal/config"
)

// Channel is the Telegram intake channel.
type Channel struct {
	bot        *telego.Bot
	config     config.TelegramConfig
	handler    channels.InboundHandler
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config. Inbound messages are
// normalized and passed to handler.
func New(cfg config.TelegramConfig, handler channels.InboundHandler) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		bot:     bot,
		config:  cfg,
		handler: handler,
	}, nil
}

// Name returns the channel identifier.
func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram channel (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram channel connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message == nil {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				c.handleMessage(pollCtx, update.Message)
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram channel")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram channel stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	normalized, err := c.normalize(ctx, msg)
	if err != nil {
		slog.Warn("failed to normalize telegram message", "message_id", msg.MessageID, "error", err)
		return
	}
	if normalized == nil {
		return
	}
	if err := c.handler(ctx, *normalized); err != nil {
		slog.Error("inbound handler failed", "channel", "telegram",
			"message_id", normalized.ChannelMessageID, "error", err)
	}
}

// SendText delivers a plain text message to a chat.
func (c *Channel) SendText(ctx context.Context, channelUserID, text string) (string, error) {
	chatID, err := parseChatID(channelUserID)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", channelUserID, err)
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendMediaBytes uploads an image from memory with an optional caption.
func (c *Channel) SendMediaBytes(ctx context.Context, channelUserID string, data []byte, mimeType, caption string) (string, error) {
	chatID, err := parseChatID(channelUserID)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", channelUserID, err)
	}
	name := "photo.jpg"
	if mimeType == "image/png" {
		name = "photo.png"
	}
	params := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(data), name)))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	sent, err := c.bot.SendPhoto(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send telegram photo: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendMediaURL delivers link-based media. Telegram fetches the URL itself.
func (c *Channel) SendMediaURL(ctx context.Context, channelUserID, mediaURL, mediaType, caption string) (string, error) {
	chatID, err := parseChatID(channelUserID)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", channelUserID, err)
	}
	params := tu.Photo(tu.ID(chatID), tu.FileFromURL(mediaURL))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	sent, err := c.bot.SendPhoto(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send telegram media: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendTyping shows the typing indicator while the pacer waits.
func (c *Channel) SendTyping(ctx context.Context, channelUserID string) error {
	chatID, err := parseChatID(channelUserID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", channelUserID, err)
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(chatIDStr, 10, 64)
}
