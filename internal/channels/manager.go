package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Manager owns the registered channels and throttles outbound sends per
// channel so the pipeline never trips platform flood limits.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Sender
	limiters map[string]*rate.Limiter
	sendRate rate.Limit
	burst    int
}

// NewManager creates an empty channel registry. sendsPerSecond bounds
// outbound delivery per channel; burst allows short multi-part runs.
func NewManager(sendsPerSecond float64, burst int) *Manager {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Manager{
		channels: make(map[string]Sender),
		limiters: make(map[string]*rate.Limiter),
		sendRate: rate.Limit(sendsPerSecond),
		burst:    burst,
	}
}

// Register adds a channel. Registering the same name twice is an error.
func (m *Manager) Register(ch Sender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.limiters[name] = rate.NewLimiter(m.sendRate, m.burst)
	return nil
}

// Get returns the channel by name, or nil when not registered.
func (m *Manager) Get(name string) Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// StartAll starts every registered channel. The first failure aborts and
// stops the channels already started.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var started []Sender
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		slog.Info("channel started", "channel", name)
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every registered channel, logging failures instead of
// aborting so all channels get a shutdown chance.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

// SendText delivers text through the named channel after the per-channel
// rate limiter admits the send.
func (m *Manager) SendText(ctx context.Context, channel, channelUserID, text string) (string, error) {
	ch, limiter, err := m.lookup(channel)
	if err != nil {
		return "", err
	}
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait for %s: %w", channel, err)
	}
	return ch.SendText(ctx, channelUserID, text)
}

// SendMediaBytes uploads binary media through the named channel. Returns an
// error when the channel cannot accept direct uploads.
func (m *Manager) SendMediaBytes(ctx context.Context, channel, channelUserID string, data []byte, mimeType, caption string) (string, error) {
	ch, limiter, err := m.lookup(channel)
	if err != nil {
		return "", err
	}
	bs, ok := ch.(BufferMediaSender)
	if !ok {
		return "", fmt.Errorf("channel %s does not support binary media", channel)
	}
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait for %s: %w", channel, err)
	}
	return bs.SendMediaBytes(ctx, channelUserID, data, mimeType, caption)
}

// SendMediaURL delivers link-based media through the named channel.
func (m *Manager) SendMediaURL(ctx context.Context, channel, channelUserID, mediaURL, mediaType, caption string) (string, error) {
	ch, limiter, err := m.lookup(channel)
	if err != nil {
		return "", err
	}
	us, ok := ch.(URLMediaSender)
	if !ok {
		return "", fmt.Errorf("channel %s does not support URL media", channel)
	}
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait for %s: %w", channel, err)
	}
	return us.SendMediaURL(ctx, channelUserID, mediaURL, mediaType, caption)
}

// SendTyping shows a typing indicator when the channel supports one.
// Best-effort and not rate limited; failures are ignored by callers.
func (m *Manager) SendTyping(ctx context.Context, channel, channelUserID string) error {
	ch, _, err := m.lookup(channel)
	if err != nil {
		return err
	}
	tn, ok := ch.(TypingNotifier)
	if !ok {
		return nil
	}
	return tn.SendTyping(ctx, channelUserID)
}

func (m *Manager) lookup(name string) (Sender, *rate.Limiter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown channel %q", name)
	}
	return ch, m.limiters[name], nil
}
