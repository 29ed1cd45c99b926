package pipeline

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// PartDelimiter separates the parts of a multi-part draft reply.
const PartDelimiter = "|||"

const (
	minPartDelay = 2 * time.Second
	maxPartDelay = 15 * time.Second
)

// SplitParts splits a draft on the part delimiter into trimmed non-empty
// parts. A draft without the delimiter yields one part equal to the whole
// trimmed text; a blank draft yields none.
func SplitParts(draft string) []string {
	var parts []string
	for _, raw := range strings.Split(draft, PartDelimiter) {
		if p := strings.TrimSpace(raw); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// JoinCanonical rejoins parts with a blank line. This is the canonical form
// persisted as the stored outbound message.
func JoinCanonical(parts []string) string {
	return strings.Join(parts, "\n\n")
}

// PartDelay computes the human-paced typing delay before sending the part
// at the given index. The first part goes out immediately; later parts wait
// roughly proportionally to their length, with jitter, clamped to
// [2s, 15s].
func PartDelay(index, charCount int) time.Duration {
	if index == 0 {
		return 0
	}

	base := 1000 + float64(charCount)*50
	// ±20% jitter so paced replies don't look machine-timed.
	base *= 0.8 + rand.Float64()*0.4
	if charCount > 100 {
		base += 2000
	}

	delay := time.Duration(base) * time.Millisecond
	if delay < minPartDelay {
		return minPartDelay
	}
	if delay > maxPartDelay {
		return maxPartDelay
	}
	return delay
}

// Pacer delivers multi-part replies with typing indicators and per-part
// delays. Delays block only the calling job's worker slot.
type Pacer struct {
	messenger Messenger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer sending through messenger.
func NewPacer(messenger Messenger) *Pacer {
	return &Pacer{messenger: messenger, sleep: sleepCtx}
}

// Deliver sends each part in order, pausing before every part after the
// first. A failed part is logged and skipped; remaining parts still go out.
// Returns the external message IDs of the parts that were delivered.
func (p *Pacer) Deliver(ctx context.Context, channel, channelUserID string, parts []string) []string {
	var sentIDs []string
	for i, part := range parts {
		if delay := PartDelay(i, len(part)); delay > 0 {
			if err := p.messenger.SendTyping(ctx, channel, channelUserID); err != nil {
				slog.Debug("typing indicator failed", "channel", channel, "error", err)
			}
			if err := p.sleep(ctx, delay); err != nil {
				slog.Warn("delivery pacing interrupted", "channel", channel, "error", err)
				return sentIDs
			}
		}

		id, err := p.messenger.SendText(ctx, channel, channelUserID, part)
		if err != nil {
			slog.Error("reply part delivery failed",
				"channel", channel, "part", i, "error", err)
			continue
		}
		sentIDs = append(sentIDs, id)
	}
	return sentIDs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
