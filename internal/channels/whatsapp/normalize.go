package whatsapp

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/clinicleads/leadflow/internal/bus"
)

// bridgeFrame is one JSON frame exchanged with the bridge.
type bridgeFrame struct {
	Type      string  `json:"type"`
	Ref       string  `json:"ref,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	From      string  `json:"from,omitempty"`
	FromName  string  `json:"from_name,omitempty"`
	ID        string  `json:"id,omitempty"`
	Content   string  `json:"content,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
	MediaURL  string  `json:"media_url,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// normalize converts a bridge message frame into the channel-neutral
// inbound form. Group chats (JIDs ending in "@g.us") and empty frames are
// dropped; intake only handles direct lead conversations.
func normalize(frame bridgeFrame) *bus.NormalizedMessage {
	if frame.From == "" || frame.ID == "" {
		return nil
	}
	if strings.HasSuffix(frame.From, "@g.us") {
		return nil
	}

	mediaType := frame.MediaType
	if mediaType == "" {
		mediaType = bus.MediaText
	}
	if mediaType == bus.MediaText && strings.TrimSpace(frame.Content) == "" {
		return nil
	}

	ts := time.Now()
	if frame.Timestamp > 0 {
		ts = time.Unix(frame.Timestamp, 0)
	}

	n := &bus.NormalizedMessage{
		Channel:          "whatsapp",
		ChannelMessageID: frame.ID,
		ChannelUserID:    frame.From,
		SenderName:       frame.FromName,
		Content:          frame.Content,
		MediaType:        mediaType,
		MediaURL:         frame.MediaURL,
		Timestamp:        ts,
	}

	if mediaType == bus.MediaLocation {
		n.Location = &bus.Location{
			Latitude:  frame.Latitude,
			Longitude: frame.Longitude,
		}
	}

	if raw, err := json.Marshal(frame); err == nil {
		n.RawPayload = raw
	}

	return n
}
