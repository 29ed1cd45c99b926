// Package bus defines the canonical message shapes moving through the intake
// pipeline: normalized inbound chat events and the analysis jobs queued for
// the worker pool.
package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Media types a normalizer may assign to an inbound message.
const (
	MediaText     = "text"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
	MediaLocation = "location"
	MediaSticker  = "sticker"
)

// Location is a geographic point attached to a location message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NormalizedMessage is the channel-agnostic representation of one inbound
// chat event. Produced by a channel normalizer, consumed once by the intake
// entry point; immutable after creation.
type NormalizedMessage struct {
	Channel          string          `json:"channel"`
	ChannelMessageID string          `json:"channel_message_id"`
	ChannelUserID    string          `json:"channel_user_id"`
	SenderName       string          `json:"sender_name,omitempty"`
	SenderLanguage   string          `json:"sender_language,omitempty"`
	Content          string          `json:"content,omitempty"`
	MediaType        string          `json:"media_type"`
	MediaURL         string          `json:"media_url,omitempty"`
	Location         *Location       `json:"location,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
}

// Job types carried on the queue.
const (
	JobTypeAnalyze = "analyze"
)

// DefaultContextWindow is how many recent turns are loaded for analysis when
// the job doesn't specify its own window.
const DefaultContextWindow = 20

// AnalysisJob is one unit of work: analyze one inbound message for one lead.
// Never mutated after enqueue; may be redelivered (at-least-once).
type AnalysisJob struct {
	LeadID         uuid.UUID `json:"lead_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Language       string    `json:"language"`
	ContextWindow  int       `json:"context_window,omitempty"`
	PromptVersion  string    `json:"prompt_version,omitempty"`
	JobType        string    `json:"job_type"`
}

// EffectiveContextWindow returns the job's context window, defaulted.
func (j AnalysisJob) EffectiveContextWindow() int {
	if j.ContextWindow > 0 {
		return j.ContextWindow
	}
	return DefaultContextWindow
}
