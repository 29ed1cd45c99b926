// Package analysis wraps the external inference service that classifies
// inbound lead messages and drafts replies. The client is stateless; every
// call is one HTTP request/response with a bounded timeout.
package analysis

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Roles used in the conversation window sent for analysis.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn in the analysis context window.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// LeadContext summarizes what the pipeline already knows about the lead.
type LeadContext struct {
	Status            string            `json:"status"`
	TreatmentCategory string            `json:"treatmentCategory,omitempty"`
	DesireScore       *float64          `json:"desireScore,omitempty"`
	Profile           map[string]string `json:"profile,omitempty"`
	AgentName         string            `json:"agentName,omitempty"`
}

// AnalyzeRequest is the payload for the primary analyze operation.
type AnalyzeRequest struct {
	LeadID         uuid.UUID   `json:"leadId"`
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageID      uuid.UUID   `json:"messageId"`
	Language       string      `json:"language"`
	Messages       []Message   `json:"messages"`
	LeadContext    LeadContext `json:"leadContext"`
	PromptVersion  string      `json:"promptVersion,omitempty"`
}

// Intent is the classified purpose of the inbound message.
type Intent struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DesireScore is the service's purchase-intent estimate.
type DesireScore struct {
	Value   float64  `json:"value"`
	Reasons []string `json:"reasons,omitempty"`
}

// Result is the successful analysis output interpreted by the pipeline.
type Result struct {
	Intent         Intent            `json:"intent"`
	Extraction     map[string]string `json:"extraction,omitempty"`
	DesireScore    *DesireScore      `json:"desireScore,omitempty"`
	ReplyDraft     string            `json:"replyDraft,omitempty"`
	ShouldHandoff  bool              `json:"shouldHandoff"`
	HandoffReason  string            `json:"handoffReason,omitempty"`
	ReadyForDoctor bool              `json:"readyForDoctor,omitempty"`
	AgentName      string            `json:"agentName,omitempty"`
	IsGreeting     bool              `json:"isGreeting,omitempty"`
	Model          string            `json:"model,omitempty"`
	TokensUsed     int               `json:"tokensUsed,omitempty"`
	LatencyMS      int               `json:"latencyMs,omitempty"`
}

// envelope is the wire-level response wrapper for every operation.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// FollowupTimingRequest asks the service when to next nudge a silent lead.
type FollowupTimingRequest struct {
	LeadID      uuid.UUID   `json:"leadId"`
	Language    string      `json:"language"`
	LeadContext LeadContext `json:"leadContext"`
	Attempt     int         `json:"attempt"`
}

// FollowupTiming is the suggested delay before the next follow-up.
type FollowupTiming struct {
	Hours  float64 `json:"hours"`
	Reason string  `json:"reason,omitempty"`
}

// RejectionRequest asks for a polite disqualification message draft.
type RejectionRequest struct {
	LeadID   uuid.UUID `json:"leadId"`
	Language string    `json:"language"`
	Reason   string    `json:"reason,omitempty"`
}

// Rejection is the drafted disqualification reply.
type Rejection struct {
	Message string `json:"message"`
}

// Health is the service self-report returned by the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
}
