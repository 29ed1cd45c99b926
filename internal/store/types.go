package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the pipeline-visible lead state machine.
// Transitions made by this service are one-directional; HandoffHuman is
// terminal until an external actor (CRM, operator UI) resets it.
type LeadStatus string

const (
	StatusActive         LeadStatus = "active"
	StatusWaitingPhotos  LeadStatus = "waiting_photos"
	StatusReadyForDoctor LeadStatus = "ready_for_doctor"
	StatusHandoffHuman   LeadStatus = "handoff_human"
)

// TagNoPhotos marks a lead that reached doctor review without a complete photo set.
const TagNoPhotos = "NO_PHOTOS"

// Lead is the mutable aggregate for one prospective patient. Each lead owns
// exactly one conversation; ConversationID is assigned at creation.
type Lead struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	Channel           string
	ChannelUserID     string
	Status            LeadStatus
	TreatmentCategory string
	DesireScore       *float64
	Language          string
	Country           string
	Tags              []string
	Profile           *LeadProfile
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasTag reports whether the lead already carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LeadProfile holds extracted intake attributes for a lead. Known attributes
// get typed columns; anything the extractor emits that we don't recognize
// lands in Extra, and the raw extraction blob is kept verbatim for audit.
type LeadProfile struct {
	LeadID            uuid.UUID
	FullName          string
	Age               string
	City              string
	Budget            string
	Timeframe         string
	PreviousTreatment *bool
	MedicalConditions string
	PhotoStatus       string
	AgentName         string
	PhotoTemplateSent bool
	Extra             map[string]string
	RawExtraction     json.RawMessage
	UpdatedAt         time.Time
}

// ProfilePatch is a partial profile update. Nil fields are left untouched,
// so concurrent jobs merge rather than clobber each other's writes.
type ProfilePatch struct {
	FullName          *string
	Age               *string
	City              *string
	Budget            *string
	Timeframe         *string
	PreviousTreatment *bool
	MedicalConditions *string
	PhotoStatus       *string
	AgentName         *string
	PhotoTemplateSent *bool
	Extra             map[string]string
	RawExtraction     json.RawMessage
}

// IsZero reports whether the patch carries no changes at all.
func (p ProfilePatch) IsZero() bool {
	return p.FullName == nil && p.Age == nil && p.City == nil && p.Budget == nil &&
		p.Timeframe == nil && p.PreviousTreatment == nil && p.MedicalConditions == nil &&
		p.PhotoStatus == nil && p.AgentName == nil && p.PhotoTemplateSent == nil &&
		len(p.Extra) == 0 && len(p.RawExtraction) == 0
}

// LeadUpdate is a partial update of the Lead record itself (not the profile).
type LeadUpdate struct {
	TreatmentCategory *string
	DesireScore       *float64
	Language          *string
	Country           *string
}

// MessageDirection distinguishes inbound lead messages from outbound replies.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// Sender types recorded on conversation messages.
const (
	SenderLead   = "lead"
	SenderAI     = "ai"
	SenderSystem = "system"
)

// ConversationMessage is one append-only conversation turn.
type ConversationMessage struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	ConversationID   uuid.UUID
	Direction        MessageDirection
	SenderType       string
	Content          string
	MediaType        string
	MediaURL         string
	ChannelMessageID string
	AiRunID          *uuid.UUID
	CreatedAt        time.Time
}

// AiRun is the append-only audit record of one inference call. Created for
// every job attempt whether the call succeeded or not; duplicating one under
// queue redelivery is harmless.
type AiRun struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	JobType        string
	InputSummary   json.RawMessage
	Output         json.RawMessage
	Model          string
	TokensUsed     int
	LatencyMS      int
	Error          string
	CreatedAt      time.Time
}

// Followup statuses.
const (
	FollowupPending   = "pending"
	FollowupCancelled = "cancelled"
	FollowupSent      = "sent"
)

// Followup is a scheduled future reminder. The scheduler keeps at most one
// pending entry per lead by cancelling prior ones before creating the next.
type Followup struct {
	ID            uuid.UUID
	LeadID        uuid.UUID
	FollowupType  string
	AttemptNumber int
	Status        string
	ScheduledAt   time.Time
	CreatedAt     time.Time
}

// Handoff records transfer of a conversation to a human operator.
type Handoff struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	Reason      string
	TriggeredBy string
	CreatedAt   time.Time
}

// Notification is a best-effort operator alert (e.g. lead ready for doctor).
type Notification struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	Kind      string
	Title     string
	Body      string
	CreatedAt time.Time
}

// FollowupConfig is the operator-tunable follow-up policy.
type FollowupConfig struct {
	IntervalsHours []int `json:"intervals_hours"`
	MaxAttempts    int   `json:"max_attempts"`
	UseAITiming    bool  `json:"use_ai_timing"`
}

// DefaultFollowupConfig is used when no config row exists. Dropping
// scheduling outright on missing config would silently lose leads.
func DefaultFollowupConfig() *FollowupConfig {
	return &FollowupConfig{
		IntervalsHours: []int{24, 72, 168},
		MaxAttempts:    3,
		UseAITiming:    false,
	}
}
