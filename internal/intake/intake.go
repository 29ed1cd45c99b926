// Package intake turns normalized inbound channel messages into persisted
// conversation turns and queued analysis jobs.
package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/bus"
	"github.com/clinicleads/leadflow/internal/store"
)

// Queue is the slice of the job queue intake needs.
type Queue interface {
	Enqueue(ctx context.Context, job bus.AnalysisJob) error
}

// Intake wires channels to the store and the analysis queue.
type Intake struct {
	leads         store.LeadStore
	messages      store.MessageStore
	queue         Queue
	dedupe        *bus.DedupeCache
	contextWindow int
	promptVersion string
}

// New creates an intake handler. dedupe may be shared across channels.
func New(leads store.LeadStore, messages store.MessageStore, queue Queue, dedupe *bus.DedupeCache, contextWindow int, promptVersion string) *Intake {
	if contextWindow <= 0 {
		contextWindow = bus.DefaultContextWindow
	}
	return &Intake{
		leads:         leads,
		messages:      messages,
		queue:         queue,
		dedupe:        dedupe,
		contextWindow: contextWindow,
		promptVersion: promptVersion,
	}
}

// HandleInbound processes one normalized inbound message: resolve the lead,
// persist the turn, enqueue analysis. Duplicate deliveries (platform webhook
// retries) are dropped before touching the store.
func (i *Intake) HandleInbound(ctx context.Context, msg bus.NormalizedMessage) error {
	dedupeKey := msg.Channel + "|" + msg.ChannelMessageID
	if i.dedupe != nil && i.dedupe.IsDuplicate(dedupeKey) {
		slog.Debug("duplicate inbound message dropped",
			"channel", msg.Channel, "message_id", msg.ChannelMessageID)
		return nil
	}

	lead, err := i.leads.GetOrCreateByChannelUser(ctx, msg.Channel, msg.ChannelUserID, msg.SenderLanguage)
	if err != nil {
		return fmt.Errorf("resolve lead: %w", err)
	}

	turn := &store.ConversationMessage{
		ID:               uuid.Must(uuid.NewV7()),
		LeadID:           lead.ID,
		ConversationID:   lead.ConversationID,
		Direction:        store.DirectionIn,
		SenderType:       store.SenderLead,
		Content:          msg.Content,
		MediaType:        msg.MediaType,
		MediaURL:         msg.MediaURL,
		ChannelMessageID: msg.ChannelMessageID,
		CreatedAt:        msg.Timestamp,
	}
	if err := i.messages.CreateMessage(ctx, turn); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	language := lead.Language
	if language == "" {
		language = msg.SenderLanguage
	}

	job := bus.AnalysisJob{
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		MessageID:      turn.ID,
		Language:       language,
		ContextWindow:  i.contextWindow,
		PromptVersion:  i.promptVersion,
		JobType:        bus.JobTypeAnalyze,
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue analysis job: %w", err)
	}

	slog.Info("inbound message queued for analysis",
		"lead_id", lead.ID, "channel", msg.Channel, "media_type", msg.MediaType)
	return nil
}
