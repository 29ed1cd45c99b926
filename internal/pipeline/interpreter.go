package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/store"
)

// IntentDisqualified marks leads the inference service ruled out. The
// interpreter asks the service for a polite rejection draft when the
// analysis did not provide one.
const IntentDisqualified = "disqualified"

// interpreter maps one analysis result into profile deltas, status
// transitions, reply delivery and follow-up scheduling.
type interpreter struct {
	stores    store.Stores
	messenger Messenger
	analyzer  Analyzer
	template  *templatePolicy
	pacer     *Pacer
	scheduler *followupScheduler
}

// apply drives every side effect of a successful analysis. Best-effort
// side effects (tags, notifications, follow-ups) log and swallow their
// errors; only store failures on the primary path propagate.
func (in *interpreter) apply(ctx context.Context, lead *store.Lead, result *analysis.Result, runID uuid.UUID) error {
	// Handed-off conversations still get analyzed and audited, but the AI
	// stops talking until an external actor resets the status.
	if lead.Status == store.StatusHandoffHuman {
		slog.Debug("lead handed off, skipping reply and side effects", "lead_id", lead.ID)
		return nil
	}

	in.captureAgentName(ctx, lead, result)
	in.applyExtraction(ctx, lead, result)

	if result.ReadyForDoctor {
		in.markReadyForDoctor(ctx, lead)
	}

	if result.ShouldHandoff {
		return in.handoff(ctx, lead, result)
	}

	draft := strings.TrimSpace(result.ReplyDraft)
	if draft == "" && result.Intent.Label == IntentDisqualified {
		draft = in.rejectionDraft(ctx, lead, result)
	}

	if draft != "" {
		in.deliver(ctx, lead, draft, runID)
	}

	// Follow-up scheduling runs on every non-handoff turn, even when the
	// template policy suppressed delivery.
	in.scheduler.schedule(ctx, lead)
	return nil
}

// captureAgentName stores the agent name announced with a greeting. The
// profile upsert only fills absent fields, so a name captured earlier wins.
func (in *interpreter) captureAgentName(ctx context.Context, lead *store.Lead, result *analysis.Result) {
	if !result.IsGreeting || result.AgentName == "" {
		return
	}
	if lead.Profile != nil && lead.Profile.AgentName != "" {
		return
	}
	patch := store.ProfilePatch{AgentName: &result.AgentName}
	if err := in.stores.Leads.UpsertProfile(ctx, lead.ID, patch); err != nil {
		slog.Warn("failed to store agent name", "lead_id", lead.ID, "error", err)
	}
}

// extractionFields maps extraction keys the service emits onto typed
// profile columns. Unknown keys land in the profile's extra bag; the raw
// blob is stored verbatim regardless.
var extractionFields = map[string]func(*store.ProfilePatch, string){
	"name":               func(p *store.ProfilePatch, v string) { p.FullName = &v },
	"full_name":          func(p *store.ProfilePatch, v string) { p.FullName = &v },
	"age":                func(p *store.ProfilePatch, v string) { p.Age = &v },
	"city":               func(p *store.ProfilePatch, v string) { p.City = &v },
	"budget":             func(p *store.ProfilePatch, v string) { p.Budget = &v },
	"timeframe":          func(p *store.ProfilePatch, v string) { p.Timeframe = &v },
	"timeline":           func(p *store.ProfilePatch, v string) { p.Timeframe = &v },
	"medical_conditions": func(p *store.ProfilePatch, v string) { p.MedicalConditions = &v },
	"photo_status":       func(p *store.ProfilePatch, v string) { p.PhotoStatus = &v },
	"previous_treatment": func(p *store.ProfilePatch, v string) {
		if b, ok := parseYesNo(v); ok {
			p.PreviousTreatment = &b
		}
	},
}

// leadFields are extraction keys that update the Lead record itself.
var leadFields = map[string]func(*store.LeadUpdate, string){
	"treatment_category": func(u *store.LeadUpdate, v string) { u.TreatmentCategory = &v },
	"language":           func(u *store.LeadUpdate, v string) { u.Language = &v },
	"country":            func(u *store.LeadUpdate, v string) { u.Country = &v },
}

func (in *interpreter) applyExtraction(ctx context.Context, lead *store.Lead, result *analysis.Result) {
	patch := store.ProfilePatch{}
	update := store.LeadUpdate{}

	for key, value := range result.Extraction {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if set, ok := leadFields[key]; ok {
			set(&update, value)
			continue
		}
		if set, ok := extractionFields[key]; ok {
			set(&patch, value)
			continue
		}
		if patch.Extra == nil {
			patch.Extra = make(map[string]string)
		}
		patch.Extra[key] = value
	}

	if len(result.Extraction) > 0 {
		if raw, err := jsonMarshal(result.Extraction); err == nil {
			patch.RawExtraction = raw
		}
	}

	if result.DesireScore != nil {
		update.DesireScore = &result.DesireScore.Value
	}

	if !patch.IsZero() {
		if err := in.stores.Leads.UpsertProfile(ctx, lead.ID, patch); err != nil {
			slog.Warn("failed to upsert profile", "lead_id", lead.ID, "error", err)
		} else {
			syncLocalProfile(lead, patch)
		}
	}

	if update.TreatmentCategory != nil || update.DesireScore != nil ||
		update.Language != nil || update.Country != nil {
		if err := in.stores.Leads.UpdateLead(ctx, lead.ID, update); err != nil {
			slog.Warn("failed to update lead", "lead_id", lead.ID, "error", err)
		} else {
			syncLocalLead(lead, update)
		}
	}
}

// markReadyForDoctor moves the lead forward and alerts operators. The tag
// and notification are best-effort; the status write is the primary effect.
func (in *interpreter) markReadyForDoctor(ctx context.Context, lead *store.Lead) {
	if err := in.stores.Leads.SetStatus(ctx, lead.ID, store.StatusReadyForDoctor); err != nil {
		slog.Error("failed to set ready_for_doctor status", "lead_id", lead.ID, "error", err)
		return
	}
	lead.Status = store.StatusReadyForDoctor

	photoStatus := ""
	if lead.Profile != nil {
		photoStatus = lead.Profile.PhotoStatus
	}
	if photoStatus != "complete" && !lead.HasTag(store.TagNoPhotos) {
		if err := in.stores.Leads.AddTag(ctx, lead.ID, store.TagNoPhotos); err != nil {
			slog.Warn("failed to tag lead", "lead_id", lead.ID, "tag", store.TagNoPhotos, "error", err)
		} else {
			lead.Tags = append(lead.Tags, store.TagNoPhotos)
		}
	}

	notification := &store.Notification{
		ID:     uuid.Must(uuid.NewV7()),
		LeadID: lead.ID,
		Kind:   "doctor_ready",
		Title:  "Lead ready for doctor review",
		Body:   fmt.Sprintf("Lead %s (%s) is ready for doctor review.", lead.ID, lead.Channel),
	}
	if err := in.stores.Notifications.CreateNotification(ctx, notification); err != nil {
		slog.Warn("failed to create doctor-ready notification", "lead_id", lead.ID, "error", err)
	}
}

// handoff transfers the conversation to a human and ends AI involvement.
func (in *interpreter) handoff(ctx context.Context, lead *store.Lead, result *analysis.Result) error {
	if err := in.stores.Leads.SetStatus(ctx, lead.ID, store.StatusHandoffHuman); err != nil {
		return fmt.Errorf("set handoff status: %w", err)
	}

	record := &store.Handoff{
		ID:          uuid.Must(uuid.NewV7()),
		LeadID:      lead.ID,
		Reason:      result.HandoffReason,
		TriggeredBy: "analysis",
	}
	if err := in.stores.Handoffs.CreateHandoff(ctx, record); err != nil {
		slog.Warn("failed to record handoff", "lead_id", lead.ID, "error", err)
	}

	slog.Info("lead handed off to human", "lead_id", lead.ID, "reason", result.HandoffReason)
	return nil
}

// rejectionDraft asks the service for a polite disqualification message.
func (in *interpreter) rejectionDraft(ctx context.Context, lead *store.Lead, result *analysis.Result) string {
	rejection, err := in.analyzer.GenerateRejection(ctx, analysis.RejectionRequest{
		LeadID:   lead.ID,
		Language: lead.Language,
		Reason:   result.Intent.Label,
	})
	if err != nil {
		slog.Warn("failed to generate rejection message", "lead_id", lead.ID, "error", err)
		return ""
	}
	return strings.TrimSpace(rejection.Message)
}

// deliver runs the template policy and, unless it suppressed the turn,
// persists the canonical reply and sends its parts through the pacer.
func (in *interpreter) deliver(ctx context.Context, lead *store.Lead, draft string, runID uuid.UUID) {
	switch in.template.apply(ctx, lead, lead.Language, draft) {
	case templateSent, templateAlreadySent:
		return
	}

	parts := SplitParts(draft)
	if len(parts) == 0 {
		return
	}
	canonical := JoinCanonical(parts)

	outbound := &store.ConversationMessage{
		ID:             uuid.Must(uuid.NewV7()),
		LeadID:         lead.ID,
		ConversationID: lead.ConversationID,
		Direction:      store.DirectionOut,
		SenderType:     store.SenderAI,
		Content:        canonical,
		MediaType:      "text",
		AiRunID:        &runID,
	}
	if err := in.stores.Messages.CreateMessage(ctx, outbound); err != nil {
		slog.Error("failed to persist outbound reply", "lead_id", lead.ID, "error", err)
	}

	sent := in.pacer.Deliver(ctx, lead.Channel, lead.ChannelUserID, parts)
	if len(sent) < len(parts) {
		slog.Warn("reply delivered partially",
			"lead_id", lead.ID, "sent", len(sent), "parts", len(parts))
	}
}

// syncLocalProfile mirrors a successful patch onto the in-memory lead so
// later steps in the same job see what was written.
func syncLocalProfile(lead *store.Lead, patch store.ProfilePatch) {
	if lead.Profile == nil {
		lead.Profile = &store.LeadProfile{LeadID: lead.ID}
	}
	p := lead.Profile
	if patch.FullName != nil {
		p.FullName = *patch.FullName
	}
	if patch.Age != nil {
		p.Age = *patch.Age
	}
	if patch.City != nil {
		p.City = *patch.City
	}
	if patch.Budget != nil {
		p.Budget = *patch.Budget
	}
	if patch.Timeframe != nil {
		p.Timeframe = *patch.Timeframe
	}
	if patch.PreviousTreatment != nil {
		p.PreviousTreatment = patch.PreviousTreatment
	}
	if patch.MedicalConditions != nil {
		p.MedicalConditions = *patch.MedicalConditions
	}
	if patch.PhotoStatus != nil {
		p.PhotoStatus = *patch.PhotoStatus
	}
	if patch.AgentName != nil {
		p.AgentName = *patch.AgentName
	}
	if patch.PhotoTemplateSent != nil {
		p.PhotoTemplateSent = *patch.PhotoTemplateSent
	}
}

func syncLocalLead(lead *store.Lead, update store.LeadUpdate) {
	if update.TreatmentCategory != nil {
		lead.TreatmentCategory = *update.TreatmentCategory
	}
	if update.DesireScore != nil {
		lead.DesireScore = update.DesireScore
	}
	if update.Language != nil {
		lead.Language = *update.Language
	}
	if update.Country != nil {
		lead.Country = *update.Country
	}
}

// parseYesNo normalizes boolean-like extraction strings.
func parseYesNo(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "y", "si", "sí", "da", "evet":
		return true, true
	case "no", "false", "n", "net", "hayır":
		return false, true
	}
	return false, false
}
