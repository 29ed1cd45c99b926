package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/store"
)

func TestInterpreterTwoPartReplySchedulesFollowup(t *testing.T) {
	lead := testLead()
	in, _, messages, followups, _, _, messenger, _ := newTestHarness(lead)

	result := &analysis.Result{
		Intent:     analysis.Intent{Label: "consultation_request", Confidence: 0.9},
		ReplyDraft: "Sure! ||| What treatment interests you?",
	}

	before := time.Now()
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(messenger.sent) != 2 {
		t.Fatalf("sent %d parts, want 2: %v", len(messenger.sent), messenger.sent)
	}
	if messenger.sent[0] != "Sure!" || messenger.sent[1] != "What treatment interests you?" {
		t.Errorf("parts = %v", messenger.sent)
	}

	aiMessages := messages.bySender(store.SenderAI)
	if len(aiMessages) != 1 {
		t.Fatalf("persisted %d AI messages, want 1", len(aiMessages))
	}
	if aiMessages[0].Content != "Sure!\n\nWhat treatment interests you?" {
		t.Errorf("canonical stored form = %q", aiMessages[0].Content)
	}

	if followups.created != 1 || len(followups.pending) != 1 {
		t.Fatalf("followups created = %d, pending = %d", followups.created, len(followups.pending))
	}
	f := followups.pending[0]
	if f.FollowupType != "reminder" || f.AttemptNumber != 1 {
		t.Errorf("followup = %+v", f)
	}
	wantAt := before.Add(24 * time.Hour)
	if f.ScheduledAt.Before(wantAt.Add(-time.Minute)) || f.ScheduledAt.After(wantAt.Add(time.Minute)) {
		t.Errorf("scheduled_at = %v, want ~%v", f.ScheduledAt, wantAt)
	}
}

func TestInterpreterFollowupCancelsPriorPending(t *testing.T) {
	lead := testLead()
	in, _, _, followups, _, _, _, _ := newTestHarness(lead)
	followups.pending = []store.Followup{{ID: uuid.Must(uuid.NewV7()), LeadID: lead.ID, Status: store.FollowupPending}}

	result := &analysis.Result{ReplyDraft: "Hello"}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(followups.pending) != 1 {
		t.Fatalf("pending followups = %d, want exactly 1", len(followups.pending))
	}
}

func TestInterpreterReadyForDoctor(t *testing.T) {
	lead := testLead()
	lead.Profile = &store.LeadProfile{LeadID: lead.ID, PhotoStatus: "partial"}
	in, leads, _, _, _, notifications, _, _ := newTestHarness(lead)

	result := &analysis.Result{ReadyForDoctor: true, ReplyDraft: "A doctor will review your case."}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if leads.lead.Status != store.StatusReadyForDoctor {
		t.Errorf("status = %s, want ready_for_doctor", leads.lead.Status)
	}
	if !leads.lead.HasTag(store.TagNoPhotos) {
		t.Error("NO_PHOTOS tag missing")
	}
	if len(notifications.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifications.notifications))
	}

	// Replay: the tag must not duplicate.
	replayLead, _ := leads.GetLead(context.Background(), lead.ID)
	if err := in.apply(context.Background(), replayLead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	count := 0
	for _, tag := range leads.lead.Tags {
		if tag == store.TagNoPhotos {
			count++
		}
	}
	if count != 1 {
		t.Errorf("NO_PHOTOS tag count = %d, want 1", count)
	}
}

func TestInterpreterReadyForDoctorCompletePhotosNoTag(t *testing.T) {
	lead := testLead()
	lead.Profile = &store.LeadProfile{LeadID: lead.ID, PhotoStatus: "complete"}
	in, leads, _, _, _, _, _, _ := newTestHarness(lead)

	result := &analysis.Result{ReadyForDoctor: true}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if leads.lead.HasTag(store.TagNoPhotos) {
		t.Error("NO_PHOTOS tag added despite complete photo set")
	}
}

func TestInterpreterHandoffSkipsReplyAndFollowup(t *testing.T) {
	lead := testLead()
	in, leads, _, followups, handoffs, _, messenger, _ := newTestHarness(lead)

	result := &analysis.Result{
		ReplyDraft:    "Let me connect you with a colleague.",
		ShouldHandoff: true,
		HandoffReason: "pricing negotiation",
	}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if leads.lead.Status != store.StatusHandoffHuman {
		t.Errorf("status = %s, want handoff_human", leads.lead.Status)
	}
	if len(handoffs.handoffs) != 1 {
		t.Fatalf("handoffs = %d, want 1", len(handoffs.handoffs))
	}
	if handoffs.handoffs[0].Reason != "pricing negotiation" {
		t.Errorf("handoff reason = %q", handoffs.handoffs[0].Reason)
	}
	if len(messenger.sent) != 0 {
		t.Errorf("reply sent despite handoff: %v", messenger.sent)
	}
	if followups.created != 0 {
		t.Errorf("followup scheduled despite handoff")
	}
}

func TestInterpreterHandedOffLeadStaysSilent(t *testing.T) {
	lead := testLead()
	lead.Status = store.StatusHandoffHuman
	in, _, _, followups, _, _, messenger, _ := newTestHarness(lead)

	result := &analysis.Result{ReplyDraft: "Hello again!"}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(messenger.sent) != 0 {
		t.Errorf("reply sent to handed-off lead: %v", messenger.sent)
	}
	if followups.created != 0 {
		t.Errorf("followup scheduled for handed-off lead")
	}
}

func TestInterpreterExtractionMapping(t *testing.T) {
	lead := testLead()
	in, leads, _, _, _, _, _, _ := newTestHarness(lead)

	result := &analysis.Result{
		Extraction: map[string]string{
			"full_name":          "Maria Lopez",
			"age":                "34",
			"previous_treatment": "yes",
			"treatment_category": "hair_transplant",
			"country":            "ES",
			"favourite_color":    "blue",
		},
		DesireScore: &analysis.DesireScore{Value: 0.8},
		ReplyDraft:  "Thanks Maria!",
	}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	p := leads.lead.Profile
	if p == nil {
		t.Fatal("profile not created")
	}
	if p.FullName != "Maria Lopez" || p.Age != "34" {
		t.Errorf("profile = %+v", p)
	}
	if p.PreviousTreatment == nil || !*p.PreviousTreatment {
		t.Error("previous_treatment 'yes' not normalized to true")
	}
	if p.Extra["favourite_color"] != "blue" {
		t.Errorf("unmapped key not stored in extra: %v", p.Extra)
	}
	if len(p.RawExtraction) == 0 {
		t.Error("raw extraction blob not stored")
	}

	if leads.lead.TreatmentCategory != "hair_transplant" {
		t.Errorf("lead treatment category = %q", leads.lead.TreatmentCategory)
	}
	if leads.lead.Country != "ES" {
		t.Errorf("lead country = %q", leads.lead.Country)
	}
	if leads.lead.DesireScore == nil || *leads.lead.DesireScore != 0.8 {
		t.Error("desire score not written to lead")
	}
}

func TestInterpreterAgentNameCapturedOnGreetingOnly(t *testing.T) {
	lead := testLead()
	in, leads, _, _, _, _, _, _ := newTestHarness(lead)

	noGreeting := &analysis.Result{AgentName: "Elena", ReplyDraft: "Hi"}
	if err := in.apply(context.Background(), lead, noGreeting, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if leads.lead.Profile != nil && leads.lead.Profile.AgentName != "" {
		t.Error("agent name stored without greeting flag")
	}

	greeting := &analysis.Result{AgentName: "Elena", IsGreeting: true, ReplyDraft: "Hi, I'm Elena!"}
	freshLead, _ := leads.GetLead(context.Background(), lead.ID)
	if err := in.apply(context.Background(), freshLead, greeting, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if leads.lead.Profile == nil || leads.lead.Profile.AgentName != "Elena" {
		t.Error("agent name not captured on greeting")
	}

	// A later greeting with a different name must not overwrite.
	second := &analysis.Result{AgentName: "Sofia", IsGreeting: true, ReplyDraft: "Hello!"}
	freshLead, _ = leads.GetLead(context.Background(), lead.ID)
	if err := in.apply(context.Background(), freshLead, second, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if leads.lead.Profile.AgentName != "Elena" {
		t.Errorf("agent name overwritten: %q", leads.lead.Profile.AgentName)
	}
}

func TestInterpreterDisqualifiedUsesRejectionDraft(t *testing.T) {
	lead := testLead()
	in, _, _, _, _, _, messenger, analyzer := newTestHarness(lead)
	analyzer.rejection = &analysis.Rejection{Message: "Unfortunately we cannot help with this request."}

	result := &analysis.Result{Intent: analysis.Intent{Label: IntentDisqualified}}
	if err := in.apply(context.Background(), lead, result, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(messenger.sent) != 1 || messenger.sent[0] != "Unfortunately we cannot help with this request." {
		t.Errorf("rejection not delivered: %v", messenger.sent)
	}
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"yes", true, true},
		{"Yes ", true, true},
		{"no", false, true},
		{"si", true, true},
		{"evet", true, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseYesNo(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseYesNo(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
