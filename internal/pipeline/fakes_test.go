package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/assets"
	"github.com/clinicleads/leadflow/internal/store"
)

// fakeLeadStore keeps one lead in memory and applies patches the way the
// Postgres store does (nil fields leave values intact).
type fakeLeadStore struct {
	mu        sync.Mutex
	lead      *store.Lead
	statusLog []store.LeadStatus
	tagCalls  int
}

func (f *fakeLeadStore) GetLead(_ context.Context, id uuid.UUID) (*store.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lead == nil || f.lead.ID != id {
		return nil, store.ErrLeadNotFound
	}
	copied := *f.lead
	if f.lead.Profile != nil {
		p := *f.lead.Profile
		copied.Profile = &p
	}
	copied.Tags = append([]string(nil), f.lead.Tags...)
	return &copied, nil
}

func (f *fakeLeadStore) GetOrCreateByChannelUser(_ context.Context, channel, channelUserID, language string) (*store.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lead != nil {
		return f.lead, nil
	}
	f.lead = &store.Lead{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: uuid.Must(uuid.NewV7()),
		Channel:        channel,
		ChannelUserID:  channelUserID,
		Status:         store.StatusActive,
		Language:       language,
	}
	return f.lead, nil
}

func (f *fakeLeadStore) UpdateLead(_ context.Context, id uuid.UUID, upd store.LeadUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if upd.TreatmentCategory != nil {
		f.lead.TreatmentCategory = *upd.TreatmentCategory
	}
	if upd.DesireScore != nil {
		f.lead.DesireScore = upd.DesireScore
	}
	if upd.Language != nil {
		f.lead.Language = *upd.Language
	}
	if upd.Country != nil {
		f.lead.Country = *upd.Country
	}
	return nil
}

func (f *fakeLeadStore) SetStatus(_ context.Context, id uuid.UUID, status store.LeadStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lead.Status = status
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakeLeadStore) AddTag(_ context.Context, id uuid.UUID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagCalls++
	for _, t := range f.lead.Tags {
		if t == tag {
			return nil
		}
	}
	f.lead.Tags = append(f.lead.Tags, tag)
	return nil
}

func (f *fakeLeadStore) UpsertProfile(_ context.Context, id uuid.UUID, patch store.ProfilePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lead.Profile == nil {
		f.lead.Profile = &store.LeadProfile{LeadID: id}
	}
	p := f.lead.Profile
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
	if len(patch.Extra) > 0 {
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		for k, v := range patch.Extra {
			p.Extra[k] = v
		}
	}
	if len(patch.RawExtraction) > 0 {
		p.RawExtraction = patch.RawExtraction
	}
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []store.ConversationMessage
}

func (f *fakeMessageStore) RecentMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]store.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ConversationMessage
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, msg *store.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMessageStore) bySender(senderType string) []store.ConversationMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ConversationMessage
	for _, m := range f.messages {
		if m.SenderType == senderType {
			out = append(out, m)
		}
	}
	return out
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs []store.AiRun
}

func (f *fakeRunStore) CreateRun(_ context.Context, run *store.AiRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return nil
}

type fakeFollowupStore struct {
	mu      sync.Mutex
	pending []store.Followup
	created int
}

func (f *fakeFollowupStore) CancelPending(_ context.Context, leadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pending)
	f.pending = nil
	return n, nil
}

func (f *fakeFollowupStore) CreateFollowup(_ context.Context, fl *store.Followup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.pending = append(f.pending, *fl)
	return nil
}

type fakeHandoffStore struct {
	mu       sync.Mutex
	handoffs []store.Handoff
}

func (f *fakeHandoffStore) CreateHandoff(_ context.Context, h *store.Handoff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffs = append(f.handoffs, *h)
	return nil
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications []store.Notification
}

func (f *fakeNotificationStore) CreateNotification(_ context.Context, n *store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, *n)
	return nil
}

type fakeSettingsStore struct {
	cfg *store.FollowupConfig
}

func (f *fakeSettingsStore) FollowupConfig(context.Context) (*store.FollowupConfig, error) {
	return f.cfg, nil
}

type fakeAnalyzer struct {
	result    *analysis.Result
	err       error
	timing    *analysis.FollowupTiming
	rejection *analysis.Rejection
}

func (f *fakeAnalyzer) Analyze(context.Context, analysis.AnalyzeRequest) (*analysis.Result, error) {
	return f.result, f.err
}

func (f *fakeAnalyzer) AnalyzeFollowupTiming(context.Context, analysis.FollowupTimingRequest) (*analysis.FollowupTiming, error) {
	if f.timing == nil {
		return nil, errors.New("timing unavailable")
	}
	return f.timing, nil
}

func (f *fakeAnalyzer) GenerateRejection(context.Context, analysis.RejectionRequest) (*analysis.Rejection, error) {
	if f.rejection == nil {
		return nil, errors.New("rejection unavailable")
	}
	return f.rejection, nil
}

type fakeAssets struct {
	asset *assets.Asset
	url   string
}

func (f *fakeAssets) Binary(string) (*assets.Asset, error) {
	if f.asset == nil {
		return nil, assets.ErrNotFound
	}
	return f.asset, nil
}

func (f *fakeAssets) URL(string) (string, error) {
	if f.url == "" {
		return "", assets.ErrNotFound
	}
	return f.url, nil
}

// newTestHarness builds an interpreter over fakes with pacing disabled.
func newTestHarness(lead *store.Lead) (*interpreter, *fakeLeadStore, *fakeMessageStore, *fakeFollowupStore, *fakeHandoffStore, *fakeNotificationStore, *fakeMessenger, *fakeAnalyzer) {
	leads := &fakeLeadStore{lead: lead}
	messages := &fakeMessageStore{}
	followups := &fakeFollowupStore{}
	handoffs := &fakeHandoffStore{}
	notifications := &fakeNotificationStore{}
	settings := &fakeSettingsStore{}
	messenger := &fakeMessenger{}
	analyzer := &fakeAnalyzer{}

	stores := store.Stores{
		Leads:         leads,
		Messages:      messages,
		Runs:          &fakeRunStore{},
		Followups:     followups,
		Handoffs:      handoffs,
		Notifications: notifications,
		Settings:      settings,
	}

	in := &interpreter{
		stores:    stores,
		messenger: messenger,
		analyzer:  analyzer,
		template: &templatePolicy{
			leads:     leads,
			messages:  messages,
			messenger: messenger,
			assets:    &fakeAssets{},
		},
		pacer: newTestPacer(messenger),
		scheduler: &followupScheduler{
			followups: followups,
			settings:  settings,
			analyzer:  analyzer,
		},
	}
	return in, leads, messages, followups, handoffs, notifications, messenger, analyzer
}

func testLead() *store.Lead {
	return &store.Lead{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: uuid.Must(uuid.NewV7()),
		Channel:        "telegram",
		ChannelUserID:  "100200300",
		Status:         store.StatusActive,
		Language:       "en",
	}
}
