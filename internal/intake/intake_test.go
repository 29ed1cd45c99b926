package intake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/bus"
	"github.com/clinicleads/leadflow/internal/store"
)

type fakeLeadStore struct {
	mu    sync.Mutex
	leads map[string]*store.Lead
	calls int
}

func (f *fakeLeadStore) GetLead(context.Context, uuid.UUID) (*store.Lead, error) {
	return nil, store.ErrLeadNotFound
}

func (f *fakeLeadStore) GetOrCreateByChannelUser(_ context.Context, channel, channelUserID, language string) (*store.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := channel + "|" + channelUserID
	if f.leads == nil {
		f.leads = make(map[string]*store.Lead)
	}
	if lead, ok := f.leads[key]; ok {
		return lead, nil
	}
	lead := &store.Lead{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: uuid.Must(uuid.NewV7()),
		Channel:        channel,
		ChannelUserID:  channelUserID,
		Status:         store.StatusActive,
		Language:       language,
	}
	f.leads[key] = lead
	return lead, nil
}

func (f *fakeLeadStore) UpdateLead(context.Context, uuid.UUID, store.LeadUpdate) error { return nil }
func (f *fakeLeadStore) SetStatus(context.Context, uuid.UUID, store.LeadStatus) error  { return nil }
func (f *fakeLeadStore) AddTag(context.Context, uuid.UUID, string) error               { return nil }
func (f *fakeLeadStore) UpsertProfile(context.Context, uuid.UUID, store.ProfilePatch) error {
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []store.ConversationMessage
}

func (f *fakeMessageStore) RecentMessages(context.Context, uuid.UUID, int) ([]store.ConversationMessage, error) {
	return nil, nil
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, msg *store.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *msg)
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []bus.AnalysisJob
}

func (f *fakeQueue) Enqueue(_ context.Context, job bus.AnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func inboundText(id, userID, text string) bus.NormalizedMessage {
	return bus.NormalizedMessage{
		Channel:          "telegram",
		ChannelMessageID: id,
		ChannelUserID:    userID,
		Content:          text,
		MediaType:        bus.MediaText,
		SenderLanguage:   "es",
		Timestamp:        time.Now(),
	}
}

func TestHandleInboundPersistsAndEnqueues(t *testing.T) {
	leads := &fakeLeadStore{}
	messages := &fakeMessageStore{}
	queue := &fakeQueue{}
	in := New(leads, messages, queue, bus.NewDedupeCache(time.Minute, 100), 0, "v3")

	if err := in.HandleInbound(context.Background(), inboundText("msg-1", "user-1", "Hola")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(messages.messages) != 1 {
		t.Fatalf("messages persisted = %d, want 1", len(messages.messages))
	}
	turn := messages.messages[0]
	if turn.Direction != store.DirectionIn || turn.SenderType != store.SenderLead {
		t.Errorf("turn = %+v", turn)
	}
	if turn.ChannelMessageID != "msg-1" {
		t.Errorf("channel message id = %q", turn.ChannelMessageID)
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.MessageID != turn.ID {
		t.Error("job does not reference the persisted turn")
	}
	if job.Language != "es" {
		t.Errorf("job language = %q, want sender language fallback", job.Language)
	}
	if job.ContextWindow != bus.DefaultContextWindow {
		t.Errorf("context window = %d", job.ContextWindow)
	}
	if job.PromptVersion != "v3" || job.JobType != bus.JobTypeAnalyze {
		t.Errorf("job = %+v", job)
	}
}

func TestHandleInboundDropsDuplicates(t *testing.T) {
	leads := &fakeLeadStore{}
	messages := &fakeMessageStore{}
	queue := &fakeQueue{}
	in := New(leads, messages, queue, bus.NewDedupeCache(time.Minute, 100), 20, "")

	msg := inboundText("msg-7", "user-1", "Hello")
	for i := 0; i < 3; i++ {
		if err := in.HandleInbound(context.Background(), msg); err != nil {
			t.Fatalf("HandleInbound #%d: %v", i, err)
		}
	}

	if len(messages.messages) != 1 {
		t.Errorf("duplicate persisted: %d messages", len(messages.messages))
	}
	if len(queue.jobs) != 1 {
		t.Errorf("duplicate enqueued: %d jobs", len(queue.jobs))
	}
}

func TestHandleInboundReusesLeadAcrossMessages(t *testing.T) {
	leads := &fakeLeadStore{}
	messages := &fakeMessageStore{}
	queue := &fakeQueue{}
	in := New(leads, messages, queue, nil, 20, "")

	if err := in.HandleInbound(context.Background(), inboundText("msg-1", "user-1", "Hi")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if err := in.HandleInbound(context.Background(), inboundText("msg-2", "user-1", "Anyone there?")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(leads.leads) != 1 {
		t.Errorf("leads created = %d, want 1", len(leads.leads))
	}
	if len(queue.jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(queue.jobs))
	}
	if queue.jobs[0].LeadID != queue.jobs[1].LeadID {
		t.Error("messages from one user mapped to different leads")
	}
	if queue.jobs[0].ConversationID != queue.jobs[1].ConversationID {
		t.Error("messages from one user mapped to different conversations")
	}
}
