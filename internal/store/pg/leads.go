package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/clinicleads/leadflow/internal/store"
)

// LeadStore implements store.LeadStore on Postgres.
type LeadStore struct {
	db *sql.DB
}

func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{db: db}
}

func (s *LeadStore) GetLead(ctx context.Context, id uuid.UUID) (*store.Lead, error) {
	var (
		lead              store.Lead
		treatmentCategory *string
		language          *string
		country           *string
		desireScore       *float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, channel, channel_user_id, status, treatment_category,
		        desire_score, language, country, tags, created_at, updated_at
		 FROM leads WHERE id = $1`, id,
	).Scan(&lead.ID, &lead.ConversationID, &lead.Channel, &lead.ChannelUserID, &lead.Status,
		&treatmentCategory, &desireScore, &language, &country,
		pq.Array(&lead.Tags), &lead.CreatedAt, &lead.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}

	lead.TreatmentCategory = derefStr(treatmentCategory)
	lead.Language = derefStr(language)
	lead.Country = derefStr(country)
	lead.DesireScore = desireScore

	profile, err := s.loadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	lead.Profile = profile
	return &lead, nil
}

// GetOrCreateByChannelUser resolves the lead owning a channel identity. The
// insert races benignly with concurrent webhooks; ON CONFLICT falls through
// to the existing row.
func (s *LeadStore) GetOrCreateByChannelUser(ctx context.Context, channel, channelUserID, language string) (*store.Lead, error) {
	now := time.Now()
	id := uuid.Must(uuid.NewV7())
	conversationID := uuid.Must(uuid.NewV7())

	var lang interface{}
	if language != "" {
		lang = language
	}

	var leadID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO leads (id, conversation_id, channel, channel_user_id, status, language, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '{}', $7, $7)
		 ON CONFLICT (channel, channel_user_id) DO UPDATE SET updated_at = $7
		 RETURNING id`,
		id, conversationID, channel, channelUserID, string(store.StatusActive), lang, now,
	).Scan(&leadID)
	if err != nil {
		return nil, fmt.Errorf("get or create lead for %s/%s: %w", channel, channelUserID, err)
	}

	return s.GetLead(ctx, leadID)
}

func (s *LeadStore) loadProfile(ctx context.Context, leadID uuid.UUID) (*store.LeadProfile, error) {
	var (
		p                 store.LeadProfile
		fullName, age     *string
		city, budget      *string
		timeframe         *string
		medicalConditions *string
		photoStatus       *string
		agentName         *string
		previousTreatment *bool
		extraJSON         []byte
		rawExtraction     []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT lead_id, full_name, age, city, budget, timeframe,
		        previous_treatment, medical_conditions, photo_status, agent_name,
		        photo_template_sent, extra, raw_extraction, updated_at
		 FROM lead_profiles WHERE lead_id = $1`, leadID,
	).Scan(&p.LeadID, &fullName, &age, &city, &budget, &timeframe,
		&previousTreatment, &medicalConditions, &photoStatus, &agentName,
		&p.PhotoTemplateSent, &extraJSON, &rawExtraction, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile for lead %s: %w", leadID, err)
	}

	p.FullName = derefStr(fullName)
	p.Age = derefStr(age)
	p.City = derefStr(city)
	p.Budget = derefStr(budget)
	p.Timeframe = derefStr(timeframe)
	p.PreviousTreatment = previousTreatment
	p.MedicalConditions = derefStr(medicalConditions)
	p.PhotoStatus = derefStr(photoStatus)
	p.AgentName = derefStr(agentName)
	if len(extraJSON) > 0 {
		json.Unmarshal(extraJSON, &p.Extra)
	}
	p.RawExtraction = rawExtraction
	return &p, nil
}

func (s *LeadStore) UpdateLead(ctx context.Context, id uuid.UUID, upd store.LeadUpdate) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.TreatmentCategory != nil {
		add("treatment_category", *upd.TreatmentCategory)
	}
	if upd.DesireScore != nil {
		add("desire_score", *upd.DesireScore)
	}
	if upd.Language != nil {
		add("language", *upd.Language)
	}
	if upd.Country != nil {
		add("country", *upd.Country)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	args = append(args, id)
	q := fmt.Sprintf("UPDATE leads SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update lead %s: %w", id, err)
	}
	return nil
}

func (s *LeadStore) SetStatus(ctx context.Context, id uuid.UUID, status store.LeadStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3",
		string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("set lead %s status %s: %w", id, status, err)
	}
	return nil
}

// AddTag appends a tag only when absent. array_append under a NOT-contains
// guard keeps the operation idempotent under queue redelivery.
func (s *LeadStore) AddTag(ctx context.Context, id uuid.UUID, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET tags = array_append(tags, $1), updated_at = $2
		 WHERE id = $3 AND NOT ($1 = ANY(tags))`,
		tag, time.Now(), id)
	if err != nil {
		return fmt.Errorf("tag lead %s with %q: %w", id, tag, err)
	}
	return nil
}

// UpsertProfile merges the patch into the profile row. COALESCE keeps stored
// values for fields the patch leaves nil; Extra merges via jsonb ||.
func (s *LeadStore) UpsertProfile(ctx context.Context, id uuid.UUID, patch store.ProfilePatch) error {
	if patch.IsZero() {
		return nil
	}

	var extraJSON []byte
	if len(patch.Extra) > 0 {
		extraJSON, _ = json.Marshal(patch.Extra)
	} else {
		extraJSON = []byte("{}")
	}
	var rawExtraction interface{}
	if len(patch.RawExtraction) > 0 {
		rawExtraction = []byte(patch.RawExtraction)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_profiles (
		    lead_id, full_name, age, city, budget, timeframe,
		    previous_treatment, medical_conditions, photo_status, agent_name,
		    photo_template_sent, extra, raw_extraction, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, FALSE), $12, $13, $14)
		 ON CONFLICT (lead_id) DO UPDATE SET
		    full_name          = COALESCE($2,  lead_profiles.full_name),
		    age                = COALESCE($3,  lead_profiles.age),
		    city               = COALESCE($4,  lead_profiles.city),
		    budget             = COALESCE($5,  lead_profiles.budget),
		    timeframe          = COALESCE($6,  lead_profiles.timeframe),
		    previous_treatment = COALESCE($7,  lead_profiles.previous_treatment),
		    medical_conditions = COALESCE($8,  lead_profiles.medical_conditions),
		    photo_status       = COALESCE($9,  lead_profiles.photo_status),
		    agent_name         = COALESCE($10, lead_profiles.agent_name),
		    photo_template_sent = COALESCE($11, lead_profiles.photo_template_sent),
		    extra              = lead_profiles.extra || $12,
		    raw_extraction     = COALESCE($13, lead_profiles.raw_extraction),
		    updated_at         = $14`,
		id, patch.FullName, patch.Age, patch.City, patch.Budget, patch.Timeframe,
		patch.PreviousTreatment, patch.MedicalConditions, patch.PhotoStatus, patch.AgentName,
		patch.PhotoTemplateSent, extraJSON, rawExtraction, time.Now())
	if err != nil {
		return fmt.Errorf("upsert profile for lead %s: %w", id, err)
	}
	return nil
}
