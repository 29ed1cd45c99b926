package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/store"
)

// AiRunStore implements store.AiRunStore on Postgres. Rows are append-only.
type AiRunStore struct {
	db *sql.DB
}

func NewAiRunStore(db *sql.DB) *AiRunStore {
	return &AiRunStore{db: db}
}

func (s *AiRunStore) CreateRun(ctx context.Context, run *store.AiRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.Must(uuid.NewV7())
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	var inputSummary, output interface{}
	if len(run.InputSummary) > 0 {
		inputSummary = []byte(run.InputSummary)
	}
	if len(run.Output) > 0 {
		output = []byte(run.Output)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_runs (
		    id, lead_id, conversation_id, message_id, job_type,
		    input_summary, output, model, tokens_used, latency_ms, error, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.LeadID, run.ConversationID, run.MessageID, run.JobType,
		inputSummary, output, nilStr(run.Model), run.TokensUsed, run.LatencyMS,
		nilStr(run.Error), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ai run: %w", err)
	}
	return nil
}
