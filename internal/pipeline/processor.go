package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/bus"
	"github.com/clinicleads/leadflow/internal/store"
	"github.com/clinicleads/leadflow/internal/telemetry"
)

const (
	// analysisTimeout bounds one inference call within a job.
	analysisTimeout = 30 * time.Second

	defaultClaimInterval = time.Second
)

// Processor runs the bounded worker pool consuming analysis jobs. Each
// slot claims one job at a time and runs it to completion, including its
// own pacing sleeps, before claiming the next.
type Processor struct {
	stores        store.Stores
	queue         Queue
	analyzer      Analyzer
	interpreter   *interpreter
	workers       int
	claimInterval time.Duration
}

// ProcessorOption customizes the processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the worker pool size (default 5).
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClaimInterval sets the idle poll interval (default 1s).
func WithClaimInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.claimInterval = d
		}
	}
}

// NewProcessor wires the pipeline around its collaborators.
func NewProcessor(stores store.Stores, queue Queue, analyzer Analyzer, messenger Messenger, templateAssets TemplateAssets, opts ...ProcessorOption) *Processor {
	p := &Processor{
		stores:        stores,
		queue:         queue,
		analyzer:      analyzer,
		workers:       5,
		claimInterval: defaultClaimInterval,
	}
	p.interpreter = &interpreter{
		stores:    stores,
		messenger: messenger,
		analyzer:  analyzer,
		template: &templatePolicy{
			leads:     stores.Leads,
			messages:  stores.Messages,
			messenger: messenger,
			assets:    templateAssets,
		},
		pacer: NewPacer(messenger),
		scheduler: &followupScheduler{
			followups: stores.Followups,
			settings:  stores.Settings,
			analyzer:  analyzer,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run blocks until ctx is cancelled, keeping the worker pool claiming jobs.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("job processor starting", "workers", p.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		slot := i
		g.Go(func() error {
			return p.workerLoop(gctx, slot)
		})
	}

	err := g.Wait()
	slog.Info("job processor stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) workerLoop(ctx context.Context, slot int) error {
	for {
		claimed, err := p.queue.Claim(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrQueueEmpty) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.claimInterval):
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("job claim failed", "slot", slot, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.claimInterval):
			}
			continue
		}

		p.runJob(ctx, slot, claimed)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runJob executes one claimed job and settles it with the queue.
func (p *Processor) runJob(ctx context.Context, slot int, claimed *bus.ClaimedJob) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.job")
	span.SetAttributes(
		attribute.String("job.id", claimed.ID.String()),
		attribute.String("lead.id", claimed.Job.LeadID.String()),
		attribute.Int("job.attempt", claimed.Attempt),
	)
	defer span.End()

	start := time.Now()
	err := p.processJob(ctx, claimed.Job)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("analysis job failed",
			"slot", slot, "job_id", claimed.ID, "lead_id", claimed.Job.LeadID,
			"attempt", claimed.Attempt, "error", err)
		if failErr := p.queue.Fail(ctx, claimed, err); failErr != nil {
			slog.Error("failed to settle failed job", "job_id", claimed.ID, "error", failErr)
		}
		return
	}

	if completeErr := p.queue.Complete(ctx, claimed.ID); completeErr != nil {
		slog.Error("failed to complete job", "job_id", claimed.ID, "error", completeErr)
		return
	}
	slog.Debug("analysis job completed",
		"slot", slot, "job_id", claimed.ID, "lead_id", claimed.Job.LeadID,
		"duration", time.Since(start))
}

// processJob is the per-job pipeline: load context, analyze, audit,
// interpret. A missing lead propagates (queue retries); an analysis error
// still writes the AiRun and completes the job without advancing state.
func (p *Processor) processJob(ctx context.Context, job bus.AnalysisJob) error {
	lead, err := p.stores.Leads.GetLead(ctx, job.LeadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	history, err := p.stores.Messages.RecentMessages(ctx, job.ConversationID, job.EffectiveContextWindow())
	if err != nil {
		return fmt.Errorf("load conversation history: %w", err)
	}

	req := analysis.AnalyzeRequest{
		LeadID:         job.LeadID,
		ConversationID: job.ConversationID,
		MessageID:      job.MessageID,
		Language:       job.Language,
		Messages:       toAnalysisMessages(history),
		LeadContext:    leadContext(lead),
		PromptVersion:  job.PromptVersion,
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, analysisTimeout)
	start := time.Now()
	result, analyzeErr := p.analyzer.Analyze(analyzeCtx, req)
	cancel()
	latency := time.Since(start)

	runID := p.recordRun(ctx, job, req, result, analyzeErr, latency)

	if analyzeErr != nil {
		// The run is audited; the conversation does not advance this turn.
		slog.Warn("analysis call failed",
			"lead_id", job.LeadID, "latency", latency, "error", analyzeErr)
		return nil
	}

	return p.interpreter.apply(ctx, lead, result, runID)
}

// recordRun writes the append-only inference audit record. Never fails the
// job; a duplicate under redelivery is harmless.
func (p *Processor) recordRun(ctx context.Context, job bus.AnalysisJob, req analysis.AnalyzeRequest, result *analysis.Result, analyzeErr error, latency time.Duration) uuid.UUID {
	run := &store.AiRun{
		ID:             uuid.Must(uuid.NewV7()),
		LeadID:         job.LeadID,
		ConversationID: job.ConversationID,
		MessageID:      job.MessageID,
		JobType:        job.JobType,
		LatencyMS:      int(latency.Milliseconds()),
	}

	summary := map[string]interface{}{
		"message_count":  len(req.Messages),
		"language":       req.Language,
		"prompt_version": req.PromptVersion,
		"lead_status":    req.LeadContext.Status,
	}
	if raw, err := jsonMarshal(summary); err == nil {
		run.InputSummary = raw
	}

	if result != nil {
		if raw, err := jsonMarshal(result); err == nil {
			run.Output = raw
		}
		run.Model = result.Model
		run.TokensUsed = result.TokensUsed
	}
	if analyzeErr != nil {
		run.Error = analyzeErr.Error()
	}

	if err := p.stores.Runs.CreateRun(ctx, run); err != nil {
		slog.Error("failed to record ai run", "lead_id", job.LeadID, "error", err)
	}
	return run.ID
}

// toAnalysisMessages maps stored turns to analysis roles. Media without
// text becomes a bracketed placeholder so the model knows something
// arrived.
func toAnalysisMessages(history []store.ConversationMessage) []analysis.Message {
	msgs := make([]analysis.Message, 0, len(history))
	for _, m := range history {
		role := analysis.RoleAssistant
		if m.Direction == store.DirectionIn {
			role = analysis.RoleUser
		}
		content := m.Content
		if content == "" {
			content = mediaPlaceholder(m.MediaType)
		}
		msgs = append(msgs, analysis.Message{
			Role:      role,
			Content:   content,
			Timestamp: m.CreatedAt.Unix(),
		})
	}
	return msgs
}

func mediaPlaceholder(mediaType string) string {
	switch mediaType {
	case bus.MediaImage:
		return "[User sent a photo]"
	case bus.MediaVideo:
		return "[User sent a video]"
	case bus.MediaAudio:
		return "[User sent a voice message]"
	case bus.MediaDocument:
		return "[User sent a document]"
	case bus.MediaLocation:
		return "[User shared a location]"
	case bus.MediaSticker:
		return "[User sent a sticker]"
	default:
		return "[User sent an attachment]"
	}
}

// leadContext summarizes the lead for the inference service.
func leadContext(lead *store.Lead) analysis.LeadContext {
	ctx := analysis.LeadContext{
		Status:            string(lead.Status),
		TreatmentCategory: lead.TreatmentCategory,
		DesireScore:       lead.DesireScore,
	}
	if lead.Profile == nil {
		return ctx
	}

	p := lead.Profile
	ctx.AgentName = p.AgentName

	profile := make(map[string]string)
	addIf := func(key, value string) {
		if value != "" {
			profile[key] = value
		}
	}
	addIf("full_name", p.FullName)
	addIf("age", p.Age)
	addIf("city", p.City)
	addIf("budget", p.Budget)
	addIf("timeframe", p.Timeframe)
	addIf("medical_conditions", p.MedicalConditions)
	addIf("photo_status", p.PhotoStatus)
	if p.PreviousTreatment != nil {
		profile["previous_treatment"] = strconv.FormatBool(*p.PreviousTreatment)
	}
	for k, v := range p.Extra {
		if _, exists := profile[k]; !exists {
			profile[k] = v
		}
	}
	if len(profile) > 0 {
		ctx.Profile = profile
	}
	return ctx
}

func jsonMarshal(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
