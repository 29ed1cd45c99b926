// Package pipeline is the asynchronous conversation-orchestration core: a
// bounded worker pool that consumes analysis jobs, calls the inference
// service, and interprets the result into state transitions, paced replies,
// template dispatch and follow-up scheduling.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicleads/leadflow/internal/analysis"
	"github.com/clinicleads/leadflow/internal/assets"
	"github.com/clinicleads/leadflow/internal/bus"
)

// Messenger is the outbound capability slice of the channel manager the
// pipeline depends on.
type Messenger interface {
	SendText(ctx context.Context, channel, channelUserID, text string) (string, error)
	SendMediaBytes(ctx context.Context, channel, channelUserID string, data []byte, mimeType, caption string) (string, error)
	SendMediaURL(ctx context.Context, channel, channelUserID, mediaURL, mediaType, caption string) (string, error)
	SendTyping(ctx context.Context, channel, channelUserID string) error
}

// Analyzer is the inference-service surface the pipeline consumes.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.AnalyzeRequest) (*analysis.Result, error)
	AnalyzeFollowupTiming(ctx context.Context, req analysis.FollowupTimingRequest) (*analysis.FollowupTiming, error)
	GenerateRejection(ctx context.Context, req analysis.RejectionRequest) (*analysis.Rejection, error)
}

// Queue is the job-queue surface the processor consumes.
type Queue interface {
	Claim(ctx context.Context) (*bus.ClaimedJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, c *bus.ClaimedJob, cause error) error
}

// TemplateAssets resolves reference-photo images by treatment category.
type TemplateAssets interface {
	Binary(category string) (*assets.Asset, error)
	URL(category string) (string, error)
}
