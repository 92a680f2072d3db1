// Package activities holds the Temporal activities of the geolocation
// pipeline. All outbound reasoning calls happen here; workflow code stays
// deterministic. The reasoning client is injected once at construction
// and shared by every activity execution.
package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/constants"
	"github.com/meridianlabs/pinpoint/internal/decode"
	"github.com/meridianlabs/pinpoint/internal/degrade"
	"github.com/meridianlabs/pinpoint/internal/experts"
	"github.com/meridianlabs/pinpoint/internal/metrics"
	"github.com/meridianlabs/pinpoint/internal/models"
	"github.com/meridianlabs/pinpoint/internal/reasoning"
	"github.com/meridianlabs/pinpoint/internal/verify"
)

// Activities bundles the pipeline's activity implementations with their
// shared dependencies.
type Activities struct {
	client     reasoning.Client
	cfg        config.PipelineConfig
	decoder    *decode.Decoder
	engine     *verify.Engine
	controller *degrade.Controller
	logger     *zap.Logger
}

// New wires the activity set. client must be safe for concurrent use.
func New(client reasoning.Client, cfg config.PipelineConfig, logger *zap.Logger) *Activities {
	return &Activities{
		client:     client,
		cfg:        cfg,
		decoder:    decode.New(cfg),
		engine:     verify.NewEngine(cfg),
		controller: degrade.NewController(client, logger),
		logger:     logger,
	}
}

// ExpertInput is one expert call: same images and hints for every panel
// member, differing only in the expert persona.
type ExpertInput struct {
	Expert   experts.Expert
	Strategy experts.Strategy
	Images   []models.ImagePayload
	Hints    models.LocationHints
}

// RegionExpertResult carries the region-consensus expert flavor.
type RegionExpertResult struct {
	Analysis models.ExpertAnalysis
}

// ClueExpertResult carries the clue-focused expert flavor.
type ClueExpertResult struct {
	Output models.ClueExpertOutput
}

// RunRegionExpert executes one tool-free expert pass and decodes its
// region votes. Failures are typed; the workflow absorbs them unless the
// whole panel fails.
func (a *Activities) RunRegionExpert(ctx context.Context, in ExpertInput) (RegionExpertResult, error) {
	text, err := a.runExpertCall(ctx, in)
	if err != nil {
		return RegionExpertResult{}, err
	}
	analysis, err := a.decoder.ExpertAnalysis(in.Expert.ID, text)
	if err != nil {
		metrics.ExpertExecutions.WithLabelValues(in.Expert.ID, "malformed").Inc()
		return RegionExpertResult{}, asApplicationError(err)
	}
	metrics.ExpertExecutions.WithLabelValues(in.Expert.ID, "ok").Inc()
	return RegionExpertResult{Analysis: analysis}, nil
}

// RunClueExpert executes one tool-free expert pass and decodes its
// searchable clues.
func (a *Activities) RunClueExpert(ctx context.Context, in ExpertInput) (ClueExpertResult, error) {
	text, err := a.runExpertCall(ctx, in)
	if err != nil {
		return ClueExpertResult{}, err
	}
	output, err := a.decoder.ClueOutput(in.Expert.ID, text)
	if err != nil {
		metrics.ExpertExecutions.WithLabelValues(in.Expert.ID, "malformed").Inc()
		return ClueExpertResult{}, asApplicationError(err)
	}
	metrics.ExpertExecutions.WithLabelValues(in.Expert.ID, "ok").Inc()
	return ClueExpertResult{Output: output}, nil
}

func (a *Activities) runExpertCall(ctx context.Context, in ExpertInput) (string, error) {
	start := time.Now()
	resp, err := a.client.Invoke(ctx, reasoning.Request{
		Images:      in.Images,
		Instruction: in.Expert.Instruction(in.Strategy),
		Prompt:      in.Expert.Prompt(in.Hints, in.Strategy),
		// Experts are deliberately tool-free: their job is observation,
		// not research.
	})
	metrics.ExpertDuration.WithLabelValues(in.Expert.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExpertExecutions.WithLabelValues(in.Expert.ID, "error").Inc()
		a.logger.Warn("Expert call failed",
			zap.String("expert", in.Expert.ID),
			zap.Error(err),
		)
		return "", asApplicationError(err)
	}
	return resp.Text, nil
}

// VerifyInput is the single tool-augmented verification call.
type VerifyInput struct {
	Images []models.ImagePayload
	Clues  models.AggregatedClues
	Hints  models.LocationHints
}

// VerifyResult is the decoded verification outcome plus the capability
// level the answer was obtained at.
type VerifyResult struct {
	Result     models.AnalysisResult
	Capability string
}

// VerifyLocation runs the verification call through the retry/fallback
// controller and decodes the answer. An exhausted chain or undecodable
// answer comes back as a typed application error; the workflow turns it
// into the clue-only fallback result.
func (a *Activities) VerifyLocation(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	req := a.engine.BuildRequest(in.Images, in.Clues, in.Hints)
	resp, capability, err := a.controller.Run(ctx, req)
	if err != nil {
		return VerifyResult{}, asApplicationError(err)
	}
	result, err := a.engine.Decode(resp, in.Clues)
	if err != nil {
		return VerifyResult{}, asApplicationError(err)
	}
	a.logger.Info("Verification complete",
		zap.String("location", result.LocationName),
		zap.Int("confidence", result.ConfidenceScore),
		zap.String("capability", string(capability)),
	)
	return VerifyResult{Result: result, Capability: string(capability)}, nil
}

// RefineInput re-examines a previous conclusion against user feedback.
type RefineInput struct {
	Images   []models.ImagePayload
	Previous models.AnalysisResult
	Feedback string
	Hints    models.LocationHints
}

// RefineLocation issues the feedback-driven verification-style call. It
// uses the same decoder as VerifyLocation; cue backfill comes from the
// previous result since no fresh expert pass runs.
func (a *Activities) RefineLocation(ctx context.Context, in RefineInput) (VerifyResult, error) {
	req := a.engine.BuildRefineRequest(in.Images, in.Previous, in.Feedback, in.Hints)
	resp, capability, err := a.controller.Run(ctx, req)
	if err != nil {
		return VerifyResult{}, asApplicationError(err)
	}
	agg := models.AggregatedClues{
		TranscribedText:  in.Previous.VisualCues.Signs,
		Infrastructure:   in.Previous.VisualCues.Architecture,
		Nature:           in.Previous.VisualCues.Environment,
		SuggestedQueries: in.Previous.SearchQueriesUsed,
	}
	result, err := a.engine.Decode(resp, agg)
	if err != nil {
		return VerifyResult{}, asApplicationError(err)
	}
	return VerifyResult{Result: result, Capability: string(capability)}, nil
}

// asApplicationError maps pipeline errors onto the closed set of
// application error types crossing the activity boundary. Everything is
// non-retryable from Temporal's point of view: retry policy, where one
// exists, already ran inside the controller.
func asApplicationError(err error) error {
	var verr *degrade.VerificationFailedError
	var rej *reasoning.ToolInputRejectedError
	switch {
	case errors.As(err, &verr):
		return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrTypeVerificationFailed, err)
	case errors.As(err, &rej):
		return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrTypeToolInputRejected, err)
	case errors.Is(err, reasoning.ErrEmptyResponse):
		return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrTypeEmptyResponse, err)
	case errors.Is(err, reasoning.ErrServiceUnavailable):
		return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrTypeServiceUnavailable, err)
	case errors.Is(err, decode.ErrMalformedOutput):
		return temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrTypeMalformedOutput, err)
	default:
		return err
	}
}
