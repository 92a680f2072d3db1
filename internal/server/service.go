// Package server exposes the two caller-facing pipeline operations,
// Analyze and Refine, by running workflows through the Temporal client.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/experts"
	"github.com/meridianlabs/pinpoint/internal/metrics"
	"github.com/meridianlabs/pinpoint/internal/models"
	"github.com/meridianlabs/pinpoint/internal/workflows"
)

// Service runs analysis requests end to end. One instance serves all
// concurrent callers; it holds no per-request state.
type Service struct {
	temporal client.Client
	cfg      config.Config
	strategy experts.Strategy
	logger   *zap.Logger
}

// NewService wires the service with its long-lived dependencies.
func NewService(temporalClient client.Client, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		temporal: temporalClient,
		cfg:      cfg,
		strategy: experts.ParseStrategy(cfg.Pipeline.Strategy),
		logger:   logger,
	}
}

// AnalyzeRequest is the primary end-to-end inference input.
type AnalyzeRequest struct {
	Images []models.ImagePayload
	Hints  models.LocationHints
}

// RefineRequest re-examines a previous result against user feedback.
type RefineRequest struct {
	Images   []models.ImagePayload
	Previous models.AnalysisResult
	Feedback string
	Hints    models.LocationHints
}

// Analyze runs the full pipeline and returns a complete result, possibly
// the low-confidence fallback. It fails only with a PipelineError.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (models.AnalysisResult, error) {
	if err := validateImages(req.Images); err != nil {
		return models.AnalysisResult{}, err
	}

	requestID := uuid.NewString()
	input := workflows.AnalyzeInput{
		RequestID: requestID,
		Images:    req.Images,
		Hints:     req.Hints,
		Strategy:  s.strategy,
		Pipeline:  s.cfg.Pipeline,
	}

	start := time.Now()
	metrics.AnalysesStarted.WithLabelValues("analyze", string(s.strategy)).Inc()

	var out workflows.AnalyzeOutput
	err := s.execute(ctx, "pinpoint-"+requestID, workflows.GeolocateWorkflow, input, &out)
	metrics.AnalysisDuration.WithLabelValues("analyze", string(s.strategy)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysesCompleted.WithLabelValues("analyze", string(s.strategy), "error").Inc()
		s.logger.Error("Analysis failed", zap.String("request_id", requestID), zap.Error(err))
		return models.AnalysisResult{}, err
	}

	s.recordOutcome("analyze", out)
	return out.Result, nil
}

// Refine re-invokes a single verification-style call against the previous
// conclusion and the user's feedback.
func (s *Service) Refine(ctx context.Context, req RefineRequest) (models.AnalysisResult, error) {
	if err := validateImages(req.Images); err != nil {
		return models.AnalysisResult{}, err
	}
	if req.Feedback == "" {
		return models.AnalysisResult{}, pipelineErr(KindBadRequest, "feedback is required", nil)
	}

	requestID := uuid.NewString()
	input := workflows.RefineInput{
		RequestID: requestID,
		Images:    req.Images,
		Previous:  req.Previous,
		Feedback:  req.Feedback,
		Hints:     req.Hints,
		Pipeline:  s.cfg.Pipeline,
	}

	start := time.Now()
	metrics.AnalysesStarted.WithLabelValues("refine", string(s.strategy)).Inc()

	var out workflows.AnalyzeOutput
	err := s.execute(ctx, "pinpoint-refine-"+requestID, workflows.RefineWorkflow, input, &out)
	metrics.AnalysisDuration.WithLabelValues("refine", string(s.strategy)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysesCompleted.WithLabelValues("refine", string(s.strategy), "error").Inc()
		s.logger.Error("Refinement failed", zap.String("request_id", requestID), zap.Error(err))
		return models.AnalysisResult{}, err
	}

	s.recordOutcome("refine", out)
	return out.Result, nil
}

func (s *Service) execute(ctx context.Context, workflowID string, wf interface{}, input interface{}, out *workflows.AnalyzeOutput) error {
	timeout := time.Duration(s.cfg.Service.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	run, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                s.cfg.Service.TaskQueue,
		WorkflowExecutionTimeout: timeout,
	}, wf, input)
	if err != nil {
		var unavailable *serviceerror.Unavailable
		if errors.As(err, &unavailable) {
			return pipelineErr(KindUnavailable, "workflow engine unavailable", err)
		}
		return pipelineErr(KindInternal, fmt.Sprintf("start workflow %s", workflowID), err)
	}
	if err := run.Get(ctx, out); err != nil {
		return fromWorkflowError(err)
	}
	return nil
}

func (s *Service) recordOutcome(operation string, out workflows.AnalyzeOutput) {
	metrics.AnalysesCompleted.WithLabelValues(operation, string(s.strategy), "ok").Inc()
	metrics.ConfidenceScore.Observe(float64(out.Result.ConfidenceScore))
	if out.UsedFallback {
		metrics.VerificationFallbacks.Inc()
	}
	classification := "ambiguous"
	if out.Result.IsDefinitive {
		classification = "definitive"
	}
	metrics.DefinitiveResults.WithLabelValues(classification).Inc()
}

func validateImages(images []models.ImagePayload) error {
	if len(images) == 0 {
		return pipelineErr(KindBadRequest, "at least one image is required", nil)
	}
	if len(images) > models.MaxImagesPerRequest {
		return pipelineErr(KindBadRequest,
			fmt.Sprintf("at most %d images per request", models.MaxImagesPerRequest), nil)
	}
	for i, img := range images {
		if len(img.Data) == 0 {
			return pipelineErr(KindBadRequest, fmt.Sprintf("image %d is empty", i), nil)
		}
		if img.MediaType == "" {
			return pipelineErr(KindBadRequest, fmt.Sprintf("image %d has no media type", i), nil)
		}
	}
	return nil
}
