package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/meridianlabs/pinpoint/internal/activities"
	"github.com/meridianlabs/pinpoint/internal/aggregate"
	"github.com/meridianlabs/pinpoint/internal/consensus"
	"github.com/meridianlabs/pinpoint/internal/constants"
	"github.com/meridianlabs/pinpoint/internal/experts"
	"github.com/meridianlabs/pinpoint/internal/models"
	"github.com/meridianlabs/pinpoint/internal/verify"
)

// GeolocateWorkflow is the pipeline orchestrator: expert fan-out, clue
// aggregation, consensus scoring, tool-augmented verification, and final
// normalization. Per request: experts run once, aggregation runs exactly
// once after all experts settle, verification runs exactly once after
// aggregation, and normalization happens exactly once on the verification
// outcome, success or fallback.
func GeolocateWorkflow(ctx workflow.Context, input AnalyzeInput) (AnalyzeOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Pipeline stage", "stage", StageStarted, "request_id", input.RequestID)

	if len(input.Images) == 0 {
		return AnalyzeOutput{}, errors.New("no images in request")
	}

	panel, err := experts.Panel()
	if err != nil {
		return AnalyzeOutput{}, err
	}

	// Expert fan-out: all panel members start before any result is
	// collected, and collection waits for every one to settle (join-all,
	// never wait-first). A failing expert is dropped, not escalated.
	logger.Info("Pipeline stage", "stage", StageExpertsRunning, "experts", len(panel))
	expertCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: expertTimeout(input.Pipeline.ExpertTimeoutSeconds),
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	expertActivity := constants.RunRegionExpertActivity
	if input.Strategy == experts.StrategyClueFocused {
		expertActivity = constants.RunClueExpertActivity
	}

	futures := make([]workflow.Future, len(panel))
	for i, expert := range panel {
		futures[i] = workflow.ExecuteActivity(expertCtx, expertActivity, activities.ExpertInput{
			Expert:   expert,
			Strategy: input.Strategy,
			Images:   input.Images,
			Hints:    input.Hints,
		})
	}

	// Collect in panel order so aggregation stays deterministic for a
	// fixed set of outcomes.
	var analyses []models.ExpertAnalysis
	var clueOutputs []models.ClueExpertOutput
	for i, future := range futures {
		if input.Strategy == experts.StrategyClueFocused {
			var res activities.ClueExpertResult
			if err := future.Get(ctx, &res); err != nil {
				logger.Warn("Expert dropped", "expert", panel[i].ID, "error", err)
				continue
			}
			clueOutputs = append(clueOutputs, res.Output)
		} else {
			var res activities.RegionExpertResult
			if err := future.Get(ctx, &res); err != nil {
				logger.Warn("Expert dropped", "expert", panel[i].ID, "error", err)
				continue
			}
			analyses = append(analyses, res.Analysis)
		}
	}

	survivors := len(analyses) + len(clueOutputs)
	if survivors == 0 {
		logger.Error("Pipeline stage", "stage", StageExpertsFailed)
		return AnalyzeOutput{}, temporal.NewNonRetryableApplicationError(
			experts.ErrAllExpertsFailed.Error(), constants.ErrTypeAllExpertsFailed, experts.ErrAllExpertsFailed)
	}
	logger.Info("Pipeline stage", "stage", StageExpertsComplete, "survivors", survivors)

	// Aggregation and consensus are deterministic pure functions over the
	// collected outputs, so they run inline in the workflow.
	logger.Info("Pipeline stage", "stage", StageAggregating)
	agg := aggregate.New(input.Pipeline)
	var clues models.AggregatedClues
	var cons consensus.ExpertConsensus
	if input.Strategy == experts.StrategyClueFocused {
		clues = agg.MergeClueOutputs(clueOutputs)
	} else {
		clues = agg.MergeAnalyses(analyses)
		cons = consensus.NewBuilder(input.Pipeline).Build(analyses)
	}

	logger.Info("Pipeline stage", "stage", StageVerifying)
	verifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: expertTimeout(input.Pipeline.VerifyTimeoutSeconds),
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	output := AnalyzeOutput{
		Strategy:   input.Strategy,
		ExpertsRun: len(panel),
		ExpertsOK:  survivors,
	}

	var verified activities.VerifyResult
	verifyErr := workflow.ExecuteActivity(verifyCtx, constants.VerifyLocationActivity, activities.VerifyInput{
		Images: input.Images,
		Clues:  clues,
		Hints:  input.Hints,
	}).Get(ctx, &verified)

	if verifyErr != nil {
		// Unrecoverable verification still yields a degraded but complete
		// result; only total expert failure errors out of the pipeline.
		logger.Warn("Pipeline stage", "stage", StageVerificationFailed,
			"error_type", applicationErrorType(verifyErr))
		output.Result = verify.NewEngine(input.Pipeline).FallbackResult(clues)
		output.UsedFallback = true
	} else {
		logger.Info("Pipeline stage", "stage", StageVerificationComplete,
			"location", verified.Result.LocationName)
		output.Result = verified.Result
		output.Capability = verified.Capability
	}

	logger.Info("Pipeline stage", "stage", StageNormalizing)
	output.Result = normalizeResult(output.Result, cons, input.Strategy, input.Pipeline.MaxCandidates)

	logger.Info("Pipeline stage", "stage", StageDone,
		"definitive", output.Result.IsDefinitive,
		"confidence", output.Result.ConfidenceScore)
	return output, nil
}

// RefineWorkflow re-runs a single verification-style call instructed to
// critically re-examine the previous conclusion against user feedback.
func RefineWorkflow(ctx workflow.Context, input RefineInput) (AnalyzeOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Refinement started", "request_id", input.RequestID,
		"previous", input.Previous.LocationName)

	refineCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: expertTimeout(input.Pipeline.VerifyTimeoutSeconds),
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var refined activities.VerifyResult
	err := workflow.ExecuteActivity(refineCtx, constants.RefineLocationActivity, activities.RefineInput{
		Images:   input.Images,
		Previous: input.Previous,
		Feedback: input.Feedback,
		Hints:    input.Hints,
	}).Get(ctx, &refined)
	if err != nil {
		return AnalyzeOutput{}, err
	}

	result := normalizeResult(refined.Result, consensus.ExpertConsensus{},
		experts.StrategyClueFocused, input.Pipeline.MaxCandidates)
	logger.Info("Refinement complete", "location", result.LocationName)
	return AnalyzeOutput{Result: result, Capability: refined.Capability}, nil
}

// normalizeResult enforces the output invariants: all scores clamped to
// [0,100], candidates present only on ambiguous results and capped, and —
// under the region-consensus strategy — an ambiguous consensus overrides
// the verifier's single answer with the ranked candidate set.
func normalizeResult(result models.AnalysisResult, cons consensus.ExpertConsensus, strategy experts.Strategy, maxCandidates int) models.AnalysisResult {
	if maxCandidates <= 0 || maxCandidates > 3 {
		maxCandidates = 3
	}

	if strategy == experts.StrategyRegionConsensus && !cons.IsDefinitive && len(cons.Candidates) > 0 {
		result.IsDefinitive = false
		result.Candidates = cons.Candidates
		for _, region := range cons.Conflicts {
			result.Uncertainties = append(result.Uncertainties,
				"Experts disagree about "+region+".")
		}
	}

	result.ConfidenceScore = models.ClampScore(result.ConfidenceScore)
	result.Confidence.Region = models.ClampScore(result.Confidence.Region)
	result.Confidence.Local = models.ClampScore(result.Confidence.Local)
	if result.Confidence.Local > result.Confidence.Region {
		result.Confidence.Local = result.Confidence.Region
	}

	if result.IsDefinitive {
		result.Candidates = nil
	} else if len(result.Candidates) > maxCandidates {
		result.Candidates = result.Candidates[:maxCandidates]
	}
	for i := range result.Candidates {
		result.Candidates[i].Probability = models.ClampScore(result.Candidates[i].Probability)
	}
	return result
}

func expertTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func applicationErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return "unknown"
}
