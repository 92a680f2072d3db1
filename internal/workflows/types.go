package workflows

import (
	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/experts"
	"github.com/meridianlabs/pinpoint/internal/models"
)

// Stage names the pipeline state machine positions, for logs and events.
type Stage string

const (
	StageStarted              Stage = "started"
	StageExpertsRunning       Stage = "experts_running"
	StageExpertsFailed        Stage = "experts_failed"
	StageExpertsComplete      Stage = "experts_complete"
	StageAggregating          Stage = "aggregating"
	StageVerifying            Stage = "verifying"
	StageVerificationFailed   Stage = "verification_failed"
	StageVerificationComplete Stage = "verification_complete"
	StageNormalizing          Stage = "normalizing"
	StageDone                 Stage = "done"
)

// AnalyzeInput starts one end-to-end analysis. The pipeline configuration
// travels in the input so a workflow replays against the thresholds it
// started with.
type AnalyzeInput struct {
	RequestID string
	Images    []models.ImagePayload
	Hints     models.LocationHints
	Strategy  experts.Strategy
	Pipeline  config.PipelineConfig
}

// AnalyzeOutput wraps the result with execution facts the caller-side
// service records as metrics. Workflow code itself stays side-effect free.
type AnalyzeOutput struct {
	Result       models.AnalysisResult
	Strategy     experts.Strategy
	UsedFallback bool
	Capability   string
	ExpertsRun   int
	ExpertsOK    int
}

// RefineInput re-examines a previous conclusion against user feedback.
type RefineInput struct {
	RequestID string
	Images    []models.ImagePayload
	Previous  models.AnalysisResult
	Feedback  string
	Hints     models.LocationHints
	Pipeline  config.PipelineConfig
}
