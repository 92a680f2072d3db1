package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/meridianlabs/pinpoint/internal/activities"
	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/constants"
	"github.com/meridianlabs/pinpoint/internal/experts"
	"github.com/meridianlabs/pinpoint/internal/models"
)

func analyzeInput(strategy experts.Strategy) AnalyzeInput {
	return AnalyzeInput{
		RequestID: "test-request",
		Images:    []models.ImagePayload{{Data: []byte{0x1, 0x2}, MediaType: "image/jpeg"}},
		Strategy:  strategy,
		Pipeline:  config.Defaults().Pipeline,
	}
}

func japanAnalysis(expertID string) models.ExpertAnalysis {
	return models.ExpertAnalysis{
		ExpertType:   expertID,
		Observations: []string{"kanji signage", "left-hand traffic"},
		PossibleRegions: []models.RegionAssessment{
			{Region: "Japan", Confidence: 90, Reasoning: "script and traffic direction"},
		},
	}
}

func registerRegionExperts(env *testsuite.TestWorkflowEnvironment, fn func(activities.ExpertInput) (activities.RegionExpertResult, error)) {
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ExpertInput) (activities.RegionExpertResult, error) {
			return fn(in)
		},
		activity.RegisterOptions{Name: constants.RunRegionExpertActivity},
	)
}

func registerVerify(env *testsuite.TestWorkflowEnvironment, fn func(activities.VerifyInput) (activities.VerifyResult, error)) {
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.VerifyInput) (activities.VerifyResult, error) {
			return fn(in)
		},
		activity.RegisterOptions{Name: constants.VerifyLocationActivity},
	)
}

func TestGeolocateDefinitiveResult(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		return activities.RegionExpertResult{Analysis: japanAnalysis(in.Expert.ID)}, nil
	})
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		assert.NotEmpty(t, in.Clues.SearchableClues)
		return activities.VerifyResult{
			Result: models.AnalysisResult{
				LocationName:    "Dotonbori, Osaka",
				ConfidenceScore: 92,
				Confidence:      models.ConfidenceSplit{Region: 95, Local: 85},
				IsDefinitive:    true,
				Candidates: []models.LocationCandidate{
					{LocationName: "leftover", Probability: 10},
				},
			},
			Capability: "full",
		}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "Dotonbori, Osaka", out.Result.LocationName)
	assert.True(t, out.Result.IsDefinitive)
	assert.Nil(t, out.Result.Candidates) // definitive results never carry candidates
	assert.False(t, out.UsedFallback)
	assert.Equal(t, "full", out.Capability)
	assert.Equal(t, 4, out.ExpertsRun)
	assert.Equal(t, 4, out.ExpertsOK)
}

func TestGeolocateSurvivesOneExpertFailure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		if in.Expert.ID == "signage" {
			return activities.RegionExpertResult{}, errors.New("expert call failed")
		}
		return activities.RegionExpertResult{Analysis: japanAnalysis(in.Expert.ID)}, nil
	})
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		return activities.VerifyResult{
			Result:     models.AnalysisResult{LocationName: "Kyoto", ConfidenceScore: 80, IsDefinitive: true},
			Capability: "full",
		}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 4, out.ExpertsRun)
	assert.Equal(t, 3, out.ExpertsOK)
	assert.Equal(t, "Kyoto", out.Result.LocationName)
}

func TestGeolocateAllExpertsFailed(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		return activities.RegionExpertResult{}, errors.New("expert call failed")
	})
	verifyCalled := false
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		verifyCalled = true
		return activities.VerifyResult{}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, constants.ErrTypeAllExpertsFailed, appErr.Type())
	assert.False(t, verifyCalled, "verification must not run without expert output")
}

func TestGeolocateVerificationFailureFallsBack(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		return activities.RegionExpertResult{Analysis: japanAnalysis(in.Expert.ID)}, nil
	})
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		return activities.VerifyResult{}, temporal.NewNonRetryableApplicationError(
			"verification failed after 3 attempts", constants.ErrTypeVerificationFailed, nil)
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.True(t, out.UsedFallback)
	assert.Equal(t, "Undetermined location", out.Result.LocationName)
	assert.Equal(t, 20, out.Result.ConfidenceScore)
	assert.Equal(t, 14, out.Result.Confidence.Local)
	assert.False(t, out.Result.IsDefinitive)
	// Clue evidence survives into the degraded answer.
	assert.NotEmpty(t, out.Result.Evidence)
}

func TestGeolocateAmbiguousConsensusOverridesVerifier(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Experts split between Poland and Germany, with one veto on Germany,
	// so consensus stays ambiguous and a conflict is recorded.
	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		analysis := models.ExpertAnalysis{ExpertType: in.Expert.ID}
		switch in.Expert.ID {
		case "signage":
			analysis.PossibleRegions = []models.RegionAssessment{{Region: "Poland", Confidence: 90}}
		case "architecture":
			analysis.PossibleRegions = []models.RegionAssessment{{Region: "Germany", Confidence: 80}}
		case "environment":
			analysis.PossibleRegions = []models.RegionAssessment{{Region: "Germany", Confidence: 50}}
		default:
			analysis.ImpossibleRegions = []string{"Germany"}
		}
		return activities.RegionExpertResult{Analysis: analysis}, nil
	})
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		return activities.VerifyResult{
			Result: models.AnalysisResult{
				LocationName:    "Somewhere in Central Europe",
				ConfidenceScore: 55,
				IsDefinitive:    false,
			},
			Capability: "full",
		}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.False(t, out.Result.IsDefinitive)
	require.NotEmpty(t, out.Result.Candidates)
	assert.Equal(t, "Poland", out.Result.Candidates[0].LocationName)
	assert.LessOrEqual(t, len(out.Result.Candidates), 3)
	// The Germany conflict surfaces as an uncertainty.
	require.NotEmpty(t, out.Result.Uncertainties)
	assert.Contains(t, out.Result.Uncertainties[0], "germany")
}

func TestGeolocateClueFocusedUsesClueExperts(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	regionCalls := 0
	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		regionCalls++
		return activities.RegionExpertResult{}, nil
	})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ExpertInput) (activities.ClueExpertResult, error) {
			return activities.ClueExpertResult{Output: models.ClueExpertOutput{
				ExpertType: in.Expert.ID,
				SearchableClues: []models.SearchableClue{
					{Clue: "blue street sign with white text", Type: in.Expert.ID, SearchQuery: "blue street sign country"},
				},
			}}, nil
		},
		activity.RegisterOptions{Name: constants.RunClueExpertActivity},
	)
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		assert.NotEmpty(t, in.Clues.SuggestedQueries)
		return activities.VerifyResult{
			Result:     models.AnalysisResult{LocationName: "Paris", ConfidenceScore: 85, IsDefinitive: true},
			Capability: "full",
		}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyClueFocused))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Zero(t, regionCalls)

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "Paris", out.Result.LocationName)
}

func TestGeolocateRejectsEmptyImages(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	in := analyzeInput(experts.StrategyRegionConsensus)
	in.Images = nil
	env.ExecuteWorkflow(GeolocateWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

func TestGeolocateClampsVerifierScores(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	registerRegionExperts(env, func(in activities.ExpertInput) (activities.RegionExpertResult, error) {
		return activities.RegionExpertResult{Analysis: japanAnalysis(in.Expert.ID)}, nil
	})
	registerVerify(env, func(in activities.VerifyInput) (activities.VerifyResult, error) {
		return activities.VerifyResult{
			Result: models.AnalysisResult{
				LocationName:    "Sapporo",
				ConfidenceScore: 120,
				Confidence:      models.ConfidenceSplit{Region: 80, Local: 95},
				IsDefinitive:    true,
			},
		}, nil
	})

	env.ExecuteWorkflow(GeolocateWorkflow, analyzeInput(experts.StrategyRegionConsensus))
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, 100, out.Result.ConfidenceScore)
	// Local precision never exceeds regional.
	assert.Equal(t, 80, out.Result.Confidence.Local)
}

func TestRefineWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.RefineInput) (activities.VerifyResult, error) {
			assert.Equal(t, "Lyon", in.Previous.LocationName)
			assert.Equal(t, "the river in the photo is too wide for Lyon", in.Feedback)
			return activities.VerifyResult{
				Result:     models.AnalysisResult{LocationName: "Bordeaux", ConfidenceScore: 82, IsDefinitive: true},
				Capability: "full",
			}, nil
		},
		activity.RegisterOptions{Name: constants.RefineLocationActivity},
	)

	env.ExecuteWorkflow(RefineWorkflow, RefineInput{
		RequestID: "test-refine",
		Images:    []models.ImagePayload{{Data: []byte{0x1}, MediaType: "image/jpeg"}},
		Previous:  models.AnalysisResult{LocationName: "Lyon", ConfidenceScore: 70},
		Feedback:  "the river in the photo is too wide for Lyon",
		Pipeline:  config.Defaults().Pipeline,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out AnalyzeOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "Bordeaux", out.Result.LocationName)
}

func TestRefineWorkflowPropagatesErrors(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.RefineInput) (activities.VerifyResult, error) {
			return activities.VerifyResult{}, temporal.NewNonRetryableApplicationError(
				"empty response", constants.ErrTypeEmptyResponse, nil)
		},
		activity.RegisterOptions{Name: constants.RefineLocationActivity},
	)

	env.ExecuteWorkflow(RefineWorkflow, RefineInput{
		RequestID: "test-refine",
		Images:    []models.ImagePayload{{Data: []byte{0x1}, MediaType: "image/jpeg"}},
		Previous:  models.AnalysisResult{LocationName: "Lyon"},
		Feedback:  "wrong city",
		Pipeline:  config.Defaults().Pipeline,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, constants.ErrTypeEmptyResponse, appErr.Type())
}
