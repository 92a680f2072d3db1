package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/models"
)

func newDecoder() *Decoder {
	return New(config.Defaults().Pipeline)
}

func TestExtractObject(t *testing.T) {
	obj, err := ExtractObject("Here is the answer:\n```json\n{\"a\":1}\n```\nHope that helps!")
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}", obj)
}

func TestExtractObjectNested(t *testing.T) {
	obj, err := ExtractObject(`prefix {"outer":{"inner":2}} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"inner":2}}`, obj)
}

func TestExtractObjectNoBraces(t *testing.T) {
	_, err := ExtractObject("I cannot determine the location from these images.")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestExtractObjectReversedBraces(t *testing.T) {
	_, err := ExtractObject("} nothing here {")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestAnalysisResultFullObject(t *testing.T) {
	text := `{
		"locationName": "Shibuya Crossing, Tokyo",
		"coordinates": {"lat": 35.6595, "lng": 139.7005},
		"confidenceScore": 92,
		"confidence": {"region": 95, "local": 88},
		"isDefinitive": true,
		"reasoning": ["Hachiko statue visible", "JR station signage"],
		"evidence": [
			{"clue": "Shibuya 109 storefront", "strength": "hard", "supports": "Shibuya"},
			{"description": "Japanese traffic signals", "strength": "medium", "location": "Japan"}
		],
		"visualCues": {"signs": ["SHIBUYA 109"], "architecture": ["dense commercial"], "environment": ["urban"]},
		"searchQueriesUsed": ["Shibuya 109 storefront"]
	}`

	res, err := newDecoder().AnalysisResult(text)
	require.NoError(t, err)
	assert.Equal(t, "Shibuya Crossing, Tokyo", res.LocationName)
	require.NotNil(t, res.Coordinates)
	assert.InDelta(t, 35.6595, res.Coordinates.Lat, 1e-9)
	assert.Equal(t, 92, res.ConfidenceScore)
	assert.Equal(t, 95, res.Confidence.Region)
	assert.Equal(t, 88, res.Confidence.Local)
	assert.True(t, res.IsDefinitive)
	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "Japanese traffic signals", res.Evidence[1].Clue)
	assert.Equal(t, "Japan", res.Evidence[1].Supports)
	assert.Equal(t, models.StrengthMedium, res.Evidence[1].Strength)
	assert.NotNil(t, res.Sources)
}

func TestAnalysisResultDefaults(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{}`)
	require.NoError(t, err)
	assert.Equal(t, "Unknown location", res.LocationName)
	assert.Equal(t, 50, res.ConfidenceScore)
	assert.Equal(t, 50, res.Confidence.Region)
	assert.Equal(t, 35, res.Confidence.Local) // round(50 * 0.7)
	assert.False(t, res.IsDefinitive)
	assert.Nil(t, res.Coordinates)
	assert.Empty(t, res.Reasoning)
	assert.Empty(t, res.Evidence)
	assert.NotNil(t, res.VisualCues.Signs)
}

func TestAnalysisResultLocalDerivedFromRegion(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{"confidence": {"region": 90}}`)
	require.NoError(t, err)
	assert.Equal(t, 90, res.Confidence.Region)
	assert.Equal(t, 63, res.Confidence.Local) // round(90 * 0.7)
}

func TestAnalysisResultDefinitiveFromScore(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{"confidenceScore": 85}`)
	require.NoError(t, err)
	assert.True(t, res.IsDefinitive)

	res, err = newDecoder().AnalysisResult(`{"confidenceScore": 79}`)
	require.NoError(t, err)
	assert.False(t, res.IsDefinitive)
}

func TestAnalysisResultExplicitDefinitiveWins(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{"confidenceScore": 95, "isDefinitive": false}`)
	require.NoError(t, err)
	assert.False(t, res.IsDefinitive)
}

func TestAnalysisResultAlternateKeys(t *testing.T) {
	text := `{
		"location": "Valparaiso, Chile",
		"candidates": [{"name": "Valparaiso", "probability": 60.4}],
		"reasoning": "single string reasoning"
	}`
	res, err := newDecoder().AnalysisResult(text)
	require.NoError(t, err)
	assert.Equal(t, "Valparaiso, Chile", res.LocationName)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Valparaiso", res.Candidates[0].LocationName)
	assert.Equal(t, 60, res.Candidates[0].Probability)
	assert.Equal(t, []string{"single string reasoning"}, res.Reasoning)
}

func TestAnalysisResultClampsOutOfRange(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{"confidenceScore": 140, "confidence": {"region": 120, "local": -5}}`)
	require.NoError(t, err)
	assert.Equal(t, 100, res.ConfidenceScore)
	assert.Equal(t, 100, res.Confidence.Region)
	assert.Equal(t, 0, res.Confidence.Local)
}

func TestAnalysisResultMalformed(t *testing.T) {
	_, err := newDecoder().AnalysisResult(`{"locationName": `)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestExpertAnalysis(t *testing.T) {
	text := `noise before {
		"observations": ["left-hand traffic", "red postboxes"],
		"possibleRegions": [
			{"region": "United Kingdom", "confidence": 85, "reasoning": "Royal Mail postbox"},
			{"region": "", "confidence": 50}
		],
		"impossibleRegions": ["United States"]
	} noise after`

	an, err := newDecoder().ExpertAnalysis("signage", text)
	require.NoError(t, err)
	assert.Equal(t, "signage", an.ExpertType)
	assert.Equal(t, []string{"left-hand traffic", "red postboxes"}, an.Observations)
	require.Len(t, an.PossibleRegions, 1) // blank region dropped
	assert.Equal(t, 85, an.PossibleRegions[0].Confidence)
	assert.Equal(t, []string{"United States"}, an.ImpossibleRegions)
}

func TestClueOutputAlternateQueryKey(t *testing.T) {
	text := `{
		"searchableClues": [
			{"clue": "Bakkerij De Gouden Korenaar", "type": "business", "query": "Bakkerij De Gouden Korenaar bakery"},
			{"clue": "", "type": "noise"}
		],
		"transcribedText": "UITVERKOOP",
		"infrastructure": ["bicycle lane with red asphalt"],
		"nature": []
	}`

	out, err := newDecoder().ClueOutput("culture", text)
	require.NoError(t, err)
	require.Len(t, out.SearchableClues, 1)
	assert.Equal(t, "Bakkerij De Gouden Korenaar bakery", out.SearchableClues[0].SearchQuery)
	assert.Equal(t, []string{"UITVERKOOP"}, out.TranscribedText)
	assert.NotNil(t, out.Nature)
}

func TestEvidenceStrengthDefaultsSoft(t *testing.T) {
	res, err := newDecoder().AnalysisResult(`{"evidence": [{"clue": "generic palm trees"}]}`)
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, models.StrengthSoft, res.Evidence[0].Strength)
}
