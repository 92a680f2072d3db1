// Package verify builds the single tool-augmented verification call and
// turns its raw answer into the final result shape. It also produces the
// clue-only fallback result used when every verification attempt failed.
package verify

import (
	"fmt"
	"math"
	"strings"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/decode"
	"github.com/meridianlabs/pinpoint/internal/formatting"
	"github.com/meridianlabs/pinpoint/internal/models"
	"github.com/meridianlabs/pinpoint/internal/reasoning"
)

const verifierInstruction = "You are a meticulous geolocation investigator. " +
	"You are given a photograph set and evidence gathered by a panel of specialists. " +
	"Use the available tools to verify the evidence and determine the single most " +
	"specific location you can defend. Calibrate your confidence honestly: regional " +
	"certainty does not imply street-level certainty."

const resultSchema = `{
  "locationName": "most specific defensible place name",
  "coordinates": {"lat": 0.0, "lng": 0.0},
  "confidenceScore": 0-100,
  "confidence": {"region": 0-100, "local": 0-100},
  "reasoning": ["step by step, how the evidence leads to this location"],
  "evidence": [{"clue": "...", "strength": "hard|medium|soft", "supports": "what it points to"}],
  "alternativeLocations": ["plausible alternatives you considered"],
  "uncertainties": ["what would change your answer"],
  "searchQueriesUsed": ["queries you actually ran"]
}`

// Engine assembles verification calls and normalizes their answers.
type Engine struct {
	cfg     config.PipelineConfig
	decoder *decode.Decoder
}

// NewEngine returns an Engine with the configured thresholds.
func NewEngine(cfg config.PipelineConfig) *Engine {
	return &Engine{cfg: cfg, decoder: decode.New(cfg)}
}

// BuildRequest assembles the full-capability verification call: clue
// summary, ranked suggested queries, and whichever hints the caller gave.
func (e *Engine) BuildRequest(images []models.ImagePayload, agg models.AggregatedClues, hints models.LocationHints) reasoning.Request {
	var b strings.Builder
	b.WriteString("Determine where these photograph(s) were taken.\n\n")
	if summary := formatting.ClueSummary(agg); summary != "" {
		b.WriteString("Evidence gathered so far:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if len(agg.SuggestedQueries) > 0 {
		b.WriteString("Suggested verification searches, in priority order:\n")
		b.WriteString(formatting.QueryList(agg.SuggestedQueries))
		b.WriteString("\n\n")
	}
	if block := formatting.HintBlock(hints); block != "" {
		b.WriteString("Requester context (may be wrong, verify):\n")
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with a single JSON object in exactly this shape:\n")
	b.WriteString(resultSchema)

	return reasoning.Request{
		Images:      images,
		Instruction: verifierInstruction,
		Prompt:      b.String(),
		Tools:       []reasoning.Tool{reasoning.ToolWebSearch, reasoning.ToolMapLookup},
	}
}

// BuildRefineRequest assembles the feedback-driven re-examination call.
// The previous conclusion is presented for critique, not as ground truth.
func (e *Engine) BuildRefineRequest(images []models.ImagePayload, previous models.AnalysisResult, feedback string, hints models.LocationHints) reasoning.Request {
	var b strings.Builder
	b.WriteString("You previously concluded that these photograph(s) were taken at: ")
	b.WriteString(previous.LocationName)
	fmt.Fprintf(&b, " (confidence %d).\n", previous.ConfidenceScore)
	if len(previous.Reasoning) > 0 {
		b.WriteString("Your reasoning was:\n")
		for _, r := range previous.Reasoning {
			fmt.Fprintf(&b, "- %s\n", formatting.Truncate(r, 300))
		}
	}
	b.WriteString("\nThe requester disputes or refines this conclusion:\n")
	b.WriteString(strings.TrimSpace(feedback))
	b.WriteString("\n\nCritically re-examine the images against this feedback. ")
	b.WriteString("Change your answer if the evidence demands it; keep it only if it survives the critique.\n")
	if block := formatting.HintBlock(hints); block != "" {
		b.WriteString("\nRequester context:\n")
		b.WriteString(block)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with a single JSON object in exactly this shape:\n")
	b.WriteString(resultSchema)

	return reasoning.Request{
		Images:      images,
		Instruction: verifierInstruction,
		Prompt:      b.String(),
		Tools:       []reasoning.Tool{reasoning.ToolWebSearch, reasoning.ToolMapLookup},
	}
}

// Decode normalizes the raw verification answer. Visual cues prefer the
// aggregated buckets over the response repeating them, but an empty
// bucket keeps the verifier's own cues rather than erasing them;
// grounding citations come from the transport layer, never from the
// response body.
func (e *Engine) Decode(raw reasoning.RawResponse, agg models.AggregatedClues) (models.AnalysisResult, error) {
	result, err := e.decoder.AnalysisResult(raw.Text)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	result.VisualCues = mergeCues(agg, result.VisualCues)
	if len(result.SearchQueriesUsed) == 0 {
		result.SearchQueriesUsed = append([]string{}, agg.SuggestedQueries...)
	}
	result.Sources = append([]models.Source{}, raw.Sources...)
	return result, nil
}

// FallbackResult is the degraded, clue-only answer produced when the
// whole verification chain failed. Low fixed confidence, no coordinates,
// evidence copied from the aggregated clues, no sources.
func (e *Engine) FallbackResult(agg models.AggregatedClues) models.AnalysisResult {
	confidence := e.cfg.FallbackConfidence
	if confidence <= 0 {
		confidence = 20
	}
	evidence := make([]models.EvidenceItem, 0, len(agg.SearchableClues))
	for _, c := range agg.SearchableClues {
		evidence = append(evidence, models.EvidenceItem{
			Clue:     c.Clue,
			Strength: models.StrengthSoft,
			Supports: c.Type,
		})
	}
	local := int(math.Round(float64(confidence) * e.ratio()))
	return models.AnalysisResult{
		LocationName:    "Undetermined location",
		ConfidenceScore: models.ClampScore(confidence),
		Confidence: models.ConfidenceSplit{
			Region: models.ClampScore(confidence),
			Local:  models.ClampScore(local),
		},
		IsDefinitive: false,
		Reasoning: []string{
			"External verification was unavailable; this result is assembled from expert clues only.",
		},
		Evidence:             evidence,
		AlternativeLocations: []string{},
		Uncertainties:        []string{"The reasoning service could not verify the aggregated clues."},
		VisualCues:           mergeCues(agg, models.VisualCues{}),
		SearchQueriesUsed:    append([]string{}, agg.SuggestedQueries...),
		Sources:              []models.Source{},
	}
}

func (e *Engine) ratio() float64 {
	if e.cfg.LocalConfidenceRatio <= 0 || e.cfg.LocalConfidenceRatio > 1 {
		return 0.7
	}
	return e.cfg.LocalConfidenceRatio
}

func mergeCues(agg models.AggregatedClues, decoded models.VisualCues) models.VisualCues {
	return models.VisualCues{
		Signs:        firstFilled(agg.TranscribedText, decoded.Signs),
		Architecture: firstFilled(agg.Infrastructure, decoded.Architecture),
		Environment:  firstFilled(agg.Nature, decoded.Environment),
		Demographics: decoded.Demographics,
	}
}

func firstFilled(preferred, fallback []string) []string {
	if len(preferred) > 0 {
		return append([]string{}, preferred...)
	}
	if len(fallback) > 0 {
		return append([]string{}, fallback...)
	}
	return []string{}
}
