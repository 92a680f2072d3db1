// Package models holds the shared schema passed between pipeline stages.
// Everything here is created per request and discarded once the final
// AnalysisResult is handed back to the caller; nothing carries identity
// across requests.
package models

import "strings"

// MaxImagesPerRequest bounds how many images one analysis accepts.
// Enforcing the bound is the caller's job; the pipeline trusts its input.
const MaxImagesPerRequest = 4

// ImagePayload is opaque image content plus its declared media type.
// It is read-only and shared by all concurrent consumers of one request.
type ImagePayload struct {
	Data      []byte `json:"data"`
	MediaType string `json:"mediaType"`
}

// LocationHints is optional caller-supplied context forwarded verbatim to
// the reasoning service. All fields may be empty.
type LocationHints struct {
	Continent           string `json:"continent,omitempty"`
	Country             string `json:"country,omitempty"`
	City                string `json:"city,omitempty"`
	AdditionalInfo      string `json:"additionalInfo,omitempty"`
	GPSHint             string `json:"gpsHint,omitempty"`
	ReverseImageSummary string `json:"reverseImageSummary,omitempty"`
}

// Empty reports whether no hint field is set.
func (h LocationHints) Empty() bool {
	return h.Continent == "" && h.Country == "" && h.City == "" &&
		h.AdditionalInfo == "" && h.GPSHint == "" && h.ReverseImageSummary == ""
}

// EvidenceStrength is a closed, ordered taxonomy: hard > medium > soft.
type EvidenceStrength string

const (
	StrengthHard   EvidenceStrength = "hard"
	StrengthMedium EvidenceStrength = "medium"
	StrengthSoft   EvidenceStrength = "soft"
)

// ParseStrength normalizes a raw strength label. Unknown or missing input
// defaults to soft; a strength is never silently upgraded elsewhere.
func ParseStrength(raw string) EvidenceStrength {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hard":
		return StrengthHard
	case "medium":
		return StrengthMedium
	default:
		return StrengthSoft
	}
}

// EvidenceItem is one clue supporting (or narrowing) the conclusion.
type EvidenceItem struct {
	Clue     string           `json:"clue"`
	Strength EvidenceStrength `json:"strength"`
	Supports string           `json:"supports"`
}

// RegionAssessment is one expert's weighted vote for a region.
type RegionAssessment struct {
	Region     string `json:"region"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// ExpertAnalysis is the region-consensus flavor of expert output.
// Immutable once produced; experts never see each other's analyses.
type ExpertAnalysis struct {
	ExpertType        string             `json:"expertType"`
	Observations      []string           `json:"observations"`
	PossibleRegions   []RegionAssessment `json:"possibleRegions"`
	ImpossibleRegions []string           `json:"impossibleRegions"`
}

// SearchableClue is a clue an expert considers worth verifying online.
// SearchQuery is empty when the expert had no concrete query to suggest.
type SearchableClue struct {
	Clue        string `json:"clue"`
	Type        string `json:"type"`
	SearchQuery string `json:"searchQuery,omitempty"`
}

// ClueExpertOutput is the clue-focused flavor of expert output.
type ClueExpertOutput struct {
	ExpertType      string           `json:"expertType"`
	SearchableClues []SearchableClue `json:"searchableClues"`
	TranscribedText []string         `json:"transcribedText"`
	Infrastructure  []string         `json:"infrastructure"`
	Nature          []string         `json:"nature"`
}

// AggregatedClues is the de-duplicated union of all surviving expert
// outputs, plus a ranked list of suggested search queries.
type AggregatedClues struct {
	SearchableClues  []SearchableClue `json:"searchableClues"`
	TranscribedText  []string         `json:"transcribedText"`
	Infrastructure   []string         `json:"infrastructure"`
	Nature           []string         `json:"nature"`
	SuggestedQueries []string         `json:"suggestedQueries"`
}

// Coordinates is a WGS84 lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ConfidenceSplit separates regional from street-level confidence.
// Local precision never exceeds regional precision.
type ConfidenceSplit struct {
	Region int `json:"region"`
	Local  int `json:"local"`
}

// LocationCandidate is one ranked competing answer.
type LocationCandidate struct {
	LocationName string       `json:"locationName"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Probability  int          `json:"probability"`
	Reasoning    []string     `json:"reasoning"`
	KeyEvidence  []string     `json:"keyEvidence"`
}

// VisualCues groups observations by facet for display.
type VisualCues struct {
	Signs        []string `json:"signs"`
	Architecture []string `json:"architecture"`
	Environment  []string `json:"environment"`
	Demographics []string `json:"demographics,omitempty"`
}

// Source is a grounding citation returned by the reasoning service.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// AnalysisResult is the pipeline's output contract. Candidates is set only
// when IsDefinitive is false, and then holds between one and three entries.
type AnalysisResult struct {
	LocationName         string              `json:"locationName"`
	Coordinates          *Coordinates        `json:"coordinates,omitempty"`
	ConfidenceScore      int                 `json:"confidenceScore"`
	Confidence           ConfidenceSplit     `json:"confidence"`
	IsDefinitive         bool                `json:"isDefinitive"`
	Candidates           []LocationCandidate `json:"candidates,omitempty"`
	Reasoning            []string            `json:"reasoning"`
	Evidence             []EvidenceItem      `json:"evidence"`
	AlternativeLocations []string            `json:"alternativeLocations"`
	Uncertainties        []string            `json:"uncertainties"`
	VisualCues           VisualCues          `json:"visualCues"`
	SearchQueriesUsed    []string            `json:"searchQueriesUsed"`
	Sources              []Source            `json:"sources"`
}

// ClampScore constrains a confidence or probability value to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
