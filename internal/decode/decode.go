// Package decode turns raw reasoning-service text into typed results.
// The service is asked for JSON but wraps it in prose, markdown fences or
// trailing commentary more often than not, so extraction is positional:
// first '{' to last '}'. Every field of the embedded object is optional;
// decoding never passes an untyped value through.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/models"
)

// ErrMalformedOutput means no parseable JSON object could be recovered
// from the response text. Fatal for the call that produced it.
var ErrMalformedOutput = errors.New("decode: malformed output")

// ExtractObject returns the substring between the first '{' and the last
// '}' of text, inclusive. It does not validate JSON; callers unmarshal.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedOutput)
	}
	return text[start : end+1], nil
}

func unmarshalObject(text string, out any) error {
	obj, err := ExtractObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// stringList accepts either a JSON array of strings or a bare string.
// Models switch between the two shapes freely.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*s = []string{one}
		}
		return nil
	}
	// Tolerate arrays of mixed scalars.
	var anyList []any
	if err := json.Unmarshal(data, &anyList); err == nil {
		for _, v := range anyList {
			*s = append(*s, fmt.Sprintf("%v", v))
		}
		return nil
	}
	return fmt.Errorf("not a string or string list")
}

func orEmpty(s stringList) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Wire shapes. Alternate key names observed in the wild are mirrored as
// extra fields and folded during normalization.

type rawCoordinates struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type rawEvidence struct {
	Clue        string `json:"clue"`
	Description string `json:"description"` // alternate for clue
	Strength    string `json:"strength"`
	Supports    string `json:"supports"`
	Location    string `json:"location"` // alternate for supports
}

type rawConfidence struct {
	Region *float64 `json:"region"`
	Local  *float64 `json:"local"`
}

type rawCandidate struct {
	LocationName string          `json:"locationName"`
	Name         string          `json:"name"` // alternate for locationName
	Coordinates  *rawCoordinates `json:"coordinates"`
	Probability  *float64        `json:"probability"`
	Reasoning    stringList      `json:"reasoning"`
	KeyEvidence  stringList      `json:"keyEvidence"`
}

type rawVisualCues struct {
	Signs        stringList `json:"signs"`
	Architecture stringList `json:"architecture"`
	Environment  stringList `json:"environment"`
	Demographics stringList `json:"demographics"`
}

type rawResult struct {
	LocationName         string          `json:"locationName"`
	Location             string          `json:"location"` // alternate
	Coordinates          *rawCoordinates `json:"coordinates"`
	ConfidenceScore      *float64        `json:"confidenceScore"`
	Confidence           *rawConfidence  `json:"confidence"`
	IsDefinitive         *bool           `json:"isDefinitive"`
	Candidates           []rawCandidate  `json:"candidates"`
	Reasoning            stringList      `json:"reasoning"`
	Evidence             []rawEvidence   `json:"evidence"`
	AlternativeLocations stringList      `json:"alternativeLocations"`
	Uncertainties        stringList      `json:"uncertainties"`
	VisualCues           *rawVisualCues  `json:"visualCues"`
	SearchQueriesUsed    stringList      `json:"searchQueriesUsed"`
}

// Decoder normalizes raw responses using configured defaults.
type Decoder struct {
	cfg config.PipelineConfig
}

// New returns a Decoder with the given pipeline thresholds.
func New(cfg config.PipelineConfig) *Decoder {
	return &Decoder{cfg: cfg}
}

// AnalysisResult extracts and normalizes the verification answer embedded
// in text. Missing confidence defaults to cfg.DefaultConfidence; missing
// local confidence derives from region (local precision never exceeds
// regional). isDefinitive, when absent, derives from the confidence score;
// a later consensus stage may still override it.
func (d *Decoder) AnalysisResult(text string) (models.AnalysisResult, error) {
	var raw rawResult
	if err := unmarshalObject(text, &raw); err != nil {
		return models.AnalysisResult{}, err
	}

	out := models.AnalysisResult{
		LocationName:         firstNonEmpty(raw.LocationName, raw.Location, "Unknown location"),
		Coordinates:          coordinates(raw.Coordinates),
		Reasoning:            orEmpty(raw.Reasoning),
		Evidence:             evidence(raw.Evidence),
		AlternativeLocations: orEmpty(raw.AlternativeLocations),
		Uncertainties:        orEmpty(raw.Uncertainties),
		VisualCues:           visualCues(raw.VisualCues),
		SearchQueriesUsed:    orEmpty(raw.SearchQueriesUsed),
		Sources:              []models.Source{},
	}

	score := d.cfg.DefaultConfidence
	if raw.ConfidenceScore != nil {
		score = roundClamp(*raw.ConfidenceScore)
	}
	out.ConfidenceScore = score

	out.Confidence = d.confidenceSplit(raw.Confidence, score)

	if raw.IsDefinitive != nil {
		out.IsDefinitive = *raw.IsDefinitive
	} else {
		out.IsDefinitive = score >= d.cfg.DefinitiveConfidence
	}

	for _, rc := range raw.Candidates {
		out.Candidates = append(out.Candidates, models.LocationCandidate{
			LocationName: firstNonEmpty(rc.LocationName, rc.Name, "Unknown"),
			Coordinates:  coordinates(rc.Coordinates),
			Probability:  roundClampPtr(rc.Probability),
			Reasoning:    orEmpty(rc.Reasoning),
			KeyEvidence:  orEmpty(rc.KeyEvidence),
		})
	}

	return out, nil
}

// confidenceSplit fills the region/local pair. When only the region value
// is present, local defaults to the configured fraction of it.
func (d *Decoder) confidenceSplit(raw *rawConfidence, score int) models.ConfidenceSplit {
	split := models.ConfidenceSplit{Region: score, Local: deriveLocal(score, d.cfg.LocalConfidenceRatio)}
	if raw == nil {
		return split
	}
	if raw.Region != nil {
		split.Region = roundClamp(*raw.Region)
		split.Local = deriveLocal(split.Region, d.cfg.LocalConfidenceRatio)
	}
	if raw.Local != nil {
		split.Local = roundClamp(*raw.Local)
	}
	return split
}

func deriveLocal(region int, ratio float64) int {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.7
	}
	return models.ClampScore(int(math.Round(float64(region) * ratio)))
}

// Expert output shapes.

type rawRegionAssessment struct {
	Region     string   `json:"region"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

type rawExpertAnalysis struct {
	Observations      stringList            `json:"observations"`
	PossibleRegions   []rawRegionAssessment `json:"possibleRegions"`
	ImpossibleRegions stringList            `json:"impossibleRegions"`
}

type rawSearchableClue struct {
	Clue        string `json:"clue"`
	Type        string `json:"type"`
	SearchQuery string `json:"searchQuery"`
	Query       string `json:"query"` // alternate
}

type rawClueOutput struct {
	SearchableClues []rawSearchableClue `json:"searchableClues"`
	TranscribedText stringList          `json:"transcribedText"`
	Infrastructure  stringList          `json:"infrastructure"`
	Nature          stringList          `json:"nature"`
}

// ExpertAnalysis decodes the region-consensus expert flavor.
func (d *Decoder) ExpertAnalysis(expertType, text string) (models.ExpertAnalysis, error) {
	var raw rawExpertAnalysis
	if err := unmarshalObject(text, &raw); err != nil {
		return models.ExpertAnalysis{}, err
	}
	out := models.ExpertAnalysis{
		ExpertType:        expertType,
		Observations:      orEmpty(raw.Observations),
		ImpossibleRegions: orEmpty(raw.ImpossibleRegions),
	}
	for _, r := range raw.PossibleRegions {
		if strings.TrimSpace(r.Region) == "" {
			continue
		}
		out.PossibleRegions = append(out.PossibleRegions, models.RegionAssessment{
			Region:     r.Region,
			Confidence: roundClampPtr(r.Confidence),
			Reasoning:  r.Reasoning,
		})
	}
	return out, nil
}

// ClueOutput decodes the clue-focused expert flavor.
func (d *Decoder) ClueOutput(expertType, text string) (models.ClueExpertOutput, error) {
	var raw rawClueOutput
	if err := unmarshalObject(text, &raw); err != nil {
		return models.ClueExpertOutput{}, err
	}
	out := models.ClueExpertOutput{
		ExpertType:      expertType,
		TranscribedText: orEmpty(raw.TranscribedText),
		Infrastructure:  orEmpty(raw.Infrastructure),
		Nature:          orEmpty(raw.Nature),
	}
	for _, c := range raw.SearchableClues {
		if strings.TrimSpace(c.Clue) == "" {
			continue
		}
		out.SearchableClues = append(out.SearchableClues, models.SearchableClue{
			Clue:        c.Clue,
			Type:        c.Type,
			SearchQuery: firstNonEmpty(c.SearchQuery, c.Query, ""),
		})
	}
	return out, nil
}

func evidence(raw []rawEvidence) []models.EvidenceItem {
	out := make([]models.EvidenceItem, 0, len(raw))
	for _, e := range raw {
		clue := firstNonEmpty(e.Clue, e.Description, "")
		if clue == "" {
			continue
		}
		out = append(out, models.EvidenceItem{
			Clue:     clue,
			Strength: models.ParseStrength(e.Strength),
			Supports: firstNonEmpty(e.Supports, e.Location, ""),
		})
	}
	return out
}

func visualCues(raw *rawVisualCues) models.VisualCues {
	if raw == nil {
		return models.VisualCues{
			Signs:        []string{},
			Architecture: []string{},
			Environment:  []string{},
		}
	}
	return models.VisualCues{
		Signs:        orEmpty(raw.Signs),
		Architecture: orEmpty(raw.Architecture),
		Environment:  orEmpty(raw.Environment),
		Demographics: raw.Demographics,
	}
}

func coordinates(raw *rawCoordinates) *models.Coordinates {
	if raw == nil || raw.Lat == nil || raw.Lng == nil {
		return nil
	}
	return &models.Coordinates{Lat: *raw.Lat, Lng: *raw.Lng}
}

func roundClamp(v float64) int {
	return models.ClampScore(int(math.Round(v)))
}

func roundClampPtr(v *float64) int {
	if v == nil {
		return 0
	}
	return roundClamp(*v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
