// Package consensus scores competing regions across expert analyses and
// decides whether the pipeline commits to one answer or surfaces ranked
// candidates. This stage never fails; an empty pool simply yields an
// ambiguous outcome with no candidates.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/models"
)

// directionalPrefixes are qualifiers stripped during region normalization
// so "northern Italy" and "Italy" score as the same region. Bare cardinal
// forms stay out of the list: "North Korea" and "South Korea" name
// different countries, not halves of one.
var directionalPrefixes = []string{
	"northern", "southern", "eastern", "western", "central",
	"northeastern", "northwestern", "southeastern", "southwestern",
	"coastal", "rural", "urban",
}

// NormalizeRegion canonicalizes a region name: lower-case, parenthetical
// qualifiers removed, anything after a comma dropped, directional prefixes
// stripped. The function is idempotent.
func NormalizeRegion(region string) string {
	s := strings.ToLower(strings.TrimSpace(region))

	if idx := strings.Index(s, "("); idx >= 0 {
		end := strings.Index(s[idx:], ")")
		if end >= 0 {
			s = s[:idx] + s[idx+end+1:]
		} else {
			s = s[:idx]
		}
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)
	changed := true
	for changed {
		changed = false
		for _, prefix := range directionalPrefixes {
			if strings.HasPrefix(s, prefix+" ") {
				s = strings.TrimSpace(strings.TrimPrefix(s, prefix+" "))
				changed = true
			}
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// RegionScore is the aggregate signed score of one normalized region.
type RegionScore struct {
	Region         string   `json:"region"`      // normalized key
	DisplayName    string   `json:"displayName"` // first raw spelling seen
	Score          int      `json:"score"`
	Support        []string `json:"support"`
	Contradictions []string `json:"contradictions"`
	Reasoning      []string `json:"reasoning"`
	Conflict       bool     `json:"conflict"`
}

// ExpertConsensus is the scored view across all experts.
type ExpertConsensus struct {
	Regions      []RegionScore              `json:"regions"` // sorted by score, descending
	Conflicts    []string                   `json:"conflicts"`
	IsDefinitive bool                       `json:"isDefinitive"`
	Candidates   []models.LocationCandidate `json:"candidates"`
}

// Builder applies the configured scoring and decision thresholds.
type Builder struct {
	vetoPenalty   int
	poolSize      int
	definitiveTop int
	definitiveGap int
	noiseFloor    int
	maxCandidates int
}

// NewBuilder returns a Builder from pipeline configuration.
func NewBuilder(cfg config.PipelineConfig) *Builder {
	b := &Builder{
		vetoPenalty:   cfg.VetoPenalty,
		poolSize:      cfg.CandidatePool,
		definitiveTop: cfg.DefinitiveTop,
		definitiveGap: cfg.DefinitiveGap,
		noiseFloor:    cfg.NoiseFloor,
		maxCandidates: cfg.MaxCandidates,
	}
	if b.vetoPenalty <= 0 {
		b.vetoPenalty = 50
	}
	if b.poolSize <= 0 {
		b.poolSize = 5
	}
	if b.definitiveTop <= 0 {
		b.definitiveTop = 75
	}
	if b.definitiveGap <= 0 {
		b.definitiveGap = 40
	}
	if b.noiseFloor < 0 {
		b.noiseFloor = 15
	}
	if b.maxCandidates <= 0 {
		b.maxCandidates = 3
	}
	return b
}

// Build scores every region mentioned across the analyses and classifies
// the outcome as definitive (exactly one candidate) or ambiguous (up to
// maxCandidates above the noise floor).
func (b *Builder) Build(analyses []models.ExpertAnalysis) ExpertConsensus {
	scores := map[string]*RegionScore{}
	order := []string{} // first-mention order for deterministic tie-breaks

	lookup := func(raw string) *RegionScore {
		key := NormalizeRegion(raw)
		if key == "" {
			return nil
		}
		rs, ok := scores[key]
		if !ok {
			rs = &RegionScore{Region: key, DisplayName: strings.TrimSpace(raw)}
			scores[key] = rs
			order = append(order, key)
		}
		return rs
	}

	for _, an := range analyses {
		for _, pr := range an.PossibleRegions {
			rs := lookup(pr.Region)
			if rs == nil {
				continue
			}
			conf := models.ClampScore(pr.Confidence)
			rs.Score += conf
			rs.Support = append(rs.Support, fmt.Sprintf("%s (+%d)", an.ExpertType, conf))
			if strings.TrimSpace(pr.Reasoning) != "" {
				rs.Reasoning = append(rs.Reasoning, pr.Reasoning)
			}
		}
		for _, region := range an.ImpossibleRegions {
			rs := lookup(region)
			if rs == nil {
				continue
			}
			rs.Score -= b.vetoPenalty
			rs.Contradictions = append(rs.Contradictions, fmt.Sprintf("%s (-%d)", an.ExpertType, b.vetoPenalty))
		}
	}

	out := ExpertConsensus{Conflicts: []string{}, Candidates: []models.LocationCandidate{}}

	firstSeen := make(map[string]int, len(order))
	for i, key := range order {
		firstSeen[key] = i
	}
	for _, key := range order {
		rs := scores[key]
		if len(rs.Support) > 0 && len(rs.Contradictions) > 0 {
			rs.Conflict = true
			out.Conflicts = append(out.Conflicts, rs.Region)
		}
		out.Regions = append(out.Regions, *rs)
	}
	sort.SliceStable(out.Regions, func(i, j int) bool {
		if out.Regions[i].Score != out.Regions[j].Score {
			return out.Regions[i].Score > out.Regions[j].Score
		}
		return firstSeen[out.Regions[i].Region] < firstSeen[out.Regions[j].Region]
	})

	pool := out.Regions
	if len(pool) > b.poolSize {
		pool = pool[:b.poolSize]
	}

	probs := normalizeProbabilities(pool)
	if probs == nil {
		return out // nothing positive to rank: ambiguous, no candidates
	}

	top := probs[0]
	second := 0
	if len(probs) > 1 {
		second = probs[1]
	}
	out.IsDefinitive = top >= b.definitiveTop || top-second >= b.definitiveGap

	if out.IsDefinitive {
		out.Candidates = []models.LocationCandidate{candidate(pool[0], top)}
		return out
	}
	for i, rs := range pool {
		if probs[i] < b.noiseFloor {
			continue
		}
		out.Candidates = append(out.Candidates, candidate(rs, probs[i]))
		if len(out.Candidates) == b.maxCandidates {
			break
		}
	}
	return out
}

// normalizeProbabilities maps pool scores onto percentages:
// max(0, score) / Σ max(0, score) × 100, rounded, then adjusted so the
// rounded values never sum above 100. Returns nil when no score is
// positive.
func normalizeProbabilities(pool []RegionScore) []int {
	total := 0
	for _, rs := range pool {
		if rs.Score > 0 {
			total += rs.Score
		}
	}
	if total == 0 {
		return nil
	}

	probs := make([]int, len(pool))
	sum := 0
	for i, rs := range pool {
		if rs.Score > 0 {
			probs[i] = int(math.Round(float64(rs.Score) / float64(total) * 100))
		}
		sum += probs[i]
	}
	// Rounding can overshoot by a point or two; shave it off the tail so
	// Σ probability ≤ 100 always holds.
	for i := len(probs) - 1; i >= 0 && sum > 100; i-- {
		if probs[i] > 0 {
			probs[i]--
			sum--
			i++ // revisit in case more than one point must come off
		}
	}
	return probs
}

func candidate(rs RegionScore, probability int) models.LocationCandidate {
	reasoning := rs.Reasoning
	if len(reasoning) == 0 {
		reasoning = []string{}
	}
	evidence := rs.Support
	if len(evidence) == 0 {
		evidence = []string{}
	}
	return models.LocationCandidate{
		LocationName: rs.DisplayName,
		Probability:  models.ClampScore(probability),
		Reasoning:    reasoning,
		KeyEvidence:  evidence,
	}
}
