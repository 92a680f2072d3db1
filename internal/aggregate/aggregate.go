// Package aggregate merges independent expert outputs into one evidence
// set. Dedup is case-insensitive on trimmed text; first occurrence wins,
// so aggregation is deterministic for a fixed, ordered input set. Buckets
// are truncated to a configured size for prompt-size control, which makes
// the result order-sensitive once a bucket overflows — accepted, lossy
// behavior rather than a bug.
package aggregate

import (
	"strings"

	"github.com/meridianlabs/pinpoint/internal/config"
	"github.com/meridianlabs/pinpoint/internal/models"
)

// Aggregator merges expert outputs under the configured truncation limits.
type Aggregator struct {
	maxItems   int
	maxQueries int
}

// New returns an Aggregator using the pipeline's truncation limits.
func New(cfg config.PipelineConfig) *Aggregator {
	maxItems := cfg.MaxClueItems
	if maxItems <= 0 {
		maxItems = 12
	}
	maxQueries := cfg.MaxQueries
	if maxQueries <= 0 {
		maxQueries = 8
	}
	return &Aggregator{maxItems: maxItems, maxQueries: maxQueries}
}

// dedup tracks seen keys for one bucket.
type dedup map[string]struct{}

func (d dedup) add(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	key := strings.ToLower(trimmed)
	if _, seen := d[key]; seen {
		return "", false
	}
	d[key] = struct{}{}
	return trimmed, true
}

// MergeClueOutputs merges the clue-flavor outputs in input order.
func (a *Aggregator) MergeClueOutputs(outputs []models.ClueExpertOutput) models.AggregatedClues {
	agg := models.AggregatedClues{
		SearchableClues:  []models.SearchableClue{},
		TranscribedText:  []string{},
		Infrastructure:   []string{},
		Nature:           []string{},
		SuggestedQueries: []string{},
	}
	clues := dedup{}
	text := dedup{}
	infra := dedup{}
	nature := dedup{}
	queries := dedup{}

	for _, out := range outputs {
		for _, clue := range out.SearchableClues {
			if trimmed, fresh := clues.add(clue.Clue); fresh && len(agg.SearchableClues) < a.maxItems {
				kept := clue
				kept.Clue = trimmed
				agg.SearchableClues = append(agg.SearchableClues, kept)
			}
			// Queries dedupe independently of their clue: two experts may
			// phrase a clue differently yet suggest the same lookup.
			if trimmed, fresh := queries.add(clue.SearchQuery); fresh && len(agg.SuggestedQueries) < a.maxQueries {
				agg.SuggestedQueries = append(agg.SuggestedQueries, trimmed)
			}
		}
		agg.TranscribedText = appendBucket(agg.TranscribedText, out.TranscribedText, text, a.maxItems)
		agg.Infrastructure = appendBucket(agg.Infrastructure, out.Infrastructure, infra, a.maxItems)
		agg.Nature = appendBucket(agg.Nature, out.Nature, nature, a.maxItems)
	}
	return agg
}

// MergeAnalyses adapts region-flavor outputs for verification: every
// observation becomes a searchable clue attributed to its expert, and
// observations also fill the cue bucket matching the expert's facet so
// the final result's visual cues survive this strategy. Region votes
// stay out of the clue set; they feed the consensus builder instead.
func (a *Aggregator) MergeAnalyses(analyses []models.ExpertAnalysis) models.AggregatedClues {
	outputs := make([]models.ClueExpertOutput, 0, len(analyses))
	for _, an := range analyses {
		out := models.ClueExpertOutput{ExpertType: an.ExpertType}
		for _, obs := range an.Observations {
			out.SearchableClues = append(out.SearchableClues, models.SearchableClue{
				Clue: obs,
				Type: an.ExpertType,
			})
		}
		// Bucket assignment mirrors the panel facets; the culture expert
		// has no dedicated bucket and contributes clues only.
		switch an.ExpertType {
		case "signage":
			out.TranscribedText = an.Observations
		case "architecture":
			out.Infrastructure = an.Observations
		case "environment":
			out.Nature = an.Observations
		}
		outputs = append(outputs, out)
	}
	return a.MergeClueOutputs(outputs)
}

func appendBucket(dst, src []string, seen dedup, limit int) []string {
	for _, s := range src {
		if trimmed, fresh := seen.add(s); fresh && len(dst) < limit {
			dst = append(dst, trimmed)
		}
	}
	return dst
}
