// Package experts defines the fixed analysis panel. Each expert is a
// narrowly-scoped, tool-free observational pass over the same images;
// experts never see each other's output, which keeps one expert's
// conclusion from biasing another.
package experts

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrAllExpertsFailed aborts the pipeline: with zero surviving analyses
// there is nothing to aggregate or verify.
var ErrAllExpertsFailed = errors.New("experts: all experts failed")

// Strategy selects the expert output flavor for a pipeline run.
type Strategy string

const (
	// StrategyClueFocused asks experts for searchable clues and free-text
	// clue buckets; the final ranking comes from verification alone.
	StrategyClueFocused Strategy = "clue_focused"
	// StrategyRegionConsensus asks experts for weighted region votes and
	// vetoes; a consensus stage ranks competing candidates.
	StrategyRegionConsensus Strategy = "region_consensus"
)

// ParseStrategy maps a config string onto a Strategy, defaulting to
// region consensus for unknown values.
func ParseStrategy(raw string) Strategy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StrategyClueFocused):
		return StrategyClueFocused
	default:
		return StrategyRegionConsensus
	}
}

// Expert is one member of the panel.
type Expert struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Focus string `yaml:"focus"`
}

//go:embed panel.yaml
var panelYAML []byte

var (
	panelOnce sync.Once
	panel     []Expert
	panelErr  error
)

// Panel returns the fixed expert panel in declaration order.
func Panel() ([]Expert, error) {
	panelOnce.Do(func() {
		var doc struct {
			Experts []Expert `yaml:"experts"`
		}
		if err := yaml.Unmarshal(panelYAML, &doc); err != nil {
			panelErr = fmt.Errorf("experts: parse panel: %w", err)
			return
		}
		if len(doc.Experts) == 0 {
			panelErr = errors.New("experts: empty panel")
			return
		}
		panel = doc.Experts
	})
	return panel, panelErr
}
