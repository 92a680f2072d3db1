package experts

import (
	"fmt"
	"strings"

	"github.com/meridianlabs/pinpoint/internal/formatting"
	"github.com/meridianlabs/pinpoint/internal/models"
)

const regionAnalysisSchema = `{
  "observations": ["specific things you can see, one per entry"],
  "possibleRegions": [
    {"region": "country or region name", "confidence": 0-100, "reasoning": "why"}
  ],
  "impossibleRegions": ["regions your observations rule out"]
}`

const clueAnalysisSchema = `{
  "searchableClues": [
    {"clue": "what you see", "type": "category", "searchQuery": "web query to verify it, or omit"}
  ],
  "transcribedText": ["exact text visible in the images"],
  "infrastructure": ["built-environment observations"],
  "nature": ["natural-environment observations"]
}`

// Instruction builds the system instruction for one expert call. The
// persona is deliberately narrow: an expert reports only on its facet and
// must not guess a final answer.
func (e Expert) Instruction(strategy Strategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s helping to geolocate a photograph. ", e.Name)
	fmt.Fprintf(&b, "You examine only: %s. ", strings.TrimSpace(e.Focus))
	b.WriteString("Report what you actually observe. Do not speculate about facets outside your specialty, ")
	b.WriteString("and do not commit to a single final location. ")
	switch strategy {
	case StrategyClueFocused:
		b.WriteString("Extract concrete, verifiable clues and, where possible, a web search query that would confirm each one.")
	default:
		b.WriteString("Weigh which regions of the world your observations support or rule out, with a confidence for each.")
	}
	return b.String()
}

// Prompt builds the user-turn text for one expert call.
func (e Expert) Prompt(hints models.LocationHints, strategy Strategy) string {
	var b strings.Builder
	b.WriteString("Analyze the attached photograph(s) within your specialty.\n")
	if block := formatting.HintBlock(hints); block != "" {
		b.WriteString("\nContext supplied by the requester (may be wrong, verify against the images):\n")
		b.WriteString(block)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with a single JSON object, no surrounding commentary:\n")
	switch strategy {
	case StrategyClueFocused:
		b.WriteString(clueAnalysisSchema)
	default:
		b.WriteString(regionAnalysisSchema)
	}
	return b.String()
}
