// Package formatting renders pipeline data into prompt text blocks.
package formatting

import (
	"fmt"
	"strings"

	"github.com/meridianlabs/pinpoint/internal/models"
)

// maxItemLen bounds one rendered list entry; model output occasionally
// contains paragraph-length "observations".
const maxItemLen = 300

// HintBlock renders caller-supplied hints as labeled lines. Returns ""
// when no hint is set.
func HintBlock(h models.LocationHints) string {
	if h.Empty() {
		return ""
	}
	var b strings.Builder
	writeLine := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, Truncate(value, maxItemLen))
		}
	}
	writeLine("Continent", h.Continent)
	writeLine("Country", h.Country)
	writeLine("City", h.City)
	writeLine("Additional info", h.AdditionalInfo)
	writeLine("GPS metadata", h.GPSHint)
	writeLine("Reverse image search", h.ReverseImageSummary)
	return strings.TrimRight(b.String(), "\n")
}

// ClueSummary renders aggregated clues as the evidence section of the
// verification prompt.
func ClueSummary(agg models.AggregatedClues) string {
	var b strings.Builder
	if len(agg.TranscribedText) > 0 {
		b.WriteString("Visible text:\n")
		writeItems(&b, agg.TranscribedText)
	}
	if len(agg.SearchableClues) > 0 {
		b.WriteString("Identified clues:\n")
		for _, c := range agg.SearchableClues {
			line := c.Clue
			if c.Type != "" {
				line = fmt.Sprintf("[%s] %s", c.Type, c.Clue)
			}
			fmt.Fprintf(&b, "- %s\n", Truncate(line, maxItemLen))
		}
	}
	if len(agg.Infrastructure) > 0 {
		b.WriteString("Built environment:\n")
		writeItems(&b, agg.Infrastructure)
	}
	if len(agg.Nature) > 0 {
		b.WriteString("Natural environment:\n")
		writeItems(&b, agg.Nature)
	}
	return strings.TrimRight(b.String(), "\n")
}

// QueryList renders suggested search queries as a numbered list.
func QueryList(queries []string) string {
	var b strings.Builder
	for i, q := range queries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, Truncate(q, maxItemLen))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeItems(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", Truncate(item, maxItemLen))
	}
}

// Truncate shortens s to maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
