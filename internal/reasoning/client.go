// Package reasoning wraps the external multimodal reasoning service.
// The client is a thin capability: images plus instruction in, raw text
// plus grounding citations out. Failure classification happens here, at
// the wire boundary, so everything upstream can match errors structurally.
package reasoning

import (
	"context"

	"github.com/meridianlabs/pinpoint/internal/models"
)

// Tool identifies an optional capability the reasoning service may use.
type Tool string

const (
	ToolWebSearch Tool = "web_search"
	ToolMapLookup Tool = "map_lookup"
)

// Request is one outbound reasoning call.
type Request struct {
	// Images may be empty for text-only degraded calls.
	Images []models.ImagePayload
	// Instruction is the system instruction / persona for this call.
	Instruction string
	// Prompt is the user-turn text.
	Prompt string
	// Tools lists the optional capabilities enabled for this call.
	Tools []Tool
	// SafetyThreshold overrides the configured threshold when non-empty.
	SafetyThreshold string
}

// HasTool reports whether t is enabled on the request.
func (r Request) HasTool(t Tool) bool {
	for _, rt := range r.Tools {
		if rt == t {
			return true
		}
	}
	return false
}

// WithoutTool returns a copy of the request with t removed.
func (r Request) WithoutTool(t Tool) Request {
	out := r
	out.Tools = make([]Tool, 0, len(r.Tools))
	for _, rt := range r.Tools {
		if rt != t {
			out.Tools = append(out.Tools, rt)
		}
	}
	return out
}

// TextOnly returns a copy of the request with all images dropped.
func (r Request) TextOnly() Request {
	out := r
	out.Images = nil
	return out
}

// RawResponse is the undecoded service output.
type RawResponse struct {
	Text    string
	Sources []models.Source
}

// Client is the single abstract dependency on the reasoning service.
// Implementations carry no retry logic; they fail fast with one of the
// typed errors in errors.go. Implementations must be safe for concurrent
// use — one configured instance is shared across all requests.
type Client interface {
	Invoke(ctx context.Context, req Request) (RawResponse, error)
}
