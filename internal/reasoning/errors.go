package reasoning

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse means the service answered with no usable text,
	// typically a content-safety refusal.
	ErrEmptyResponse = errors.New("reasoning: empty response")

	// ErrServiceUnavailable covers transport failures, 429s and 5xx
	// answers, and an open circuit breaker.
	ErrServiceUnavailable = errors.New("reasoning: service unavailable")
)

// ToolInputRejectedError is returned when the service rejects the request
// because of a tool argument. The offending tool is identified here so the
// retry controller can match it structurally instead of scraping messages.
type ToolInputRejectedError struct {
	Tool   Tool
	Detail string
}

func (e *ToolInputRejectedError) Error() string {
	return fmt.Sprintf("reasoning: tool input rejected (%s): %s", e.Tool, e.Detail)
}

// IsToolRejected reports whether err is a tool rejection, returning the
// typed error when it is.
func IsToolRejected(err error) (*ToolInputRejectedError, bool) {
	var rej *ToolInputRejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
