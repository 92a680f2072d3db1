package server

import (
	"errors"

	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/meridianlabs/pinpoint/internal/constants"
)

// ErrorKind is the closed set of pipeline-level failures a caller can
// observe. Anything else from the workflow engine maps to KindInternal.
type ErrorKind string

const (
	KindBadRequest       ErrorKind = "bad_request"
	KindAllExpertsFailed ErrorKind = "all_experts_failed"
	KindVerification     ErrorKind = "verification_failed"
	KindUnavailable      ErrorKind = "service_unavailable"
	KindInternal         ErrorKind = "internal"
)

// PipelineError is the only error type Analyze and Refine return. Callers
// switch on Kind; the cause is carried for logs.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.cause }

func pipelineErr(kind ErrorKind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, cause: cause}
}

// fromWorkflowError maps a workflow outcome onto the enumerable error set
// using the application error type, never message text.
func fromWorkflowError(err error) *PipelineError {
	var appErr *sdktemporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case constants.ErrTypeAllExpertsFailed:
			return pipelineErr(KindAllExpertsFailed, "every expert analysis failed", err)
		case constants.ErrTypeVerificationFailed,
			constants.ErrTypeMalformedOutput,
			constants.ErrTypeEmptyResponse,
			constants.ErrTypeToolInputRejected:
			return pipelineErr(KindVerification, "verification could not produce a result", err)
		case constants.ErrTypeServiceUnavailable:
			return pipelineErr(KindUnavailable, "reasoning service unavailable", err)
		}
	}
	return pipelineErr(KindInternal, "pipeline execution failed", err)
}
