package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Expert panel activities
	RunRegionExpertActivity = "RunRegionExpert"
	RunClueExpertActivity   = "RunClueExpert"

	// Verification activities
	VerifyLocationActivity = "VerifyLocation"
	RefineLocationActivity = "RefineLocation"
)

// Error type strings attached to application errors crossing the
// activity boundary. The workflow matches these by type, never by
// message contents.
const (
	ErrTypeAllExpertsFailed   = "AllExpertsFailed"
	ErrTypeToolInputRejected  = "ToolInputRejected"
	ErrTypeEmptyResponse      = "EmptyResponse"
	ErrTypeServiceUnavailable = "ServiceUnavailable"
	ErrTypeMalformedOutput    = "MalformedOutput"
	ErrTypeVerificationFailed = "VerificationFailed"
)
