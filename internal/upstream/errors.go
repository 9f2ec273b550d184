package upstream

import "fmt"

// NotFoundError is returned when the upstream reports that an event key
// does not resolve (HTTP 404 or equivalent).
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s not found upstream", e.Key)
}

// VerifierError carries an upstream-reported validation failure
// verbatim, with enough structure for the caller to decide between
// retrying and surfacing it to the user.
type VerifierError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *VerifierError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream rejected request (%d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream rejected request (%d): %s", e.StatusCode, e.Message)
}
