package convert

import "fmt"

// MissingScheduleDataError means a recurring event arrived without its
// recurrence schema, which happens when a caller renders an occurrence
// listing row without the supplementary full fetch.
type MissingScheduleDataError struct {
	Key string
}

func (e *MissingScheduleDataError) Error() string {
	return fmt.Sprintf("serial event %s has no recurrence schema; fetch it with full fields first", e.Key)
}

// NoChangeError reports an update whose iCalendar body is semantically
// identical to the stored event, so there is no patch to send.
type NoChangeError struct {
	Key string
}

func (e *NoChangeError) Error() string {
	return fmt.Sprintf("update for event %s contains no changes", e.Key)
}

// MalformedObjectError reports an iCalendar body this adapter cannot
// map onto an upstream event.
type MalformedObjectError struct {
	Reason string
}

func (e *MalformedObjectError) Error() string {
	return "malformed calendar object: " + e.Reason
}
