package api

import "fmt"

// ErrorKind classifies an API failure. Callers branch on the kind, never
// on message text: the validation pipeline fails open on every kind, while
// the delivery session only needs to know the submission did not land.
type ErrorKind int

const (
	// KindTransport covers connect failures, timeouts and interrupted reads.
	KindTransport ErrorKind = iota
	// KindSigning covers failures while producing request authentication.
	KindSigning
	// KindSerialization covers JSON encode/decode failures on either side.
	KindSerialization
	// KindHTTPStatus means the platform answered with a non-2xx status.
	KindHTTPStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSigning:
		return "signing"
	case KindSerialization:
		return "serialization"
	case KindHTTPStatus:
		return "http_status"
	default:
		return "unknown"
	}
}

// Error is the closed failure type returned by every Client operation.
// Status and Body are set only for KindHTTPStatus.
type Error struct {
	Kind   ErrorKind
	Status int
	Body   string
	err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("api: platform returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("api: %s error: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}
