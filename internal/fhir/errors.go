package fhir

import (
	"errors"
	"fmt"
)

// ErrAuthConfiguration reports that the server's conformance document did not
// yield the authorization endpoints the configured variant requires. Fatal:
// re-authentication cannot fix a server that never advertised a token URL.
var ErrAuthConfiguration = errors.New("authorization endpoints missing from conformance")

// ErrNotFound reports a 404 from the server. Search paths treat this as an
// empty result, matching servers that 404 on unsupported compartments.
var ErrNotFound = errors.New("resource not found")

// AuthError is an authentication/authorization failure (expired or rejected
// token). Recoverable exactly once by rebuilding the session.
type AuthError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s: status %d", e.URL, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError is a transport-level failure (refused connection, timeout,
// broken pipe). Recoverable exactly once by rebuilding the session.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed for %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RequestError is a 4xx rejection of a single query — in production this
// usually means bad data on the server side. The offending query is skipped;
// the run continues.
type RequestError struct {
	URL        string
	StatusCode int
	Outcome    string // OperationOutcome issue text when the server sent one
}

func (e *RequestError) Error() string {
	if e.Outcome != "" {
		return fmt.Sprintf("request rejected for %s: status %d: %s", e.URL, e.StatusCode, e.Outcome)
	}
	return fmt.Sprintf("request rejected for %s: status %d", e.URL, e.StatusCode)
}

// IsRecoverable reports whether err is one of the failure classes that a
// single session rebuild may fix.
func IsRecoverable(err error) bool {
	var authErr *AuthError
	var connErr *ConnectionError
	return errors.As(err, &authErr) || errors.As(err, &connErr)
}
