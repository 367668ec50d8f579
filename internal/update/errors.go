package update

import (
	"errors"
	"fmt"
)

// ErrorClass tags an update failure for counting, logging and acks.
type ErrorClass string

const (
	// ClassTransientNetwork covers timeouts, refused connections and
	// unexpected HTTP statuses.
	ClassTransientNetwork ErrorClass = "transient_network"
	// ClassMalformedRemoteData covers manifests or payloads that do not parse
	// or do not validate.
	ClassMalformedRemoteData ErrorClass = "malformed_remote_data"
	// ClassIntegrityFailure covers digest mismatches and corrupt encodings.
	ClassIntegrityFailure ErrorClass = "integrity_failure"
	// ClassLocalPersistence covers failures writing the image or config.
	ClassLocalPersistence ErrorClass = "local_persistence_failure"
	// ClassNoCandidate means Apply found nothing newer to install.
	ClassNoCandidate ErrorClass = "no_candidate"
)

// ErrNoCandidate is wrapped by Apply when no newer version is available.
var ErrNoCandidate = errors.New("no update candidate")

// Error is the error type returned by strategies.
type Error struct {
	Domain string
	Class  ErrorClass
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s update: %s: %v", e.Domain, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(domain string, class ErrorClass, format string, args ...any) *Error {
	return &Error{Domain: domain, Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class of err. Errors that did not come from a
// strategy are treated as transient.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Class
	}
	return ClassTransientNetwork
}

// counted reports whether a failure of this class counts toward the fuse.
func (c ErrorClass) counted() bool {
	return c != "" && c != ClassNoCandidate
}
