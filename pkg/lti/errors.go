// pkg/lti/errors.go
package lti

import (
	"fmt"

	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
)

// ErrorKind classifies why a launch was rejected.
type ErrorKind string

const (
	ProtocolError                ErrorKind = "protocol_error"
	SignatureInvalid             ErrorKind = "signature_invalid"
	ReplayDetected               ErrorKind = "replay_detected"
	TimestampExpired             ErrorKind = "timestamp_expired"
	ConsumerRejected             ErrorKind = "consumer_rejected"
	ParameterConstraintViolation ErrorKind = "parameter_constraint_violation"
	ShareRejected                ErrorKind = "share_rejected"
	StorageFailure               ErrorKind = "storage_failure"
)

// LaunchError is the failure half of a launch. Reason is the human-readable
// text shown in debug mode; Err carries the underlying cause, if any.
type LaunchError struct {
	Kind   ErrorKind
	Reason string
	Err    error

	// debugOnly hides Reason from the user outside debug mode.
	debugOnly bool
}

func (e *LaunchError) Error() string {
	msg := "lti: " + string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

func reject(kind ErrorKind, reason string) *LaunchError {
	return &LaunchError{Kind: kind, Reason: reason}
}

func rejectDebug(kind ErrorKind, reason string) *LaunchError {
	return &LaunchError{Kind: kind, Reason: reason, debugOnly: true}
}

func storageFailure(op string, err error) *LaunchError {
	return &LaunchError{Kind: StorageFailure, Reason: "Unable to access the data store.", Err: fmt.Errorf("%s: %w", op, err), debugOnly: true}
}

// kindFromOAuth maps verifier failures onto launch error kinds. ok is false
// when err is not a protocol error (a store failed underneath).
func kindFromOAuth(err error) (kind ErrorKind, ok bool) {
	switch oauth1.KindOf(err) {
	case "":
		return StorageFailure, false
	case oauth1.NonceReused:
		return ReplayDetected, true
	case oauth1.ExpiredTimestamp:
		return TimestampExpired, true
	case oauth1.InvalidSignature, oauth1.InvalidConsumer:
		return SignatureInvalid, true
	default:
		return ProtocolError, true
	}
}
