package errors

import "errors"

// Kind identifies one of the circuit-management-core error kinds. Unlike
// Category (which groups errors by subsystem for logging/metrics), Kind
// pins down the exact propagation rule: some kinds are
// locally recovered by retrying on a different circuit, some requeue the
// request, and the rest always surface to the caller or scheduler.
type Kind string

const (
	KindConnectionFail   Kind = "connection_fail"
	KindHandshakeFail    Kind = "handshake_fail"
	KindStreamTimeout    Kind = "stream_timeout"
	KindStreamError      Kind = "stream_error"
	KindCircuitDestroyed Kind = "circuit_destroyed"
	KindPolicyReject     Kind = "policy_reject"
	KindProtocolViolation Kind = "protocol_violation"
	KindInterrupted      Kind = "interrupted"
)

// KindError is a TorError tagged with a Kind, so callers can switch on the
// exact error kind instead of the coarser Category/Severity pair.
type KindError struct {
	*TorError
	ErrKind Kind
}

// Unwrap exposes the underlying TorError to errors.As/errors.Is chains.
func (e *KindError) Unwrap() error { return e.TorError }

func newKind(kind Kind, category ErrorCategory, severity Severity, retryable bool, message string, err error) *KindError {
	te := &TorError{Category: category, Severity: severity, Message: message, Underlying: err, Retryable: retryable}
	return &KindError{TorError: te, ErrKind: kind}
}

// ConnectionFail reports that the chosen entry hop could not be reached.
func ConnectionFail(message string, err error) *KindError {
	return newKind(KindConnectionFail, CategoryConnection, SeverityMedium, true, message, err)
}

// HandshakeFail reports a failed or timed-out create/extend handshake step.
func HandshakeFail(message string, err error) *KindError {
	return newKind(KindHandshakeFail, CategoryCrypto, SeverityHigh, false, message, err)
}

// StreamTimeout reports that no CONNECTED cell arrived within the stream-open deadline.
func StreamTimeout(message string) *KindError {
	return newKind(KindStreamTimeout, CategoryTimeout, SeverityLow, true, message, nil)
}

// StreamError reports a remote END cell carrying a non-success reason.
func StreamError(message string) *KindError {
	return newKind(KindStreamError, CategoryProtocol, SeverityLow, true, message, nil)
}

// CircuitDestroyed reports that a DESTROY cell or local policy closed the circuit.
func CircuitDestroyed(message string) *KindError {
	return newKind(KindCircuitDestroyed, CategoryCircuit, SeverityMedium, false, message, nil)
}

// PolicyReject reports that no circuit's last hop admits the requested target.
// Transient: the caller's request is requeued rather than failed outright.
func PolicyReject(message string) *KindError {
	return newKind(KindPolicyReject, CategoryCircuit, SeverityLow, true, message, nil)
}

// ProtocolViolation reports a window underflow, undecodable cell, or
// unexpected stream id. The offending circuit must be destroyed and marked
// FAILED; it is never retried.
func ProtocolViolation(message string) *KindError {
	return newKind(KindProtocolViolation, CategoryProtocol, SeverityCritical, false, message, nil)
}

// Interrupted reports caller cancellation of a pending request.
func Interrupted(message string) *KindError {
	return newKind(KindInterrupted, CategoryInternal, SeverityLow, false, message, nil)
}

// GetKind returns the Kind carried by err, if any.
func GetKind(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.ErrKind, true
	}
	return "", false
}
