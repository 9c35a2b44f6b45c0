// Package relayerr implements the relay's error taxonomy: packet-level
// errors that are counted and never propagated, and session-level
// errors that terminate a session start.
package relayerr

import "fmt"

// ParseError marks a malformed AV packet. Dropped, counted, never fatal.
type ParseError struct {
	Reason string
	Cause  error
}

func (e ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e ParseError) Unwrap() error { return e.Cause }

// DecryptError marks a packet whose key_pos could not be decrypted.
type DecryptError struct {
	KeyPos uint32
	Cause  error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt error at key_pos=%d: %v", e.KeyPos, e.Cause)
}

func (e *DecryptError) Unwrap() error { return e.Cause }

// FecFailedError marks a frame whose erasure decode did not recover
// enough source units. The frame is marked Frozen or Dropped.
type FecFailedError struct {
	FrameIndex  uint16
	ReceivedSrc int
	UnitsSrc    int
}

func (e *FecFailedError) Error() string {
	return fmt.Sprintf("fec failed: frame=%d received_src=%d units_src=%d",
		e.FrameIndex, e.ReceivedSrc, e.UnitsSrc)
}

// ReorderDroppedError marks a packet dropped by the reorder queue,
// either because it arrived late or was evicted under pressure.
type ReorderDroppedError struct {
	Seq    uint16
	Reason string // "late" or "evicted"
}

func (e *ReorderDroppedError) Error() string {
	return fmt.Sprintf("reorder dropped seq=%d: %s", e.Seq, e.Reason)
}

// SessionFatalError surfaces handshake failures, a missing nonce, or
// a device that never became ready. Terminal for the session-start
// operation.
type SessionFatalError struct {
	Stage  string
	Reason string
	Cause  error
}

func (e SessionFatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session fatal at %s: %s: %v", e.Stage, e.Reason, e.Cause)
	}
	return fmt.Sprintf("session fatal at %s: %s", e.Stage, e.Reason)
}

func (e SessionFatalError) Unwrap() error { return e.Cause }

// SignalingRecoverableError marks a setRemoteDescription result the
// WebRTC library reported as codec-incompatible. Treated as best-effort
// if the signalling state still advances to stable.
type SignalingRecoverableError struct {
	Reason string
}

func (e *SignalingRecoverableError) Error() string {
	return fmt.Sprintf("signalling recoverable: %s", e.Reason)
}

// NetworkTransientError marks a transport-level timeout that triggers
// session teardown (not a retryable operation in place).
type NetworkTransientError struct {
	Op    string
	Cause error
}

func (e *NetworkTransientError) Error() string {
	return fmt.Sprintf("network transient during %s: %v", e.Op, e.Cause)
}

func (e *NetworkTransientError) Unwrap() error { return e.Cause }
