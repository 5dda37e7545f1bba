package models

import (
	"fmt"
	"time"
)

// ValidationError reports an outgoing message rejected before it reached
// the wire.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ConnectivityError reports a transport-level failure. Pending requests are
// failed with it when the connection is lost.
type ConnectivityError struct {
	Message string
	Cause   error
}

func (e *ConnectivityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connectivity error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connectivity error: %s", e.Message)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that no synchronous reply arrived within the
// request deadline.
type TimeoutError struct {
	Transaction string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: no reply for transaction %s within %v", e.Transaction, e.Timeout)
}

// ProtocolError reports that the gateway answered with an error status or
// that a reply was missing an expected field. Code and Reason are filled
// from the gateway's error object when one was present.
type ProtocolError struct {
	Op      string
	Message string
	Code    int
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("protocol error: %s: %s (code %d: %s)", e.Op, e.Message, e.Code, e.Reason)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Op, e.Message)
}

// NewProtocolError builds a ProtocolError from a gateway error reply.
func NewProtocolError(op string, data *ErrorData) *ProtocolError {
	perr := &ProtocolError{Op: op, Message: "request rejected"}
	if data != nil {
		perr.Code = data.Code
		perr.Reason = data.Reason
	}
	return perr
}
