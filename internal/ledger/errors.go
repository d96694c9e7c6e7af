package ledger

import "fmt"

// RejectionError means the ledger executed an Operation and explicitly
// rejected it (insufficient funds, object already in the requested state).
// The Code is ledger-native and may be mapped to a user-facing message.
type RejectionError struct {
	Action string
	Code   string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ledger rejected %s (%s): %s", e.Action, e.Code, e.Detail)
	}
	return fmt.Sprintf("ledger rejected %s (%s)", e.Action, e.Code)
}

// RejectionFromReceipt converts a failed Receipt into a RejectionError.
func RejectionFromReceipt(action string, r *Receipt) *RejectionError {
	return &RejectionError{Action: action, Code: r.Code, Detail: r.ErrorDetail}
}

// TransientError means the ledger could not be reached or the call timed out:
// no definitive outcome is known, unlike a RejectionError.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedReceiptError means a Receipt did not carry the created object a
// caller required. Decoding fails explicitly rather than handing back a zero
// handle.
type MalformedReceiptError struct {
	LogicalType string
	Reason      string
}

func (e *MalformedReceiptError) Error() string {
	return fmt.Sprintf("malformed receipt for logical type %q: %s", e.LogicalType, e.Reason)
}
