package ledger

import "context"

// ObjectHandle is an opaque identifier for a ledger-resident object (a
// ticket, a sale container, a capability token). Handles are only ever
// sourced from a Receipt or a Query result, never constructed client-side.
type ObjectHandle string

// Status is the ledger's outcome classification for one Operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Operation is an immutable description of one unit of work submitted to the
// ledger: a target action, typed arguments, and a resource budget. Created
// fresh per stage and never mutated after submission.
type Operation struct {
	Action      string         `json:"action"`
	Args        map[string]any `json:"args"`
	BudgetUnits int64          `json:"budget_units,omitempty"`
}

// CreatedObject is one newly created ledger object reported by a Receipt,
// tagged with its logical type.
type CreatedObject struct {
	Handle      ObjectHandle `json:"handle"`
	LogicalType string       `json:"logical_type"`
}

// BalanceDelta reports a balance change caused by an Operation.
type BalanceDelta struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Receipt is the ledger's response to one Operation. Immutable; consumed
// once to extract handles and then discarded, or surfaced to the caller on
// failure.
type Receipt struct {
	Status         Status          `json:"status"`
	CreatedObjects []CreatedObject `json:"created_objects"`
	BalanceDeltas  []BalanceDelta  `json:"balance_deltas,omitempty"`
	Code           string          `json:"code,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
}

// Succeeded reports whether the ledger executed the Operation successfully.
func (r *Receipt) Succeeded() bool {
	return r.Status == StatusSuccess
}

// HandleOf returns the handle of the first created object carrying the given
// logical type. Receipts are decoded strictly: a missing or empty handle is a
// MalformedReceiptError, never a silent zero value.
func (r *Receipt) HandleOf(logicalType string) (ObjectHandle, error) {
	for _, obj := range r.CreatedObjects {
		if obj.LogicalType != logicalType {
			continue
		}
		if obj.Handle == "" {
			return "", &MalformedReceiptError{
				LogicalType: logicalType,
				Reason:      "created object has an empty handle",
			}
		}
		return obj.Handle, nil
	}
	return "", &MalformedReceiptError{
		LogicalType: logicalType,
		Reason:      "no created object of this logical type",
	}
}

// Filter selects ledger objects for a Query. Zero-valued fields match
// everything.
type Filter struct {
	Owner       string       `json:"owner,omitempty"`
	LogicalType string       `json:"logical_type,omitempty"`
	Handle      ObjectHandle `json:"handle,omitempty"`
}

// Client is the single interface the marketplace core depends on. Submit
// executes exactly one Operation; Query enumerates objects without side
// effects. A Submit error is a transport-level failure with no definitive
// outcome; a Receipt with StatusFailure means the ledger executed and
// rejected the Operation.
type Client interface {
	Submit(ctx context.Context, op *Operation) (*Receipt, error)
	Query(ctx context.Context, filter Filter) ([]ObjectHandle, error)
}
