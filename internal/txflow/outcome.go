// Package txflow turns a contract call into a tracked transaction: submit,
// await the receipt, decode failure, and report a single terminal outcome.
package txflow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies every failure an orchestration can surface.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindPermissionDenied   Kind = "permission_denied"
	KindWalletNotConnected Kind = "wallet_not_connected"
	KindWalletNotInstalled Kind = "wallet_not_installed"
	KindUserRejected       Kind = "user_rejected"
	KindProvider           Kind = "provider_error"
	KindRevert             Kind = "on_chain_revert"
	KindTimeout            Kind = "timeout"
	KindUnexpectedShape    Kind = "unexpected_response_shape"
)

// Codes for validation and policy failures callers may branch on.
const (
	CodeInvalidAddress        = "invalid_address"
	CodeInvalidName           = "invalid_name"
	CodeCannotRevokeSelf      = "cannot_revoke_self"
	CodeProtectedRole         = "protected_role"
	CodeDuplicateInFlight     = "duplicate_in_flight"
	CodeUnknownProject        = "unknown_project"
	CodeInvalidFraction       = "invalid_fractionalization"
	CodeInsufficientRemaining = "insufficient_remaining"
	CodePaymentStale          = "payment_stale"
	CodeListingNoLongerActive = "listing_no_longer_active"
	CodeFractionalUnavailable = "fractional_unavailable"
)

// Fault is the single error type crossing the orchestration boundary.
type Fault struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// Faultf builds a Fault with a formatted message.
func Faultf(kind Kind, code, format string, a ...any) *Fault {
	return &Fault{Kind: kind, Code: code, Message: fmt.Sprintf(format, a...)}
}

// WrapFault attaches a cause.
func WrapFault(kind Kind, msg string, err error) *Fault {
	return &Fault{Kind: kind, Message: msg, Err: err}
}

// AsFault extracts a *Fault from err, wrapping unknown errors as provider
// failures so nothing crosses the boundary untyped.
func AsFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindProvider, Message: err.Error(), Err: err}
}

// Status is the lifecycle state of one orchestrated transaction. An Outcome
// is created pending and moves exactly once to a terminal status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusReverted Status = "reverted"
	StatusRejected Status = "rejected_by_user"
	StatusTimedOut Status = "timed_out"
	StatusUnknown  Status = "unknown_response"
)

// Outcome is the single result every mutating orchestration reports. Hash is
// a pointer so unsubmitted outcomes omit it instead of rendering zeroes.
type Outcome struct {
	OpID         string       `json:"opId"`
	Action       string       `json:"action"`
	Hash         *common.Hash `json:"hash,omitempty"`
	Submitted    bool         `json:"submitted"`
	Status       Status       `json:"status"`
	RevertReason string       `json:"revertReason,omitempty"`
	Message      string       `json:"message,omitempty"`
}

// FromFault maps a terminal fault to the outcome status the UI shows.
func (o Outcome) FromFault(f *Fault) Outcome {
	switch f.Kind {
	case KindUserRejected:
		o.Status = StatusRejected
	case KindRevert:
		o.Status = StatusReverted
		o.RevertReason = f.Message
	case KindTimeout:
		o.Status = StatusTimedOut
	case KindUnexpectedShape:
		o.Status = StatusUnknown
	default:
		o.Status = StatusUnknown
	}
	o.Message = f.Message
	return o
}
