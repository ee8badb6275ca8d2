// Package dbaerr defines the stable error taxonomy shared by every package
// in this module: a numeric Code, a Kind grouping for callers that want to
// branch on category rather than exact code, and a message. Renaming a Code
// constant here is a breaking change, same as in the admin API it replaces.
package dbaerr

import (
	"errors"
	"fmt"
)

// Kind groups error Codes the way callers typically want to react to them.
type Kind int

const (
	KindPrecondition Kind = iota
	KindAvailability
	KindMetadataState
	KindTimeBound
	KindMemberState
	KindSchemaLifecycle
	KindCancellation
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindAvailability:
		return "availability"
	case KindMetadataState:
		return "metadata-state"
	case KindTimeBound:
		return "time-bound"
	case KindMemberState:
		return "member-state"
	case KindSchemaLifecycle:
		return "schema-lifecycle"
	case KindCancellation:
		return "cancellation"
	default:
		return "internal"
	}
}

// Code is a stable numeric identifier for a specific error condition.
type Code int

const (
	_ Code = iota

	// Precondition
	CodeTargetNotInCluster
	CodeLastMemberCannotRemove
	CodeOperationRequiresSinglePrimary
	CodeTopologyModeMismatch
	CodeMissingAuth
	CodeBadArgDuplicateAddress
	CodeBadArgDuplicateUUID
	CodeBadArgInvalidOption

	// Resource / availability
	CodeGroupUnreachable
	CodeGroupUnavailable
	CodeGroupHasNoQuorum
	CodeGroupHasNoPrimary
	CodePrimaryNotAvailable

	// Metadata state
	CodeMetadataMissing
	CodeMetadataInfoMissing
	CodeMemberMetadataMissing
	CodeAsyncPrimaryUndefined
	CodeActiveClusterNotFound

	// Time-bound
	CodeGTIDSyncTimeout
	CodeGTIDSyncError

	// Member state
	CodeGroupReplicationNotRunning
	CodeGroupMemberNotOnline
	CodeGroupMemberNotInQuorum

	// Schema lifecycle
	CodeSchemaUpgradeFailed
	CodeSchemaSetupFailed
	CodeSchemaLogicError

	// Cancellation
	CodeCancelled

	// Internal / driver
	CodeDriverError
	CodeInternal
)

var kindOf = map[Code]Kind{
	CodeTargetNotInCluster:             KindPrecondition,
	CodeLastMemberCannotRemove:         KindPrecondition,
	CodeOperationRequiresSinglePrimary: KindPrecondition,
	CodeTopologyModeMismatch:           KindPrecondition,
	CodeMissingAuth:                    KindPrecondition,
	CodeBadArgDuplicateAddress:         KindPrecondition,
	CodeBadArgDuplicateUUID:            KindPrecondition,
	CodeBadArgInvalidOption:            KindPrecondition,

	CodeGroupUnreachable:   KindAvailability,
	CodeGroupUnavailable:   KindAvailability,
	CodeGroupHasNoQuorum:   KindAvailability,
	CodeGroupHasNoPrimary:  KindAvailability,
	CodePrimaryNotAvailable: KindAvailability,

	CodeMetadataMissing:       KindMetadataState,
	CodeMetadataInfoMissing:   KindMetadataState,
	CodeMemberMetadataMissing: KindMetadataState,
	CodeAsyncPrimaryUndefined: KindMetadataState,
	CodeActiveClusterNotFound: KindMetadataState,

	CodeGTIDSyncTimeout: KindTimeBound,
	CodeGTIDSyncError:   KindTimeBound,

	CodeGroupReplicationNotRunning: KindMemberState,
	CodeGroupMemberNotOnline:       KindMemberState,
	CodeGroupMemberNotInQuorum:     KindMemberState,

	CodeSchemaUpgradeFailed: KindSchemaLifecycle,
	CodeSchemaSetupFailed:   KindSchemaLifecycle,
	CodeSchemaLogicError:    KindSchemaLifecycle,

	CodeCancelled: KindCancellation,

	CodeDriverError: KindInternal,
	CodeInternal:    KindInternal,
}

// Error is the concrete error type returned across package boundaries in
// this module. It wraps an optional cause (e.g. a driver error) without
// losing the cause's own code/sqlstate, which callers can still recover
// with errors.As.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, dbaerr.New(code, "")) match on Code alone.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Code == e.Code
	}
	return false
}

// New builds an *Error for code with message, inferring Kind from the
// code table above.
func New(code Code, message string) *Error {
	return &Error{Code: code, Kind: kindOf[code], Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new *Error of code/message, preserving cause for
// errors.Unwrap/errors.As.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Of reports whether err (or something it wraps) is a *dbaerr.Error of the
// given Code.
func Of(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// KindOf reports the Kind of err if it is a *dbaerr.Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}
