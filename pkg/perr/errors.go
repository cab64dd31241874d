// Package perr defines the pipeline's error taxonomy (§7). It replaces
// exceptions-for-control-flow with explicit, typed result kinds so
// callers can branch on retryability without string matching.
package perr

import "fmt"

// Kind enumerates the error taxonomy of §7. These are not Go types —
// they are a closed enumeration carried on a single error type so every
// layer (store, runtime, API) can classify failures uniformly.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindProvenanceMissing Kind = "ProvenanceIncomplete"
	KindRedactionResidue  Kind = "RedactionResidue"
	KindPluginLoadFailure Kind = "PluginLoadFailure"
	KindPluginTimeout     Kind = "PluginExecutionTimeout"
	KindStoreTransient    Kind = "StoreTransient"
	KindStoreCorruption   Kind = "StoreCorruption"
	KindHandoffIncomplete Kind = "HandoffIncomplete"
	KindPolicyDenied      Kind = "PolicyDenied"
	KindNoEvidence        Kind = "NoEvidence"
)

// Retryable reports whether the taxonomy entry for kind is worth a retry
// without operator intervention (§7 propagation rules).
func (k Kind) Retryable() bool {
	switch k {
	case KindPluginTimeout, KindStoreTransient:
		return true
	default:
		return false
	}
}

// Fatal reports whether kind halts the containing run rather than being
// handled locally (store corruption, invariant violations).
func (k Kind) Fatal() bool {
	return k == KindStoreCorruption
}

// Error is the pipeline's single structured error type. Component code
// should construct one via the New* helpers below rather than
// fmt.Errorf, so every error surfaced to a caller or the audit store
// carries a classification.
type Error struct {
	Kind    Kind
	Op      string // component/operation that raised it, e.g. "store.PutRecord"
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a classified error around an existing cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Is allows errors.Is(err, perr.KindX) style checks against a bare Kind
// by adapting Kind to the comparable-error convention used elsewhere in
// the pipeline.
func Is(err error, kind Kind) bool {
	var pe *Error
	if AsError(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// AsError is a small errors.As shim kept local to avoid importing
// "errors" into call sites that only want the boolean result.
func AsError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
