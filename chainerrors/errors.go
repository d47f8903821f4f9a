// Package chainerrors defines the error taxonomy shared by every subsystem
// of the indexer core: the sync pipeline, the persistence runtime and the
// chain-linking logic all return errors built from these sentinels so
// callers can classify a failure with errors.Is/errors.As instead of
// string-matching.
package chainerrors

import "fmt"

// Kind classifies why an operation failed. It does not replace the
// underlying error (returned via Unwrap) - it lets callers decide policy
// (retry, drop, abort, panic) without inspecting error strings.
type Kind int

const (
	// KindNotFound is used when an expected key is absent. Most reads
	// surface this as (nil, nil) instead of an error; it is only
	// constructed when an invariant requires the key to be present.
	KindNotFound Kind = iota
	// KindStorageBackend wraps a failure returned by the embedded kv engine
	// (IO error, corruption, transaction abort).
	KindStorageBackend
	// KindChannelDisconnected means a writer actor or pipeline stage
	// terminated while a caller was still waiting on it.
	KindChannelDisconnected
	// KindValidationError is a schema mismatch discovered at runtime wiring
	// time: a type/kind mismatch or a missing dependency between columns.
	KindValidationError
	// KindInvariantViolation marks programmer error or data corruption.
	// No code in this module constructs it: the invariant checks in
	// syncer's chainLink panic directly instead of returning an Error.
	KindInvariantViolation
	// KindProviderError is returned by the upstream BlockProvider/BlockChain
	// collaborators.
	KindProviderError
	// KindDoubleSpend is raised by the WriteFrom column runtime when two
	// parent entities in the same batch declare the same "from" value.
	KindDoubleSpend
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStorageBackend:
		return "storage_backend"
	case KindChannelDisconnected:
		return "channel_disconnected"
	case KindValidationError:
		return "validation_error"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindProviderError:
		return "provider_error"
	case KindDoubleSpend:
		return "double_spend"
	default:
		return "unknown"
	}
}

// Error is the structured error value returned by this module's public
// APIs. It is never constructed for NotFound results that are surfaced as
// (nil, nil) - see the Kind doc comment.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "writer.Flush"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a chainerrors.Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is a chainerrors.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as walks err's single-Unwrap chain and stores the first *Error it finds
// in target; joined errors (Unwrap() []error) are not searched.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
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
