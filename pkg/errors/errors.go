// Package errors defines the uniform failure carrier used across every
// tier, the MVCC core, the WAL, and the SQL pipeline.
//
// Every public operation in the engine returns a plain error; internal
// packages build theirs with New/Newf/Wrap so a caller can always recover
// the Kind via Is, regardless of how many layers wrapped it.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Kind classifies a failure the way spec.md §7 enumerates them.
type Kind int

const (
	Unknown Kind = iota
	Storage
	Schema
	Serialization
	KeyNotFound
	TableNotFound
	TypeMismatch
	ConstraintViolation
	NotImplemented
	SqlParse
	SqlExecution
	SqlNotSupported
	TransactionConflict
	TransactionAborted
	InvalidOperation
	IndexAlreadyExists
	IndexNotFound
	Wal
	CheckpointFailed
	RecoveryFailed
	Encryption
	InvalidArguments
	LockPoisoned
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage"
	case Schema:
		return "schema"
	case Serialization:
		return "serialization"
	case KeyNotFound:
		return "key_not_found"
	case TableNotFound:
		return "table_not_found"
	case TypeMismatch:
		return "type_mismatch"
	case ConstraintViolation:
		return "constraint_violation"
	case NotImplemented:
		return "not_implemented"
	case SqlParse:
		return "sql_parse"
	case SqlExecution:
		return "sql_execution"
	case SqlNotSupported:
		return "sql_not_supported"
	case TransactionConflict:
		return "transaction_conflict"
	case TransactionAborted:
		return "transaction_aborted"
	case InvalidOperation:
		return "invalid_operation"
	case IndexAlreadyExists:
		return "index_already_exists"
	case IndexNotFound:
		return "index_not_found"
	case Wal:
		return "wal"
	case CheckpointFailed:
		return "checkpoint_failed"
	case RecoveryFailed:
		return "recovery_failed"
	case Encryption:
		return "encryption"
	case InvalidArguments:
		return "invalid_arguments"
	case LockPoisoned:
		return "lock_poisoned"
	default:
		return "unknown"
	}
}

// Error is the carrier every package in this module returns. It keeps a
// Kind for programmatic dispatch and an optional cause reachable via
// Unwrap/Is/As, built through cockroachdb/errors so a stack trace is
// attached at creation time.
type Error struct {
	kind   Kind
	msg    string
	cause  error
	fields map[string]string // extra context: table, sql, expected/actual, etc.
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the failure classification.
func (e *Error) Kind() Kind { return e.kind }

// Field looks up extra structured context (e.g. "table", "sql").
func (e *Error) Field(key string) (string, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// New builds a Kind-tagged error with a stack trace.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg, cause: cockroacherrors.New(msg)}
}

// Newf builds a Kind-tagged error with formatting and a stack trace.
func Newf(kind Kind, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{kind: kind, msg: msg, cause: cockroacherrors.New(msg)}
}

// Wrap attaches a Kind to an underlying cause, preserving it for Unwrap.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, cause: cockroacherrors.Wrap(cause, msg)}
}

// WithField attaches structured context to a *Error built by this package;
// no-op (returns err unchanged) if err wasn't built here.
func WithField(err error, key, value string) error {
	e, ok := err.(*Error)
	if !ok {
		return err
	}
	cp := *e
	cp.fields = make(map[string]string, len(e.fields)+1)
	for k, v := range e.fields {
		cp.fields[k] = v
	}
	cp.fields[key] = value
	return &cp
}

// Is reports whether the outermost *Error in err's chain carries the
// given Kind; the Kinds of *Error values wrapped beneath it are not
// consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	if cockroacherrors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// TypeMismatchError builds the {expected,actual} variant of TypeMismatch.
func TypeMismatchError(expected, actual string) error {
	e := &Error{kind: TypeMismatch, msg: fmt.Sprintf("expected %s, got %s", expected, actual)}
	e.cause = cockroacherrors.New(e.msg)
	e.fields = map[string]string{"expected": expected, "actual": actual}
	return e
}

// SqlParseError builds the {message,sql} variant of SqlParse.
func SqlParseError(message, sql string) error {
	e := &Error{kind: SqlParse, msg: message}
	e.cause = cockroacherrors.New(message)
	e.fields = map[string]string{"sql": sql}
	return e
}

// SqlExecutionError builds the {message,context} variant of SqlExecution.
func SqlExecutionError(message, context string) error {
	e := &Error{kind: SqlExecution, msg: message}
	e.cause = cockroacherrors.New(message)
	e.fields = map[string]string{"context": context}
	return e
}

// SqlNotSupportedError builds the {feature,hint} variant of SqlNotSupported.
func SqlNotSupportedError(feature, hint string) error {
	e := &Error{kind: SqlNotSupported, msg: fmt.Sprintf("%s is not supported", feature)}
	e.cause = cockroacherrors.New(e.msg)
	e.fields = map[string]string{"feature": feature, "hint": hint}
	return e
}

// InvalidOperationError builds the {message,context} variant of InvalidOperation.
func InvalidOperationError(message, context string) error {
	e := &Error{kind: InvalidOperation, msg: message}
	e.cause = cockroacherrors.New(message)
	e.fields = map[string]string{"context": context}
	return e
}
