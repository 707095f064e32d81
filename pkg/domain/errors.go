package domain

import (
	"errors"
	"fmt"
)

// Kind classifies ledger failures so callers can map them to responses
// without parsing messages.
type Kind string

// Error kinds. Only KindTransient is safe to retry automatically.
const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidState      Kind = "invalid_state"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

// Sentinel errors matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrTransient         = errors.New("transient")
)

var sentinels = map[Kind]error{
	KindInvalidArgument:   ErrInvalidArgument,
	KindNotFound:          ErrNotFound,
	KindConflict:          ErrConflict,
	KindInsufficientStock: ErrInsufficientStock,
	KindInvalidState:      ErrInvalidState,
	KindTransient:         ErrTransient,
}

// Error is the typed failure returned by stores and services.
type Error struct {
	Kind   Kind
	Entity EntityType
	ID     string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Entity != "" && e.ID != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Entity, e.ID, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NotFound reports a missing entity.
func NotFound(entity EntityType, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Msg: "not found"}
}

// Conflict reports a uniqueness violation on entity.
func Conflict(entity EntityType, id, msg string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Msg: msg}
}

// InsufficientStock reports a debit larger than the available units.
func InsufficientStock(bt BloodType, available, requested int) *Error {
	return &Error{
		Kind:   KindInsufficientStock,
		Entity: EntityInventory,
		ID:     string(bt),
		Msg:    fmt.Sprintf("requested %d units, %d available", requested, available),
	}
}

// KindOf extracts the kind of err. Rule violations classify as invalid state;
// anything unrecognized is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return KindInvalidState
	}
	return KindInternal
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
