// Package common holds constants and the error taxonomy shared by every
// layer of the HMA lock manager: the file mapper, the OS lock primitive,
// the client registry, and the page lock engine.
package common

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Fixed parameters of the HMA wire format. A Config (see package pagelock)
// may override these per-handle, but the encoding itself tolerates at most
// 26 client slots (5 bits of write-field headroom) regardless of override.
const (
	DefaultClientSlots   = 16
	DefaultPageLockSlots = 262144
	DefaultSuffix        = "-hma"
	MaxClientSlots       = 26
)

// Kind is the exhaustive result taxonomy for every HMA operation.
type Kind int

const (
	KindOk Kind = iota
	KindBusy
	KindBusyDeadlock
	KindCantOpen
	KindNoMem
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "Ok"
	case KindBusy:
		return "Busy"
	case KindBusyDeadlock:
		return "BusyDeadlock"
	case KindCantOpen:
		return "CantOpen"
	case KindNoMem:
		return "NoMem"
	default:
		return "Error"
	}
}

// LockError is the single tagged result type every component returns in
// place of mixed, ad hoc error values.
type LockError struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *LockError {
	return &LockError{Kind: kind, Msg: msg}
}

// Wrap attaches a stack-carrying cause (via github.com/pkg/errors) to a
// CantOpen/Error-kind failure, used at every mapping/stat/mmap boundary.
func Wrap(kind Kind, cause error, msg string) *LockError {
	return &LockError{Kind: kind, Msg: msg, Cause: pkgerrors.Wrap(cause, msg)}
}

func (e *LockError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Msg
}

func (e *LockError) Unwrap() error { return e.Cause }

// KindOf recovers the Kind carried by err, or KindError for any other
// non-nil error, or KindOk for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindOk
	}
	var le *LockError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindError
}

// IsBusy reports whether err is a transient contention outcome (Busy or
// BusyDeadlock) as opposed to an I/O or allocation failure.
func IsBusy(err error) bool {
	k := KindOf(err)
	return k == KindBusy || k == KindBusyDeadlock
}
