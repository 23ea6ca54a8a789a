package table

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kind classifies a table error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidName
	KindInvalidAddressFamily
	KindDeviceUnavailable
	KindInvalidHandle
	KindTableNotFound
	KindDeviceRejected
)

func (k Kind) String() string {
	switch k {
	case KindInvalidName:
		return "invalid name"
	case KindInvalidAddressFamily:
		return "invalid address family"
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindInvalidHandle:
		return "invalid handle"
	case KindTableNotFound:
		return "table not found"
	case KindDeviceRejected:
		return "device rejected"
	default:
		return "unknown"
	}
}

// Error describes a failed table operation.
type Error struct {
	Op     string // "open", "close", "ensure", "add"
	Kind   Kind
	Anchor string
	Table  string
	Code   int // raw device diagnostic (errno), 0 if none
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidName          = &Error{Kind: KindInvalidName}
	ErrInvalidAddressFamily = &Error{Kind: KindInvalidAddressFamily}
	ErrDeviceUnavailable    = &Error{Kind: KindDeviceUnavailable}
	ErrInvalidHandle        = &Error{Kind: KindInvalidHandle}
	ErrTableNotFound        = &Error{Kind: KindTableNotFound}
	ErrDeviceRejected       = &Error{Kind: KindDeviceRejected}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("table: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteByte(' ')
	}
	if e.Anchor != "" || e.Table != "" {
		b.WriteString(e.Anchor)
		b.WriteByte('/')
		b.WriteString(e.Table)
		b.WriteByte(' ')
	}
	b.WriteString(e.Kind.String())
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// deviceError normalises an error returned by a Device. Errors that already
// carry a kind keep it; anything else becomes KindDeviceRejected with the errno
// preserved in Code.
func deviceError(op, anchor, name string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		out := *te
		if out.Op == "" {
			out.Op = op
		}
		if out.Anchor == "" && out.Table == "" {
			out.Anchor, out.Table = anchor, name
		}
		if out.Kind == KindUnknown {
			out.Kind = KindDeviceRejected
		}
		if out.Code == 0 {
			out.Code = errnoOf(err)
		}
		return &out
	}
	return &Error{
		Op:     op,
		Kind:   KindDeviceRejected,
		Anchor: anchor,
		Table:  name,
		Code:   errnoOf(err),
		Err:    err,
	}
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
