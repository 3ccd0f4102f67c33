// Package herr defines the outcome kinds surfaced by the hypercore kernel
// APIs.
package herr

import "fmt"

// Kind is one of the small set of outcomes a kernel API can report.
type Kind int

const (
	Ok Kind = iota
	InvalidArg
	NoMemory
	NotPermitted
	NotFound
	IoError
	Busy
	Timeout
	Aborted
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case InvalidArg:
		return "invalid-argument"
	case NoMemory:
		return "no-memory"
	case NotPermitted:
		return "not-permitted"
	case NotFound:
		return "not-found"
	case IoError:
		return "io-error"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case Aborted:
		return "aborted"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("herr.Kind(%d)", int(k))
	}
}

// Error wraps a Kind with a message, so callers can either switch on Kind
// or treat it as a normal error via errors.Is.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is lets errors.Is(err, herr.New(herr.NotFound, "")) match any error of
// the same Kind regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Fatal for errors the
// kernel did not originate.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Fatal
}
