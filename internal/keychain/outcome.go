package keychain

import "fmt"

// Kind is the tag of an Outcome.
type Kind int

const (
	// Success means the operation did what was asked.
	Success Kind = iota
	// NonFatal means there was nothing to do: not found, already absent,
	// or a duplicate the caller asked to tolerate.
	NonFatal
	// Fatal means the native store reported a genuine error.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NonFatal:
		return "nonfatal"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of a single backend operation. Exactly one Kind
// holds; only Fatal outcomes carry a message.
type Outcome struct {
	kind    Kind
	message string
}

// Succeeded returns a Success outcome.
func Succeeded() Outcome { return Outcome{kind: Success} }

// NonFatalFailure returns a NonFatal outcome.
func NonFatalFailure() Outcome { return Outcome{kind: NonFatal} }

// Failed returns a Fatal outcome with a human-readable message.
func Failed(message string) Outcome {
	if message == "" {
		message = "An unknown error occurred."
	}
	return Outcome{kind: Fatal, message: message}
}

// Failedf is Failed with fmt.Sprintf formatting.
func Failedf(format string, args ...any) Outcome {
	return Failed(fmt.Sprintf(format, args...))
}

// FailedErr returns a Fatal outcome whose message is err's text.
func FailedErr(err error) Outcome {
	if err == nil {
		return Failed("")
	}
	return Failed(err.Error())
}

func (o Outcome) Kind() Kind { return o.kind }
func (o Outcome) IsSuccess() bool { return o.kind == Success }
func (o Outcome) IsNonFatal() bool { return o.kind == NonFatal }
func (o Outcome) IsFatal() bool { return o.kind == Fatal }

// Message returns the backend-supplied message of a Fatal outcome, or "".
func (o Outcome) Message() string {
	if o.kind != Fatal {
		return ""
	}
	return o.message
}

// Err returns a *FatalError for Fatal outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.kind != Fatal {
		return nil
	}
	return &FatalError{Message: o.message}
}

func (o Outcome) String() string {
	if o.kind == Fatal {
		return fmt.Sprintf("fatal: %s", o.message)
	}
	return o.kind.String()
}

// FatalError carries the opaque message of a Fatal outcome. The message is
// for humans; nothing in this module parses it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return e.Message }
