// Package errs classifies failures of the cache sync steps.
//
// Every error that crosses a package boundary in volt carries a Kind so the
// orchestration layer can decide whether a failure is fatal (configuration)
// or only aborts the current sync step (everything else).
package errs

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind uint8

const (
	Other         Kind = iota
	Configuration      // unknown profile, malformed credential, invalid slot id
	Transport          // connection refused, timeout, TLS failure
	Protocol           // unexpected status from the cache store
	Codec              // decompression or extraction failure
	Storage            // server-side filesystem or object store failure
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Transport:
		return "transport error"
	case Protocol:
		return "protocol error"
	case Codec:
		return "codec error"
	case Storage:
		return "storage error"
	}
	return "error"
}

// Error is a failure tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err still produces an error so callers
// can report conditions that have no underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is shorthand for E(kind, op, fmt.Errorf(format, args...)).
func Errorf(kind Kind, op, format string, args ...any) error {
	return E(kind, op, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err is classified as kind.
func Is(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}

// Retriable reports whether repeating the request that failed with err may
// succeed. Only transport failures qualify; a status answered by the server
// is repeated verbatim on a retry.
func Retriable(err error) bool {
	return Is(Transport, err)
}
