package flash

import (
	"errors"
	"fmt"

	"github.com/petitechose/midi-studio-loader/pkg/halfkay"
	"github.com/petitechose/midi-studio-loader/pkg/hexfile"
)

// Kind classifies an operation failure for programmatic callers and exit
// codes.
type Kind string

const (
	KindNoDevice        Kind = "no_device"
	KindInvalidHex      Kind = "invalid_hex"
	KindWriteFailed     Kind = "write_failed"
	KindAmbiguousTarget Kind = "ambiguous_target"
	KindUnexpected      Kind = "unexpected"
)

// Process exit codes, part of the CLI contract.
const (
	ExitOK              = 0
	ExitNoDevice        = 10
	ExitInvalidHex      = 11
	ExitWriteFailed     = 12
	ExitAmbiguousTarget = 13
	ExitUnexpected      = 20
)

// ExitCode maps the kind to its process exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindNoDevice:
		return ExitNoDevice
	case KindInvalidHex:
		return ExitInvalidHex
	case KindWriteFailed:
		return ExitWriteFailed
	case KindAmbiguousTarget:
		return ExitAmbiguousTarget
	default:
		return ExitUnexpected
	}
}

// Error wraps a cause with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies any error returned by this package's operations.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, hexfile.ErrInvalidHex) {
		return KindInvalidHex
	}
	if errors.Is(err, halfkay.ErrNoDevice) {
		return KindNoDevice
	}
	return KindUnexpected
}

// ExitCode returns the process exit code for an operation result.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return KindOf(err).ExitCode()
}
