package metervm

import (
	"errors"
	"fmt"
)

// InstrumentationErrorKind enumerates the ways the metering instrumentation
// pass can fail to produce a valid module.
type InstrumentationErrorKind int

const (
	GasMeteringInjection InstrumentationErrorKind = iota
	StackHeightInjection
	MultipleTables
	MaxTableSize
	InvalidByteCode
	InvalidInstructionType
)

func (k InstrumentationErrorKind) String() string {
	switch k {
	case GasMeteringInjection:
		return "gas metering injection"
	case StackHeightInjection:
		return "stack height injection"
	case MultipleTables:
		return "multiple tables"
	case MaxTableSize:
		return "table exceeds max size"
	case InvalidByteCode:
		return "invalid bytecode"
	case InvalidInstructionType:
		return "invalid instruction type"
	default:
		return "unknown instrumentation error"
	}
}

// Sentinel errors forming the closed taxonomy a caller can match against
// with errors.Is. Every error this package returns from Execute satisfies
// errors.Is against exactly one of these.
var (
	ErrExecutionPanic     = errors.New("metervm: guest execution panicked")
	ErrInvalidUTF8        = errors.New("metervm: invalid utf-8 in guest-provided string")
	ErrInvalidData        = errors.New("metervm: invalid data (out of bounds or malformed)")
	ErrOutOfGas           = errors.New("metervm: out of gas")
	ErrInvalidModule      = errors.New("metervm: invalid wasm module")
	ErrExportError        = errors.New("metervm: entrypoint export error")
	ErrRuntimeError       = errors.New("metervm: guest runtime error")
	ErrCompileError       = errors.New("metervm: module compile error")
	ErrInstantiationError = errors.New("metervm: module instantiation error")
	ErrTrap               = errors.New("metervm: guest trap")
)

// InstrumentationError wraps ErrCompileError with the specific injection
// failure that caused it.
type InstrumentationError struct {
	Kind InstrumentationErrorKind
	Err  error
}

func (e *InstrumentationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metervm: instrumentation failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("metervm: instrumentation failed (%s)", e.Kind)
}

func (e *InstrumentationError) Unwrap() error { return ErrCompileError }

// TrapError wraps ErrTrap with the backend-reported trap code, mirroring
// the reference implementation's WasmerTrap(TrapCode) case. TrapCode is a
// small string tag rather than an enum tied to a particular runtime, since
// different WASM backends name traps differently.
type TrapError struct {
	Code string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("metervm: trap: %s", e.Code)
}

func (e *TrapError) Unwrap() error { return ErrTrap }

// ExecutionPanicError carries the guest-provided panic message.
type ExecutionPanicError struct {
	Msg string
}

func (e *ExecutionPanicError) Error() string {
	return fmt.Sprintf("metervm: guest panic: %s", e.Msg)
}

func (e *ExecutionPanicError) Unwrap() error { return ErrExecutionPanic }

// wrapf is a small helper mirroring the corpus's own fmt.Errorf("%w: ...")
// idiom for attaching context to a sentinel without losing errors.Is.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
