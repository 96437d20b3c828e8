package dae

import "fmt"

// Flag is the termination code of a Solution.
type Flag int

const (
	FlagNormal                    Flag = 0
	FlagEventTriggered            Flag = 1
	FlagInitialConvergenceFailure Flag = -1
	FlagStepConvergenceFailure    Flag = -2
	FlagTooMuchWork               Flag = -3
	FlagIllegalInput              Flag = -4
	FlagSolverError               Flag = -5
)

func (f Flag) String() string {
	switch f {
	case FlagNormal:
		return "Normal"
	case FlagEventTriggered:
		return "EventTriggered"
	case FlagInitialConvergenceFailure:
		return "InitialConvergenceFailure"
	case FlagStepConvergenceFailure:
		return "StepConvergenceFailure"
	case FlagTooMuchWork:
		return "TooMuchWork"
	case FlagIllegalInput:
		return "IllegalInput"
	case FlagSolverError:
		return "SolverError"
	}
	return fmt.Sprintf("Flag(%d)", int(f))
}

// ErrorKind classifies a solve failure.
type ErrorKind int

const (
	KindInputValidation ErrorKind = iota
	KindInitialConditionCorrection
	KindStepConvergence
	KindLinearSolverFailure
	KindCallbackFailure
	KindWorkLimitExceeded
)

// Error carries a failure kind alongside the underlying cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with an fmt.Errorf-formatted cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FlagFor maps a failure to its termination code. Unclassified errors are
// reported as SolverError.
func FlagFor(err error) Flag {
	e, ok := err.(*Error)
	if !ok {
		return FlagSolverError
	}
	switch e.Kind {
	case KindInputValidation:
		return FlagIllegalInput
	case KindInitialConditionCorrection:
		return FlagInitialConvergenceFailure
	case KindStepConvergence, KindLinearSolverFailure:
		return FlagStepConvergenceFailure
	case KindCallbackFailure:
		return FlagSolverError
	case KindWorkLimitExceeded:
		return FlagTooMuchWork
	}
	return FlagSolverError
}
