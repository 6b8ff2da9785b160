// Package errkind defines the closed set of error kinds shared by every
// stage of the engine (lexer, parser, compiler, VM, environment). Each
// stage still defines its own concrete error type for the
// detail it alone has (lexer.SyntaxError carries a Span, vm.RuntimeError
// carries an instruction/line); Error is the kind-carrying wrapper the
// Environment surfaces to callers once a stage-local error crosses its
// boundary.
package errkind

import "fmt"

// Kind is the closed set of error categories the core can raise.
type Kind int

const (
	Syntax Kind = iota
	Undefined
	InvalidOperation
	UnknownFilter
	UnknownTest
	UnknownMethod
	TemplateNotFound
	BadEscape
	BadSerialization
	OutOfFuel
	MissingArgument
	TooManyArguments
	CannotDeserialize
)

func (k Kind) String() string {
	switch k {
	case Syntax:
		return "SyntaxError"
	case Undefined:
		return "UndefinedError"
	case InvalidOperation:
		return "InvalidOperation"
	case UnknownFilter:
		return "UnknownFilter"
	case UnknownTest:
		return "UnknownTest"
	case UnknownMethod:
		return "UnknownMethod"
	case TemplateNotFound:
		return "TemplateNotFound"
	case BadEscape:
		return "BadEscape"
	case BadSerialization:
		return "BadSerialization"
	case OutOfFuel:
		return "OutOfFuel"
	case MissingArgument:
		return "MissingArgument"
	case TooManyArguments:
		return "TooManyArguments"
	case CannotDeserialize:
		return "CannotDeserialize"
	default:
		return "UnknownError"
	}
}

// Error is the engine-wide error value: a kind, a short message, an
// optional detail, an optional source location, and an optional causal
// chain. It has fields for debug-mode snapshots (template source,
// frozen context), but the Environment does not fill them in, with or
// without debug mode.
type Error struct {
	Kind     Kind
	Message  string
	Detail   string
	Template string
	Line     int
	Cause    error

	// DebugSource and DebugContext hold snapshots of the template
	// source and context; nothing in the engine sets them.
	DebugSource  string
	DebugContext string
}

func (e *Error) Error() string {
	loc := ""
	if e.Template != "" {
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d: ", e.Template, e.Line)
		} else {
			loc = e.Template + ": "
		}
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s%s: %s (%s)", loc, e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s%s: %s", loc, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no location or cause, for direct call sites
// (e.g. the environment reporting an unknown filter or test name).
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind and message to an underlying error, preserving it
// as the causal chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
