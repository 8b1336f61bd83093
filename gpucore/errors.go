package gpucore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies renderer failures.
type ErrorKind uint8

const (
	// KindUnknown is the zero kind, used for errors that carry no classification.
	KindUnknown ErrorKind = iota

	// KindNotInitialized reports use of a component before its Init succeeded.
	KindNotInitialized

	// KindInvalidArgument reports a violated precondition on an argument.
	KindInvalidArgument

	// KindExhausted reports a fixed-capacity resource that ran out.
	KindExhausted

	// KindDeviceLost reports a GPU API failure. It is always fatal.
	KindDeviceLost

	// KindTerminated reports use of a component after Terminate.
	KindTerminated

	// KindAllocatorInUse reports a command allocator reset while the GPU
	// still executes lists recorded from it.
	KindAllocatorInUse
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindNotInitialized:  "not initialized",
	KindInvalidArgument: "invalid argument",
	KindExhausted:       "exhausted",
	KindDeviceLost:      "device lost",
	KindTerminated:      "terminated",
	KindAllocatorInUse:  "allocator in use",
}

// String returns the human-readable kind name.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// RenderError is the error type returned by the renderer packages.
type RenderError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the operation that failed, e.g. "descriptor allocate".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	default:
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
}

// Unwrap returns the underlying cause.
func (e *RenderError) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
// Sentinels are RenderErrors without Op and Err.
func (e *RenderError) Is(target error) bool {
	t, ok := target.(*RenderError)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for use with errors.Is.
var (
	ErrNotInitialized  = &RenderError{Kind: KindNotInitialized}
	ErrInvalidArgument = &RenderError{Kind: KindInvalidArgument}
	ErrExhausted       = &RenderError{Kind: KindExhausted}
	ErrDeviceLost      = &RenderError{Kind: KindDeviceLost}
	ErrTerminated      = &RenderError{Kind: KindTerminated}
	ErrAllocatorInUse  = &RenderError{Kind: KindAllocatorInUse}
)

// NewError returns a RenderError of the given kind wrapping err.
func NewError(kind ErrorKind, op string, err error) error {
	return &RenderError{Kind: kind, Op: op, Err: err}
}

// Errorf returns a RenderError of the given kind with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &RenderError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// DeviceLost wraps a GPU API failure as a fatal error.
// A nil err yields nil. Errors that already carry a kind are returned as is.
func DeviceLost(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RenderError
	if errors.As(err, &re) && re.Kind != KindUnknown {
		return err
	}
	return &RenderError{Kind: KindDeviceLost, Op: op, Err: err}
}

// KindOf returns the kind of the first RenderError in err's chain.
func KindOf(err error) ErrorKind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must stop the frame loop.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindDeviceLost, KindExhausted, KindAllocatorInUse:
		return true
	}
	return false
}
