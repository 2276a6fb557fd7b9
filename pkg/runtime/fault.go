package runtime

import (
	"errors"
	"fmt"
)

// ErrDivideByZero is raised by integer division or modulo with a zero divisor.
// Float division never raises it.
var ErrDivideByZero = errors.New("integer divide by zero")

// ErrCallDepth is raised when generated code recurses past the call limit.
var ErrCallDepth = errors.New("call depth exceeded")

// Fault reports a failure raised while executing generated code.
type Fault struct {
	Function string
	PC       int
	Err      error
}

func (f *Fault) Error() string {
	if f == nil || f.Err == nil {
		return "runtime fault"
	}
	if f.Function == "" {
		return fmt.Sprintf("runtime fault: %v", f.Err)
	}
	return fmt.Sprintf("runtime fault in %s at pc %d: %v", f.Function, f.PC, f.Err)
}

func (f *Fault) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// NewFault builds a fault for fn at pc.
func NewFault(fn string, pc int, err error) *Fault {
	return &Fault{Function: fn, PC: pc, Err: err}
}

// Faultf builds a fault with a formatted cause.
func Faultf(fn string, pc int, format string, args ...any) *Fault {
	return &Fault{Function: fn, PC: pc, Err: fmt.Errorf(format, args...)}
}
