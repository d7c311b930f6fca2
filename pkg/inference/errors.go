package inference

import (
	"errors"
	"fmt"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
)

// TypeInferenceError reports that exception types could not be inferred for
// a method, for example because a called method has no declaration anywhere
// in its class hierarchy.
type TypeInferenceError struct {
	Method string
	Reason string
	Err    error
}

func (e *TypeInferenceError) Error() string {
	msg := "type inference failed"
	if e.Method != "" {
		msg += " for " + e.Method
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeInferenceError) Unwrap() error { return e.Err }

// IncompleteClasspathError reports a class needed for hierarchy queries that
// the class loader cannot find.
type IncompleteClasspathError struct {
	Class string
	Err   error
}

func (e *IncompleteClasspathError) Error() string {
	return fmt.Sprintf("incomplete classpath: cannot load %s: %v", e.Class, e.Err)
}

func (e *IncompleteClasspathError) Unwrap() error { return e.Err }

// bailout carries an error out of deeply recursive inference code. Strategy
// entry points recover it with catch; any other panic is re-raised.
type bailout struct{ err error }

func bail(err error) {
	panic(bailout{err})
}

// catch converts a bailout into *errp. It must be deferred.
func catch(errp *error) {
	if r := recover(); r != nil {
		b, ok := r.(bailout)
		if !ok {
			panic(r)
		}
		*errp = b.err
	}
}

func classpathError(class string, err error) error {
	if errors.Is(err, bytecode.ErrClassNotFound) {
		return &IncompleteClasspathError{Class: class, Err: err}
	}
	return fmt.Errorf("failed to load class %s: %w", class, err)
}
