package cfg

import "fmt"

// MalformedError reports a structural violation that makes a method's graph
// unusable. Construction of that method is aborted.
type MalformedError struct {
	Method string
	Block  int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Block > 0 {
		return fmt.Sprintf("malformed graph for %s: block %d: %s", e.Method, e.Block, e.Reason)
	}
	return fmt.Sprintf("malformed graph for %s: %s", e.Method, e.Reason)
}
