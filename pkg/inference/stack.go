package inference

import (
	"fmt"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
)

// StackReverser walks instructions backwards from a point where one operand
// is on the stack and tells when it reaches the instruction that pushed that
// operand.
//
// Positions are counted from the stack top as it was where the walk began:
// matchPointer is the position of the tracked operand and stackTopDist the
// position of the current stack top. The operand's producer is the first
// instruction run while the two coincide that pushes a value or calls a
// method.
type StackReverser struct {
	matchPointer int
	stackTopDist int
}

// NewStackReverser tracks the operand at the top of the stack.
func NewStackReverser() *StackReverser {
	return &StackReverser{}
}

// NewStackReverserAt tracks the operand depth words below the stack top.
func NewStackReverserAt(depth int) *StackReverser {
	return &StackReverser{stackTopDist: depth}
}

// Copy returns an independent reverser in the same state.
func (r *StackReverser) Copy() *StackReverser {
	c := *r
	return &c
}

// AtPossibleProducer reports whether the next instruction run could be the
// producer.
func (r *StackReverser) AtPossibleProducer() bool {
	return r.stackTopDist == r.matchPointer
}

// Run reverses the stack effect of ins and reports whether ins produced the
// tracked operand. Instructions that cannot lie between a producer and its
// consumer are errors.
func (r *StackReverser) Run(ins *bytecode.Instruction) (bool, error) {
	atTarget := r.stackTopDist == r.matchPointer
	op := ins.Op

	switch {
	case op.IsReturn():
		return false, fmt.Errorf("control flow from producer cannot pass through %s at %d", op, ins.Offset)
	case op == bytecode.ATHROW:
		return false, fmt.Errorf("control flow from producer cannot pass directly through athrow at %d", ins.Offset)
	case op == bytecode.NEW:
		if atTarget {
			return false, fmt.Errorf("stack operand is an uninitialized object created at %d", ins.Offset)
		}
	case op.IsJSR():
		if atTarget {
			return false, fmt.Errorf("stack operand is a return address pushed at %d", ins.Offset)
		}
	}

	d, m := r.stackTopDist, r.matchPointer
	switch op {
	case bytecode.DUP:
		if d > 1 {
			if m == d-2 {
				r.matchPointer = d - 1
			}
			r.stackTopDist--
		}
		return false, nil
	case bytecode.DUP_X1:
		if d > 2 {
			if m == d-3 {
				r.matchPointer = d - 1
			}
			r.stackTopDist--
		}
		return false, nil
	case bytecode.DUP_X2:
		if d > 3 {
			if m == d-4 {
				r.matchPointer = d - 1
			}
			r.stackTopDist--
		}
		return false, nil
	case bytecode.DUP2:
		if d > 2 {
			if m == d-3 {
				r.matchPointer = d - 1
			} else if m == d-4 {
				r.matchPointer = d - 2
			}
			if d > 3 {
				r.stackTopDist -= 2
			} else {
				r.stackTopDist--
			}
		}
		return false, nil
	case bytecode.DUP2_X1:
		if d > 3 {
			if m == d-4 {
				r.matchPointer = d - 1
			} else if m == d-5 {
				r.matchPointer = d - 2
			}
			if d > 4 {
				r.stackTopDist -= 2
			} else {
				r.stackTopDist--
			}
		}
		return false, nil
	case bytecode.DUP2_X2:
		if d > 4 {
			if m == d-5 {
				r.matchPointer = d - 1
			} else if m == d-6 {
				r.matchPointer = d - 2
			}
			if d > 5 {
				r.stackTopDist -= 2
			} else {
				r.stackTopDist--
			}
		}
		return false, nil
	case bytecode.SWAP:
		if d < 2 {
			r.stackTopDist = 2
		} else if m == d-1 {
			r.matchPointer--
		} else if m == d-2 {
			r.matchPointer++
		}
		return false, nil
	}

	// Calls count as producers even when void, so a constructor call is
	// found as the producer of the object it initializes.
	push, pop := ins.Pushes(), ins.Pops()
	if atTarget && (push > 0 || op.IsInvoke()) {
		return true, nil
	}
	r.stackTopDist += pop - push
	return false, nil
}
