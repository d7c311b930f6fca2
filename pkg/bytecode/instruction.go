package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Instruction is one decoded JVM instruction. Operand fields that do not
// apply to the opcode are left at their zero value, except Target and Local
// which are -1 when unused.
type Instruction struct {
	Offset int
	Op     Opcode

	// Target is the branch target offset, or the default target of a switch.
	Target int
	// Targets and Matches hold the switch case targets and their keys.
	Targets []int
	Matches []int

	// Owner is the class operand of invoke, field, new, checkcast,
	// instanceof and array creation instructions (dotted form).
	Owner      string
	Name       string
	Descriptor string

	Local int
	Dims  int
	// Const is the literal operand of push, ldc, newarray and iinc.
	Const string
}

// NewInstruction returns an instruction with no operands.
func NewInstruction(offset int, op Opcode) Instruction {
	ins := Instruction{Offset: offset, Op: op, Target: -1, Local: -1}
	if idx, ok := op.impliedLocal(); ok {
		ins.Local = idx
	}
	return ins
}

// IsStaticInvoke reports whether the instruction calls a method without a
// receiver on the stack.
func (i *Instruction) IsStaticInvoke() bool {
	return i.Op == INVOKESTATIC || i.Op == INVOKEDYNAMIC
}

// IsConstructorCall reports whether the instruction invokes an <init> method.
func (i *Instruction) IsConstructorCall() bool {
	return i.Op == INVOKESPECIAL && i.Name == "<init>"
}

// CalledMethod returns the signature of the invoked method.
func (i *Instruction) CalledMethod() MethodSignature {
	return MethodSignature{Class: i.Owner, Name: i.Name, Descriptor: i.Descriptor}
}

// ReturnType returns the class returned by an invoke instruction, or false if
// it returns a primitive, an array or nothing.
func (i *Instruction) ReturnType() (string, bool) {
	if !i.Op.IsInvoke() {
		return "", false
	}
	_, ret, err := ParseMethodDescriptor(i.Descriptor)
	if err != nil {
		return "", false
	}
	return ObjectType(ret)
}

// FieldType returns the class of the field accessed by a field instruction,
// or false if the field is not of a class type.
func (i *Instruction) FieldType() (string, bool) {
	if !i.Op.IsField() {
		return "", false
	}
	return ObjectType(i.Descriptor)
}

// FieldRef identifies the accessed field by owner, name and descriptor.
func (i *Instruction) FieldRef() string {
	return i.Owner + "." + i.Name + ":" + i.Descriptor
}

// Pops returns the number of stack words consumed by the instruction.
func (i *Instruction) Pops() int {
	if !i.Op.valid() {
		return 0
	}
	if n := opInfo[i.Op].pop; n >= 0 {
		return int(n)
	}
	switch {
	case i.Op.IsInvoke():
		args, _, err := ParseMethodDescriptor(i.Descriptor)
		if err != nil {
			return 0
		}
		n := 0
		for _, a := range args {
			n += slots(a)
		}
		if !i.IsStaticInvoke() {
			n++
		}
		return n
	case i.Op == GETSTATIC:
		return 0
	case i.Op == PUTSTATIC:
		return slots(i.Descriptor)
	case i.Op == GETFIELD:
		return 1
	case i.Op == PUTFIELD:
		return 1 + slots(i.Descriptor)
	case i.Op == MULTIANEWARRAY:
		return i.Dims
	}
	return 0
}

// Pushes returns the number of stack words produced by the instruction.
func (i *Instruction) Pushes() int {
	if !i.Op.valid() {
		return 0
	}
	if n := opInfo[i.Op].push; n >= 0 {
		return int(n)
	}
	switch {
	case i.Op.IsInvoke():
		_, ret, err := ParseMethodDescriptor(i.Descriptor)
		if err != nil {
			return 0
		}
		return slots(ret)
	case i.Op == GETSTATIC || i.Op == GETFIELD:
		return slots(i.Descriptor)
	}
	return 0
}

// String renders the instruction in the assembly syntax accepted by
// ParseInstruction.
func (i *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(i.Offset))
	sb.WriteString(": ")
	sb.WriteString(i.Op.String())

	op := i.Op
	switch {
	case op.IsBranch():
		fmt.Fprintf(&sb, " %d", i.Target)
	case op.IsSwitch():
		for k := range i.Targets {
			fmt.Fprintf(&sb, " %d:%d", i.Matches[k], i.Targets[k])
		}
		fmt.Fprintf(&sb, " default:%d", i.Target)
	case op.IsInvoke():
		fmt.Fprintf(&sb, " %s.%s%s", i.Owner, i.Name, i.Descriptor)
	case op.IsField():
		fmt.Fprintf(&sb, " %s", i.FieldRef())
	case op == NEW || op == ANEWARRAY || op == CHECKCAST || op == INSTANCEOF:
		fmt.Fprintf(&sb, " %s", i.Owner)
	case op == MULTIANEWARRAY:
		fmt.Fprintf(&sb, " %s %d", i.Owner, i.Dims)
	case op == IINC:
		fmt.Fprintf(&sb, " %d %s", i.Local, i.Const)
	case op.IsLocalAccess():
		if _, implied := op.impliedLocal(); !implied {
			fmt.Fprintf(&sb, " %d", i.Local)
		}
	case op == BIPUSH || op == SIPUSH || op == LDC || op == LDC_W || op == LDC2_W || op == NEWARRAY:
		fmt.Fprintf(&sb, " %s", i.Const)
	}
	return sb.String()
}
