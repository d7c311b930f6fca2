package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseInstruction parses one line of the assembly syntax used by program
// descriptions:
//
//	<offset>: <mnemonic> [operands]
//
// Branch operands are target offsets, switch operands are key:target pairs
// followed by default:target, invoke operands are owner.name(descriptor),
// field operands are owner.name:descriptor.
func ParseInstruction(line string) (Instruction, error) {
	head, body, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return Instruction{}, fmt.Errorf("instruction %q: missing offset", line)
	}
	offset, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || offset < 0 {
		return Instruction{}, fmt.Errorf("instruction %q: invalid offset", line)
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Instruction{}, fmt.Errorf("instruction %q: missing mnemonic", line)
	}
	op, ok := LookupOpcode(strings.ToLower(fields[0]))
	if !ok {
		return Instruction{}, fmt.Errorf("instruction %q: unknown mnemonic %q", line, fields[0])
	}
	ins := NewInstruction(offset, op)
	args := fields[1:]

	if err := parseOperands(&ins, args); err != nil {
		return Instruction{}, fmt.Errorf("instruction %q: %w", line, err)
	}
	return ins, nil
}

func parseOperands(ins *Instruction, args []string) error {
	op := ins.Op
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d operand(s), got %d", op, n, len(args))
		}
		return nil
	}

	switch {
	case op.IsBranch():
		if err := need(1); err != nil {
			return err
		}
		t, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid branch target %q", args[0])
		}
		ins.Target = t

	case op.IsSwitch():
		return parseSwitch(ins, args)

	case op.IsInvoke():
		if err := need(1); err != nil {
			return err
		}
		paren := strings.IndexByte(args[0], '(')
		if paren < 0 {
			return fmt.Errorf("invoke operand %q has no descriptor", args[0])
		}
		owner, name, err := splitMember(args[0][:paren])
		if err != nil {
			return err
		}
		ins.Owner, ins.Name, ins.Descriptor = owner, name, args[0][paren:]
		if _, _, err := ParseMethodDescriptor(ins.Descriptor); err != nil {
			return err
		}

	case op.IsField():
		if err := need(1); err != nil {
			return err
		}
		ref, desc, ok := strings.Cut(args[0], ":")
		if !ok {
			return fmt.Errorf("field operand %q has no descriptor", args[0])
		}
		owner, name, err := splitMember(ref)
		if err != nil {
			return err
		}
		if _, err := TypeName(desc); err != nil {
			return err
		}
		ins.Owner, ins.Name, ins.Descriptor = owner, name, desc

	case op == NEW || op == ANEWARRAY || op == CHECKCAST || op == INSTANCEOF:
		if err := need(1); err != nil {
			return err
		}
		ins.Owner = args[0]

	case op == MULTIANEWARRAY:
		if err := need(2); err != nil {
			return err
		}
		dims, err := strconv.Atoi(args[1])
		if err != nil || dims < 1 {
			return fmt.Errorf("invalid dimension count %q", args[1])
		}
		ins.Owner, ins.Dims = args[0], dims

	case op == IINC:
		if err := need(2); err != nil {
			return err
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid local index %q", args[0])
		}
		ins.Local, ins.Const = idx, args[1]

	case op.IsLocalAccess():
		if _, implied := op.impliedLocal(); implied {
			return need(0)
		}
		if err := need(1); err != nil {
			return err
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid local index %q", args[0])
		}
		ins.Local = idx

	case op == BIPUSH || op == SIPUSH || op == LDC || op == LDC_W || op == LDC2_W || op == NEWARRAY:
		if len(args) == 0 {
			return fmt.Errorf("%s requires an operand", op)
		}
		ins.Const = strings.Join(args, " ")

	default:
		return need(0)
	}
	return nil
}

func parseSwitch(ins *Instruction, args []string) error {
	haveDefault := false
	for _, a := range args {
		key, target, ok := strings.Cut(a, ":")
		if !ok {
			return fmt.Errorf("switch operand %q must be key:target", a)
		}
		t, err := strconv.Atoi(target)
		if err != nil {
			return fmt.Errorf("invalid switch target %q", target)
		}
		if key == "default" {
			ins.Target = t
			haveDefault = true
			continue
		}
		k, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid switch key %q", key)
		}
		ins.Matches = append(ins.Matches, k)
		ins.Targets = append(ins.Targets, t)
	}
	if !haveDefault {
		return fmt.Errorf("%s requires a default target", ins.Op)
	}
	return nil
}

// splitMember splits "pkg.Class.member" at its last dot.
func splitMember(s string) (owner, name string, err error) {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return "", "", fmt.Errorf("member reference %q must be owner.name", s)
	}
	return s[:dot], s[dot+1:], nil
}
