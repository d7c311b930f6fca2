package bytecode

import (
	"fmt"
	"sort"
)

// Handler is one exception table entry. A handler covers instructions whose
// offset lies in [StartPC, EndPC]. An empty CatchType catches everything.
type Handler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType string
}

// Covers reports whether the handler's protected range contains offset.
func (h Handler) Covers(offset int) bool {
	return h.StartPC <= offset && offset <= h.EndPC
}

// CatchAll reports whether the handler catches every throwable.
func (h Handler) CatchAll() bool {
	return h.CatchType == ""
}

// LocalVariable is one local variable table entry.
type LocalVariable struct {
	Index      int
	StartPC    int
	Length     int
	Name       string
	Descriptor string
}

// Method is a parsed method body.
type Method struct {
	Class          string
	Name           string
	Descriptor     string
	Instructions   []Instruction
	Handlers       []Handler
	Exceptions     []string
	LocalVariables []LocalVariable
	Abstract       bool
	Native         bool

	index map[int]int
}

// Signature returns the method's signature.
func (m *Method) Signature() MethodSignature {
	return MethodSignature{Class: m.Class, Name: m.Name, Descriptor: m.Descriptor}
}

// HasCode reports whether the method has an instruction stream.
func (m *Method) HasCode() bool {
	return !m.Abstract && !m.Native && len(m.Instructions) > 0
}

// IndexOf returns the position in Instructions of the instruction at offset.
func (m *Method) IndexOf(offset int) (int, bool) {
	if m.index == nil {
		m.buildIndex()
	}
	i, ok := m.index[offset]
	return i, ok
}

// At returns the instruction at offset.
func (m *Method) At(offset int) (*Instruction, bool) {
	i, ok := m.IndexOf(offset)
	if !ok {
		return nil, false
	}
	return &m.Instructions[i], true
}

func (m *Method) buildIndex() {
	m.index = make(map[int]int, len(m.Instructions))
	for i := range m.Instructions {
		m.index[m.Instructions[i].Offset] = i
	}
}

// LocalVariableAt returns the local variable occupying slot index at the given
// offset.
func (m *Method) LocalVariableAt(index, offset int) (LocalVariable, bool) {
	for _, lv := range m.LocalVariables {
		if lv.Index == index && lv.StartPC <= offset && offset <= lv.StartPC+lv.Length {
			return lv, true
		}
	}
	return LocalVariable{}, false
}

// Validate checks that the instruction stream is ordered and every branch,
// switch and handler offset refers to an instruction.
func (m *Method) Validate() error {
	if !m.HasCode() {
		return nil
	}
	sorted := sort.SliceIsSorted(m.Instructions, func(i, j int) bool {
		return m.Instructions[i].Offset < m.Instructions[j].Offset
	})
	if !sorted {
		return fmt.Errorf("method %s: instructions are not ordered by offset", m.Signature())
	}
	m.buildIndex()
	if len(m.index) != len(m.Instructions) {
		return fmt.Errorf("method %s: duplicate instruction offsets", m.Signature())
	}

	check := func(what string, off int) error {
		if _, ok := m.index[off]; !ok {
			return fmt.Errorf("method %s: %s refers to offset %d with no instruction", m.Signature(), what, off)
		}
		return nil
	}
	for _, ins := range m.Instructions {
		switch {
		case ins.Op.IsBranch():
			if err := check(ins.Op.String()+" target", ins.Target); err != nil {
				return err
			}
		case ins.Op.IsSwitch():
			if len(ins.Matches) != len(ins.Targets) {
				return fmt.Errorf("method %s: %s at %d has %d keys but %d targets",
					m.Signature(), ins.Op, ins.Offset, len(ins.Matches), len(ins.Targets))
			}
			if err := check("switch default", ins.Target); err != nil {
				return err
			}
			for _, t := range ins.Targets {
				if err := check("switch case", t); err != nil {
					return err
				}
			}
		}
	}
	for _, h := range m.Handlers {
		if h.StartPC > h.EndPC {
			return fmt.Errorf("method %s: handler range [%d, %d] is empty", m.Signature(), h.StartPC, h.EndPC)
		}
		if err := check("handler", h.HandlerPC); err != nil {
			return err
		}
	}
	return nil
}
