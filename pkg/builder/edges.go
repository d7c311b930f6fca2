package builder

import (
	"strconv"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// Edge labels.
const (
	LabelTrue    = "T"
	LabelFalse   = "F"
	LabelDefault = "Default"
	LabelReturn  = "<r>"
	LabelJSR     = "jsr"
)

// formEdges types the blocks made by formBlocks by their ending instruction
// and connects them. It returns the blocks ending in athrow or a call, whose
// exceptional edges are left to type inference.
func (f *former) formEdges() ([]*cfg.Block, error) {
	var sites []*cfg.Block
	nextID := 1
	// pendingJSR holds subroutine call edges whose call or return side has
	// not been seen yet, keyed by jsr instruction.
	pendingJSR := make(map[int]*cfg.Edge)

	add := func(e *cfg.Edge) error {
		return f.g.AddEdge(e)
	}
	edge := func(succ, pred int, label string) error {
		e := cfg.NewEdge(nextID, succ, pred, label)
		nextID++
		return add(e)
	}
	blockAt := func(offset int) (*cfg.Block, error) {
		b, ok := f.g.BlockAtOffset(offset)
		if !ok {
			return nil, f.malformed("no block starts at offset %d", offset)
		}
		return b, nil
	}

	if err := edge(2, 1, ""); err != nil {
		return nil, err
	}
	pos := 2
	for _, i := range f.order {
		ins := &f.m.Instructions[i]
		b, err := f.g.Block(pos)
		if err != nil {
			return nil, err
		}
		b.Type, b.Label = cfg.BlockBasic, cfg.LabelBlock

		switch {
		case ins.Op == bytecode.ATHROW:
			b.SubType = cfg.SubThrow
			sites = append(sites, b)

		case ins.Op.IsReturn() || (ins.Op == bytecode.INVOKESTATIC && isSystemExit(ins)):
			b.SubType = cfg.SubReturn
			if !ins.Op.IsReturn() {
				b.SubType = cfg.SubSystemExit
			}
			if err := edge(f.normalExit, pos, ""); err != nil {
				return nil, err
			}

		case ins.Op.IsSwitch():
			if len(ins.Matches) != len(ins.Targets) {
				return nil, f.malformed("invalid switch instruction at offset %d", ins.Offset)
			}
			b.SubType = cfg.SubSwitch
			for k, t := range ins.Targets {
				succ, err := blockAt(t)
				if err != nil {
					return nil, err
				}
				if err := edge(succ.ID, pos, strconv.Itoa(ins.Matches[k])); err != nil {
					return nil, err
				}
			}
			succ, err := blockAt(ins.Target)
			if err != nil {
				return nil, err
			}
			if err := edge(succ.ID, pos, LabelDefault); err != nil {
				return nil, err
			}

		case ins.Op.IsGoto():
			b.SubType = cfg.SubGoto
			succ, err := blockAt(ins.Target)
			if err != nil {
				return nil, err
			}
			if err := edge(succ.ID, pos, ""); err != nil {
				return nil, err
			}

		case ins.Op.IsJSR():
			b.SubType = cfg.SubJSR
			succ, err := blockAt(ins.Target)
			if err != nil {
				return nil, err
			}
			e, ok := pendingJSR[i]
			if !ok {
				e = cfg.NewAuxEdge(nextID, succ.ID, pos, LabelJSR, strconv.Itoa(ins.Offset), succ.ID)
				pendingJSR[i] = e
			} else {
				// The subroutine's ret was seen first and set the link.
				e.ID, e.Pred, e.Succ = nextID, pos, succ.ID
				delete(pendingJSR, i)
			}
			nextID++
			if err := add(e); err != nil {
				return nil, err
			}

		case ins.Op == bytecode.RET:
			b.SubType = cfg.SubFinally
			start, err := f.finallyStart(b)
			if err != nil {
				return nil, err
			}
			for _, j := range f.jsrTargets[start] {
				if j+1 >= len(f.m.Instructions) {
					return nil, f.malformed("jsr at offset %d has no return point", f.m.Instructions[j].Offset)
				}
				jsr := &f.m.Instructions[j]
				succ, err := blockAt(f.m.Instructions[j+1].Offset)
				if err != nil {
					return nil, err
				}
				aux := strconv.Itoa(jsr.Offset)
				if e, ok := pendingJSR[j]; ok {
					e.SpecialNodeID = pos
					delete(pendingJSR, j)
				} else {
					pendingJSR[j] = cfg.NewAuxEdge(0, 0, 0, LabelJSR, aux, pos)
				}
				ret := cfg.NewAuxEdge(nextID, succ.ID, pos, LabelJSR, aux, -1)
				nextID++
				if err := add(ret); err != nil {
					return nil, err
				}
			}

		case ins.Op.IsIf():
			b.SubType = cfg.SubIf
			succ, err := blockAt(ins.Target)
			if err != nil {
				return nil, err
			}
			if err := edge(succ.ID, pos, LabelTrue); err != nil {
				return nil, err
			}
			if err := edge(pos+1, pos, LabelFalse); err != nil {
				return nil, err
			}

		case ins.Op.IsInvoke() && f.calls[i]:
			b.Type, b.SubType, b.Label = cfg.BlockCall, cfg.SubDontCare, cfg.LabelCall
			sites = append(sites, b)
			if err := edge(pos+1, pos, LabelReturn); err != nil {
				return nil, err
			}
			pos++
			if err := edge(pos+1, pos, ""); err != nil {
				return nil, err
			}

		default:
			b.SubType = cfg.SubDontCare
			if err := edge(pos+1, pos, ""); err != nil {
				return nil, err
			}
		}
		pos++
	}
	f.g.NextEdgeID = nextID
	return sites, nil
}

// finallyStart returns the first instruction of the subroutine a ret block
// returns from. It follows first predecessors back to a jsr target,
// skipping the targets of subroutines nested inside this one.
func (f *former) finallyStart(ret *cfg.Block) (int, error) {
	if _, ok := f.jsrTargets[ret.StartRef]; ok && !ret.Virtual() {
		return ret.StartRef, nil
	}
	depth := 0
	seen := map[int]bool{ret.ID: true}
	b := ret
	for {
		if len(b.Predecessors) == 0 {
			return 0, &cfg.MalformedError{Method: f.g.DisplayName, Block: ret.ID, Reason: "finally block is unreachable"}
		}
		next, err := f.g.Block(b.Predecessors[0])
		if err != nil {
			return 0, err
		}
		if seen[next.ID] {
			return 0, &cfg.MalformedError{Method: f.g.DisplayName, Block: ret.ID, Reason: "finally block is unreachable"}
		}
		seen[next.ID] = true
		b = next

		if b.SubType == cfg.SubFinally {
			depth++
		}
		if _, ok := f.jsrTargets[b.StartRef]; ok && !b.Virtual() {
			if depth == 0 {
				return b.StartRef, nil
			}
			depth--
		}
	}
}
