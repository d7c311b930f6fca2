package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// DefaultExcludedPackages are the namespaces whose methods never end a block
// when called.
var DefaultExcludedPackages = []string{"java", "javax", "com.sun", "org.omg"}

// former holds the per-method state of block and edge formation. Instruction
// positions are indexes into the method's instruction list.
type former struct {
	m        *bytecode.Method
	g        *cfg.Graph
	excluded []string

	leaders map[int]bool
	ends    map[int]bool
	calls   map[int]bool
	// jsrTargets maps a subroutine's first instruction to the jsr
	// instructions calling it.
	jsrTargets map[int][]int
	// order lists the block-ending instructions in offset order.
	order      []int
	normalExit int
}

func newFormer(m *bytecode.Method, g *cfg.Graph, excluded []string) *former {
	return &former{
		m:          m,
		g:          g,
		excluded:   excluded,
		leaders:    make(map[int]bool),
		ends:       make(map[int]bool),
		calls:      make(map[int]bool),
		jsrTargets: make(map[int][]int),
	}
}

func (f *former) malformed(format string, args ...interface{}) error {
	return &cfg.MalformedError{Method: f.g.DisplayName, Reason: fmt.Sprintf(format, args...)}
}

// isExcluded reports whether class lies in one of the excluded namespaces.
// A namespace matches itself and every package below it.
func (f *former) isExcluded(class string) bool {
	for _, p := range f.excluded {
		if class == p || strings.HasPrefix(class, p+".") {
			return true
		}
	}
	return false
}

// isSystemExit reports whether ins calls System.exit.
func isSystemExit(ins *bytecode.Instruction) bool {
	return ins.Op.IsInvoke() && strings.Contains(ins.Owner, bytecode.SystemClass) && ins.Name == "exit"
}

func (f *former) index(offset int) (int, error) {
	i, ok := f.m.IndexOf(offset)
	if !ok {
		return 0, f.malformed("no instruction at offset %d", offset)
	}
	return i, nil
}

// lead marks the instruction at offset as a leader and the one before it as
// a block end.
func (f *former) lead(offset int) (int, error) {
	i, err := f.index(offset)
	if err != nil {
		return 0, err
	}
	f.leaders[i] = true
	if i > 0 {
		f.ends[i-1] = true
	}
	return i, nil
}

// end marks instruction i as a block end and its successor as a leader.
func (f *former) end(i int) {
	f.ends[i] = true
	if i+1 < len(f.m.Instructions) {
		f.leaders[i+1] = true
	}
}

// formBlocks partitions the method into blocks and adds them to the graph:
// the entry, the real blocks with a return block after each call block, the
// normal exit and the summary throw exit.
func (f *former) formBlocks() error {
	code := f.m.Instructions
	if len(code) == 0 {
		return f.malformed("method has no instructions")
	}
	f.leaders[0] = true

	for i := range code {
		ins := &code[i]
		switch {
		case ins.Op.IsBranch():
			f.end(i)
			t, err := f.lead(ins.Target)
			if err != nil {
				return err
			}
			if ins.Op.IsJSR() {
				f.jsrTargets[t] = append(f.jsrTargets[t], i)
			}

		case ins.Op.IsSwitch():
			f.end(i)
			if _, err := f.lead(ins.Target); err != nil {
				return err
			}
			for _, t := range ins.Targets {
				if _, err := f.lead(t); err != nil {
					return err
				}
			}

		case ins.Op.IsInvoke():
			if isSystemExit(ins) {
				f.end(i)
			} else if !f.isExcluded(ins.Owner) {
				f.end(i)
				f.calls[i] = true
			}

		case ins.Op == bytecode.ATHROW, ins.Op.IsReturn(), ins.Op == bytecode.RET:
			f.end(i)
		}
	}
	// Handler entries start blocks so exceptional edges can find them.
	for _, h := range f.m.Handlers {
		if _, err := f.lead(h.HandlerPC); err != nil {
			return err
		}
	}
	f.ends[len(code)-1] = true

	leaders := sortedKeys(f.leaders)
	f.order = sortedKeys(f.ends)
	if len(leaders) != len(f.order) {
		return f.malformed("%d block leaders but %d block ends", len(leaders), len(f.order))
	}

	id := 1
	f.g.AddBlock(cfg.NewBlock(id, cfg.BlockEntry, cfg.SubDontCare, cfg.LabelEntry, 0, 0))
	id++
	for k, start := range leaders {
		last := f.order[k]
		if last < start {
			return f.malformed("block starting at %d ends before it", code[start].Offset)
		}
		b := cfg.NewBlock(id, cfg.BlockBasic, cfg.SubDontCare, cfg.LabelBlock, code[start].Offset, code[last].Offset)
		b.StartRef, b.EndRef = start, last
		f.g.AddBlock(b)
		id++
		if f.calls[last] {
			off := code[last].Offset
			f.g.AddBlock(cfg.NewBlock(id, cfg.BlockReturn, cfg.SubDontCare, cfg.LabelReturn, off, off))
			id++
		}
	}

	lastOff := code[f.order[len(f.order)-1]].Offset
	f.normalExit = id
	f.g.AddBlock(cfg.NewBlock(id, cfg.BlockExit, cfg.SubDontCare, cfg.LabelExit, lastOff, lastOff))
	id++
	f.g.AddBlock(cfg.NewBlock(id, cfg.BlockExit, cfg.SubSummaryThrow, cfg.LabelExit, 0, code[len(code)-1].Offset))
	return nil
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
