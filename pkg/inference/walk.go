package inference

import (
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

type located struct {
	idx   int
	block *cfg.Block
}

// locatedSet is an insertion-ordered set of instructions.
type locatedSet struct {
	items []located
	seen  map[int]struct{}
}

func newLocatedSet() *locatedSet {
	return &locatedSet{seen: make(map[int]struct{})}
}

func (s *locatedSet) add(idx int, b *cfg.Block) {
	if _, ok := s.seen[idx]; ok {
		return
	}
	s.seen[idx] = struct{}{}
	s.items = append(s.items, located{idx: idx, block: b})
}

func catchTypeOf(h bytecode.Handler) string {
	if h.CatchAll() {
		return bytecode.ThrowableClass
	}
	return h.CatchType
}

// distinctPredecessors returns the predecessors of b without the repeats
// left by parallel edges.
func (a *algorithm) distinctPredecessors(b *cfg.Block) []*cfg.Block {
	var preds []*cfg.Block
	seen := make(map[int]struct{})
	for _, p := range a.predecessors(b) {
		if _, ok := seen[p.ID]; !ok {
			seen[p.ID] = struct{}{}
			preds = append(preds, p)
		}
	}
	return preds
}

func (a *algorithm) walkPredecessors(b *cfg.Block) []*cfg.Block {
	if a.walkPreds != nil {
		return a.walkPreds(b)
	}
	return a.distinctPredecessors(b)
}

// findProducers records the instructions that may push the operand consumed
// by the instruction at idx. The result is imprecise when the operand may be
// a caught exception.
func (a *algorithm) findProducers(b *cfg.Block, idx int, conservative string, producers *locatedSet) Result {
	r := NewStackReverser()
	visited := make(map[int]bool)
	if idx != b.StartRef {
		return a.walkProducers(b, idx-1, r, conservative, producers, visited)
	}

	ins := a.instruction(idx)
	if ins.Op.IsAStore() {
		if h, ok := a.handlerAt(ins.Offset); ok {
			return Result{Precise: false, Conservative: catchTypeOf(h)}
		}
	}
	preds := a.walkPredecessors(b)
	if len(preds) == 0 {
		a.malformed(b, "method consumes from empty stack")
	}
	for _, p := range preds {
		if res := a.walkProducers(p, p.EndRef, r.Copy(), conservative, producers, visited); !res.Precise {
			return Result{Precise: false, Conservative: conservative}
		}
	}
	return Result{Precise: true, Conservative: conservative}
}

// walkProducers runs the reverser backwards from idx in b and on through
// b's predecessors. Virtual blocks are passed through; reaching the method
// entry with the operand still unaccounted for is malformed.
func (a *algorithm) walkProducers(b *cfg.Block, idx int, r *StackReverser, conservative string, producers *locatedSet, visited map[int]bool) Result {
	if visited[b.ID] {
		return Result{Precise: true, Conservative: conservative}
	}
	visited[b.ID] = true

	if !b.Virtual() {
		for i := idx; ; i-- {
			ins := a.instruction(i)
			hit, err := r.Run(ins)
			if err != nil {
				a.malformed(b, err.Error())
			}
			if hit {
				if invalidProducers[ins.Op] {
					a.malformed(b, "thrown operand is not a reference")
				}
				if ins.Op != bytecode.CHECKCAST {
					producers.add(i, b)
					return Result{Precise: true, Conservative: conservative}
				}
				if a.subclassOf(ins.Owner, conservative) {
					conservative = ins.Owner
				}
			}
			if i == b.StartRef {
				if r.AtPossibleProducer() {
					if h, ok := a.handlerAt(ins.Offset); ok {
						return Result{Precise: false, Conservative: catchTypeOf(h)}
					}
				}
				break
			}
		}
	}

	preds := a.walkPredecessors(b)
	switch len(preds) {
	case 0:
		a.malformed(b, "method consumes from empty stack")
	case 1:
		return a.walkProducers(preds[0], preds[0].EndRef, r, conservative, producers, visited)
	}
	for _, p := range preds {
		if res := a.walkProducers(p, p.EndRef, r.Copy(), conservative, producers, visited); !res.Precise {
			return Result{Precise: false, Conservative: conservative}
		}
	}
	return Result{Precise: true, Conservative: conservative}
}

// findAssigns walks backwards from idx in b looking for the nearest
// assignments matching match on every path, and reports whether all paths
// were resolved. Field searches give up at calls, which may assign the
// field; every search gives up at the method entry.
func (a *algorithm) findAssigns(b *cfg.Block, idx int, match func(*bytecode.Instruction) bool, storeSearch bool, assigns *locatedSet, visited map[int]bool) bool {
	if visited[b.ID] {
		return true
	}
	visited[b.ID] = true

	if b.Type == cfg.BlockEntry {
		return false
	}
	if !b.Virtual() {
		for i := idx; ; i-- {
			ins := a.instruction(i)
			if !storeSearch && ins.Op.IsInvoke() {
				return false
			}
			if match(ins) {
				assigns.add(i, b)
				return true
			}
			if i == b.StartRef {
				break
			}
		}
	}

	precise := true
	for _, p := range a.walkPredecessors(b) {
		precise = a.findAssigns(p, p.EndRef, match, storeSearch, assigns, visited) && precise
	}
	return precise
}

// storeMatcher matches stores to local variable slot local.
func storeMatcher(local int) func(*bytecode.Instruction) bool {
	return func(x *bytecode.Instruction) bool {
		return x.Op.IsAStore() && x.Local == local
	}
}
