package inference

import (
	"context"
	"sort"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// FlowSensitive infers the types thrown at each athrow by tracing the thrown
// operand back to the instructions that produced it, following local
// variable and field assignments within the method. Exceptional edges found
// for one site become control flow for the others, so sites are revisited
// until no site gains a type.
type FlowSensitive struct {
	algorithm

	// working maps a handler block to the sites inferred to reach it.
	working map[int]map[int]struct{}
	// active holds the instruction indexes whose inference is in progress.
	active map[int]bool
}

// NewFlowSensitive returns the intraprocedural flow-sensitive strategy.
func NewFlowSensitive(h *Hierarchy, logger log.Logger) *FlowSensitive {
	return &FlowSensitive{algorithm: newAlgorithm(h, logger)}
}

// Infer implements Strategy.
func (f *FlowSensitive) Infer(ctx context.Context, m *bytecode.Method, g *cfg.Graph, sites []*cfg.Block, res *Results) (err error) {
	defer catch(&err)
	f.init(m, g)
	f.walkPreds = f.flowPredecessors
	f.working = make(map[int]map[int]struct{})
	f.active = make(map[int]bool)

	inferred := make(map[int]*typeSet)
	successors := make(map[int]map[string]int)

	for changed := true; changed; {
		changed = false
		for _, site := range sites {
			if err := ctx.Err(); err != nil {
				return err
			}
			types, ok := inferred[site.ID]
			if !ok {
				types = newTypeSet()
			}
			before := types.len()
			res.Precision[site.ID] = f.inferSite(site, site.EndRef, bytecode.ThrowableClass, types)
			if types.len() == before {
				continue
			}
			inferred[site.ID] = types
			changed = true

			offset := f.endInstruction(site).Offset
			for _, t := range types.order {
				if !f.throwable(t) {
					f.malformed(site, "attempts to throw non-throwable object ("+t+")")
				}
				succ := f.handlerBlock(offset, t)
				if succ < 0 {
					continue
				}
				if f.working[succ] == nil {
					f.working[succ] = make(map[int]struct{})
				}
				f.working[succ][site.ID] = struct{}{}
				if successors[site.ID] == nil {
					successors[site.ID] = make(map[string]int)
				}
				successors[site.ID][t] = succ
			}
		}
	}

	for _, site := range sites {
		offset := f.endInstruction(site).Offset
		set := NewEdgeSet(f.h)
		if types, ok := inferred[site.ID]; ok {
			for _, t := range types.order {
				succ, ok := successors[site.ID][t]
				if !ok {
					succ = -1
				}
				f.add(set, cfg.NewTypedEdge(0, succ, site.ID, t))
			}
			if site.Type == cfg.BlockCall {
				f.add(set, cfg.NewTypedEdge(0, f.handlerBlock(offset, ""), site.ID, ""))
			}
		} else {
			t := res.Precision[site.ID].Conservative
			f.add(set, cfg.NewTypedEdge(0, f.handlerBlock(offset, t), site.ID, t))
		}
		res.Edges[site.ID] = set
	}
	return nil
}

// inferSite adds to types the classes the operand consumed by the
// instruction at idx can have, and returns the precision of that set. For
// call sites the set is replaced by the conservative estimate.
func (f *FlowSensitive) inferSite(b *cfg.Block, idx int, conservative string, types *typeSet) Result {
	ins := f.instruction(idx)
	if ins.Op.IsInvoke() {
		widest, thrown := f.conservativeThrown(ins.Offset, ins.CalledMethod())
		types.reset(thrown)
		return Result{Precise: false, Conservative: widest}
	}

	// An assignment reached again through a loop adds nothing new.
	if f.active[idx] {
		return Result{Precise: true}
	}
	f.active[idx] = true
	defer delete(f.active, idx)

	producers := newLocatedSet()
	found := f.findProducers(b, idx, conservative, producers)
	if !found.Precise {
		return Result{Precise: false, Conservative: found.Conservative}
	}

	precise := true
	widest := ""
nextProducer:
	for _, p := range producers.items {
		prod := f.instruction(p.idx)
		conservative = found.Conservative

		var match func(*bytecode.Instruction) bool
		storeSearch := false
		switch {
		case prod.Op == bytecode.ACONST_NULL:
			types.add(bytecode.NullPointerClass)
			widest = f.common(widest, bytecode.NullPointerClass)
			continue

		case prod.Op == bytecode.AALOAD:
			f.logger.Debug("thrown operand is an array element", "method", f.m.Signature(), "offset", prod.Offset)
			precise = false
			widest = bytecode.ThrowableClass
			continue

		case prod.Op.IsALoad():
			if lv, ok := f.m.LocalVariableAt(prod.Local, prod.Offset); ok {
				if t, ok := bytecode.ObjectType(lv.Descriptor); ok && f.subclassOf(t, conservative) {
					conservative = t
				}
			}
			storeSearch = true
			match = storeMatcher(prod.Local)

		case prod.Op == bytecode.GETFIELD || prod.Op == bytecode.GETSTATIC:
			if t, ok := prod.FieldType(); ok && f.subclassOf(t, conservative) {
				conservative = t
			}
			put := bytecode.PUTFIELD
			if prod.Op == bytecode.GETSTATIC {
				put = bytecode.PUTSTATIC
			}
			ref := prod.FieldRef()
			match = func(x *bytecode.Instruction) bool {
				return x.Op == put && x.FieldRef() == ref
			}

		case prod.IsConstructorCall() && f.throwable(prod.Owner):
			types.add(prod.Owner)
			widest = f.common(widest, prod.Owner)
			continue

		case prod.Op.IsInvoke():
			f.logger.Debug("thrown operand is returned by a call", "method", f.m.Signature(), "offset", prod.Offset)
			precise = false
			if t, ok := prod.ReturnType(); ok && f.throwable(t) {
				widest = f.common(widest, t)
			}
			continue

		default:
			f.malformed(p.block, "thrown operand is produced by "+prod.Op.String())
		}

		assigns := newLocatedSet()
		if !f.findAssigns(p.block, p.idx, match, storeSearch, assigns, make(map[int]bool)) {
			f.logger.Debug("could not find all assignments", "method", f.m.Signature(), "offset", prod.Offset)
			precise = false
			widest = f.common(widest, conservative)
		}
		for _, a := range assigns.items {
			r := f.inferSite(a.block, a.idx, conservative, types)
			widest = f.common(widest, r.Conservative)
			if !r.Precise {
				precise = false
				continue nextProducer
			}
		}
	}

	if widest == "" {
		widest = bytecode.ThrowableClass
	}
	return Result{Precise: precise, Conservative: widest}
}

// flowPredecessors returns the distinct predecessors of b in the graph, then
// the sites currently inferred to throw into it ordered by block ID.
func (f *FlowSensitive) flowPredecessors(b *cfg.Block) []*cfg.Block {
	preds := f.distinctPredecessors(b)
	seen := make(map[int]struct{}, len(preds))
	for _, p := range preds {
		seen[p.ID] = struct{}{}
	}
	var extra []int
	for id := range f.working[b.ID] {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Ints(extra)
	for _, id := range extra {
		p, err := f.g.Block(id)
		if err != nil {
			bail(err)
		}
		preds = append(preds, p)
	}
	return preds
}
