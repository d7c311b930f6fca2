package inference

import (
	"context"
	"fmt"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// Strategy infers the exception types raised at the exception sites of a
// method and the exceptional edges leaving them. Sites are blocks ending in
// athrow and call blocks. A strategy fills res; an edge with Succ -1 leaves
// the method.
type Strategy interface {
	Infer(ctx context.Context, m *bytecode.Method, g *cfg.Graph, sites []*cfg.Block, res *Results) error
}

// invalidProducers push values that can never be thrown.
var invalidProducers = map[bytecode.Opcode]bool{
	bytecode.ANEWARRAY:      true,
	bytecode.MULTIANEWARRAY: true,
	bytecode.NEWARRAY:       true,
	bytecode.LDC:            true,
	bytecode.LDC_W:          true,
	bytecode.LDC2_W:         true,
}

// algorithm holds the per-method state and helpers shared by the
// strategies. Helpers that consult the class hierarchy bail out on failure;
// the exported entry points recover with catch.
type algorithm struct {
	h      *Hierarchy
	logger log.Logger

	m            *bytecode.Method
	g            *cfg.Graph
	handlers     []bytecode.Handler
	thrown       []string
	widestThrown string

	// walkPreds overrides the predecessors followed by the backward walks.
	walkPreds func(*cfg.Block) []*cfg.Block
}

func newAlgorithm(h *Hierarchy, logger log.Logger) algorithm {
	return algorithm{h: h, logger: log.OrDefault(logger)}
}

// init loads the method under analysis. The widest declared type defaults
// to Throwable.
func (a *algorithm) init(m *bytecode.Method, g *cfg.Graph) {
	a.m = m
	a.g = g
	a.walkPreds = nil
	a.handlers = m.Handlers
	a.thrown = m.Exceptions
	widest := ""
	for _, t := range a.thrown {
		widest = a.common(widest, t)
	}
	if widest == "" {
		widest = bytecode.ThrowableClass
	}
	a.widestThrown = widest
}

func (a *algorithm) subclassOf(x, y string) bool {
	ok, err := a.h.SubclassOf(x, y)
	if err != nil {
		bail(err)
	}
	return ok
}

func (a *algorithm) common(x, y string) string {
	c, err := a.h.CommonSuperclass(x, y)
	if err != nil {
		bail(err)
	}
	return c
}

func (a *algorithm) unchecked(t string) bool {
	ok, err := a.h.IsUnchecked(t)
	if err != nil {
		bail(err)
	}
	return ok
}

func (a *algorithm) throwable(t string) bool {
	ok, err := a.h.IsThrowable(t)
	if err != nil {
		bail(err)
	}
	return ok
}

func (a *algorithm) add(set *EdgeSet, e *cfg.Edge) bool {
	ok, err := set.Add(e)
	if err != nil {
		bail(err)
	}
	return ok
}

func (a *algorithm) fail(reason string, err error) {
	bail(&TypeInferenceError{Method: a.m.Signature().String(), Reason: reason, Err: err})
}

func (a *algorithm) malformed(b *cfg.Block, reason string) {
	bail(&cfg.MalformedError{Method: a.m.Signature().String(), Block: b.ID, Reason: reason})
}

// instruction returns the instruction at index i of the method.
func (a *algorithm) instruction(i int) *bytecode.Instruction {
	return &a.m.Instructions[i]
}

// endInstruction returns the last instruction of a real block.
func (a *algorithm) endInstruction(b *cfg.Block) *bytecode.Instruction {
	return a.instruction(b.EndRef)
}

// predecessors returns the blocks preceding b.
func (a *algorithm) predecessors(b *cfg.Block) []*cfg.Block {
	out := make([]*cfg.Block, 0, len(b.Predecessors))
	for _, id := range b.Predecessors {
		p, err := a.g.Block(id)
		if err != nil {
			bail(err)
		}
		out = append(out, p)
	}
	return out
}

// immediate recognizes "new T; dup; ...; invokespecial T.<init>; athrow",
// where the thrown type is exactly T. ins is the athrow at index i.
func (a *algorithm) immediate(i int) Result {
	if i > 0 {
		prev := a.instruction(i - 1)
		if prev.IsConstructorCall() && a.throwable(prev.Owner) {
			return Result{Precise: true, Conservative: prev.Owner}
		}
	}
	return Result{Precise: false, Conservative: bytecode.ThrowableClass}
}

// matchHandler returns the first handler covering offset that catches
// catchType. An empty catchType matches only catch-all handlers.
func (a *algorithm) matchHandler(offset int, catchType string) (bytecode.Handler, bool) {
	for _, h := range a.handlers {
		if !h.Covers(offset) {
			continue
		}
		if catchType == "" {
			if h.CatchAll() {
				return h, true
			}
			continue
		}
		if h.CatchAll() || a.subclassOf(catchType, h.CatchType) {
			return h, true
		}
	}
	return bytecode.Handler{}, false
}

// handlerBlock returns the ID of the block a handler transfers to, or -1
// when no handler catches catchType at offset.
func (a *algorithm) handlerBlock(offset int, catchType string) int {
	h, ok := a.matchHandler(offset, catchType)
	if !ok {
		return -1
	}
	b, ok := a.g.BlockAtOffset(h.HandlerPC)
	if !ok {
		a.fail(fmt.Sprintf("no block starts at handler offset %d", h.HandlerPC), nil)
	}
	return b.ID
}

// typedHandlers returns the typed handlers covering offset, stopping at the
// first catch-all.
func (a *algorithm) typedHandlers(offset int) []bytecode.Handler {
	var out []bytecode.Handler
	for _, h := range a.handlers {
		if !h.Covers(offset) {
			continue
		}
		if h.CatchAll() {
			break
		}
		out = append(out, h)
	}
	return out
}

// handlerTypes returns the catch types covering offset. A catch-all handler
// contributes Throwable and ends the list.
func (a *algorithm) handlerTypes(offset int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, h := range a.handlers {
		if !h.Covers(offset) {
			continue
		}
		t := h.CatchType
		if h.CatchAll() {
			t = bytecode.ThrowableClass
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
		if h.CatchAll() {
			break
		}
	}
	return out
}

// handlerAt returns the handler whose entry point is offset.
func (a *algorithm) handlerAt(offset int) (bytecode.Handler, bool) {
	for _, h := range a.handlers {
		if h.HandlerPC == offset {
			return h, true
		}
	}
	return bytecode.Handler{}, false
}

// declaration finds the method a call resolves to for the purpose of its
// throws clause: the named class, then its interfaces, then for classes the
// superclass chain and the interfaces of each superclass.
func (a *algorithm) declaration(invoked bytecode.MethodSignature) (*bytecode.Method, bool) {
	cls, err := a.h.Class(invoked.Class)
	if err != nil {
		bail(err)
	}
	if m, ok := cls.Method(invoked.Name, invoked.Descriptor); ok {
		return m, true
	}
	if m, ok := a.interfaceDeclaration(invoked, cls); ok {
		return m, true
	}
	if cls.Interface {
		return nil, false
	}
	for super := cls.Super; super != ""; {
		sc, err := a.h.Class(super)
		if err != nil {
			bail(err)
		}
		if m, ok := sc.Method(invoked.Name, invoked.Descriptor); ok {
			return m, true
		}
		if m, ok := a.interfaceDeclaration(invoked, sc); ok {
			return m, true
		}
		super = sc.Super
	}
	return nil, false
}

func (a *algorithm) interfaceDeclaration(invoked bytecode.MethodSignature, cls *bytecode.Class) (*bytecode.Method, bool) {
	for _, name := range cls.Interfaces {
		iface, err := a.h.Class(name)
		if err != nil {
			bail(err)
		}
		if m, ok := iface.Method(invoked.Name, invoked.Descriptor); ok {
			return m, true
		}
		if m, ok := a.interfaceDeclaration(invoked, iface); ok {
			return m, true
		}
	}
	return nil, false
}

// conservativeThrown estimates the types a call at offset can raise: the
// callee's declared types, plus enclosing catch types and the caller's own
// declared types that are subclasses of the widest declared type (or
// unchecked, when the callee declares nothing). widest is empty when the
// callee declares nothing.
func (a *algorithm) conservativeThrown(offset int, invoked bytecode.MethodSignature) (widest string, types []string) {
	decl, ok := a.declaration(invoked)
	if !ok {
		a.fail("unable to find declaration of "+invoked.String()+" for conservative estimate", nil)
	}

	seen := make(map[string]struct{})
	add := func(t string) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			types = append(types, t)
		}
	}
	for _, t := range decl.Exceptions {
		add(t)
		widest = a.common(widest, t)
	}

	consider := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		if widest == "" {
			if a.unchecked(t) {
				add(t)
			}
		} else if a.subclassOf(t, widest) {
			add(t)
		}
	}
	for _, h := range a.typedHandlers(offset) {
		consider(h.CatchType)
	}
	for _, t := range a.thrown {
		consider(t)
	}
	return widest, types
}

// typeSet is an insertion-ordered set of class names.
type typeSet struct {
	order []string
	has   map[string]struct{}
}

func newTypeSet() *typeSet {
	return &typeSet{has: make(map[string]struct{})}
}

func (s *typeSet) add(t string) bool {
	if _, ok := s.has[t]; ok {
		return false
	}
	s.has[t] = struct{}{}
	s.order = append(s.order, t)
	return true
}

func (s *typeSet) contains(t string) bool {
	_, ok := s.has[t]
	return ok
}

func (s *typeSet) len() int { return len(s.order) }

func (s *typeSet) reset(types []string) {
	s.order = s.order[:0]
	s.has = make(map[string]struct{}, len(types))
	for _, t := range types {
		s.add(t)
	}
}
