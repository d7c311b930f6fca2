package inference

import (
	"context"
	"strconv"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/l3aro/go-cfg-engine/pkg/irg"
)

// DefaultBindingCacheBytes bounds the approximate memory an Interprocedural
// strategy spends on remembered call resolutions.
const DefaultBindingCacheBytes = 256 << 10

// GraphSource supplies the completed graph of another method. It returns a
// nil graph for methods without code.
type GraphSource interface {
	GraphFor(ctx context.Context, sig bytecode.MethodSignature) (*cfg.Graph, error)
}

// Interprocedural infers exception types flow-insensitively across method
// boundaries. A throw site may raise any throwable constructed in its method
// or in a method it transitively calls, narrowed by what the thrown operand
// is known to be. A call site raises what the methods it may bind to let
// escape, which needs their graphs; those are requested from the
// GraphSource, so inference of one method can start inference of others.
// Recursive calls are resolved by suspending the methods in progress and
// resuming them whenever a callee completes.
//
// An Interprocedural strategy keeps its caches for its whole life and must
// not be shared between goroutines.
type Interprocedural struct {
	algorithm

	irg     *irg.IRG
	program map[string]struct{}
	src     GraphSource
	ctx     context.Context

	inProgress  map[bytecode.MethodSignature]*inferenceState
	constructed map[bytecode.MethodSignature]*collector
	escaping    map[bytecode.MethodSignature]*collector
	calls       map[bytecode.MethodSignature]*collector
	worklists   map[worklistKey]*bindingWorklist
	bindings    *cache.LRUCache
	warned      map[bytecode.MethodSignature]bool
	active      map[int]bool
}

// NewInterprocedural returns the interprocedural strategy for the program
// made of classes, whose relationships are recorded in rel. src builds the
// graphs of called methods. bindingBytes of 0 selects
// DefaultBindingCacheBytes.
func NewInterprocedural(h *Hierarchy, rel *irg.IRG, classes []string, src GraphSource, bindingBytes int64, logger log.Logger) *Interprocedural {
	program := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		program[c] = struct{}{}
	}
	if bindingBytes <= 0 {
		bindingBytes = DefaultBindingCacheBytes
	}
	alg := newAlgorithm(h, logger)
	bindings := cache.New(cache.Options{
		MaxBytes: bindingBytes,
		SizeOf:   func(v interface{}) int { return v.(bindingSet).size() },
		OnEvict: func(key string, _ interface{}) {
			alg.logger.Debug("call resolution evicted", "call", key)
		},
	})
	return &Interprocedural{
		algorithm:   alg,
		irg:         rel,
		program:     program,
		src:         src,
		inProgress:  make(map[bytecode.MethodSignature]*inferenceState),
		constructed: make(map[bytecode.MethodSignature]*collector),
		escaping:    make(map[bytecode.MethodSignature]*collector),
		calls:       make(map[bytecode.MethodSignature]*collector),
		worklists:   make(map[worklistKey]*bindingWorklist),
		bindings:    bindings,
		warned:      make(map[bytecode.MethodSignature]bool),
	}
}

// inferenceState is a method whose inference is in progress. Its call sites
// are processed in order; next is the first call site not yet finished.
type inferenceState struct {
	m         *bytecode.Method
	g         *cfg.Graph
	res       *Results
	calls     []*cfg.Block
	next      int
	collected map[int]*collector
}

type worklistKey struct {
	method bytecode.MethodSignature
	block  int
}

// bindingWorklist holds the bindings of a call site still to be visited.
// It outlives a suspension of the call site's method.
type bindingWorklist struct {
	items []bytecode.MethodSignature
}

type bindingSet struct {
	methods []bytecode.MethodSignature
	// outside is true when an implementation outside the program may be
	// called.
	outside bool
}

// size approximates the memory held by b.
func (b bindingSet) size() int {
	n := 32
	for _, m := range b.methods {
		n += len(m.Class) + len(m.Name) + len(m.Descriptor) + 48
	}
	return n
}

// collector accumulates exception types and forwards new ones to its
// receivers. With handlers set, types caught by one of the handlers stay
// local; a subclass of a handler type becomes a handler type itself.
type collector struct {
	sig       bytecode.MethodSignature
	types     *typeSet
	handlers  *typeSet
	receivers []*collector
	seen      map[*collector]struct{}

	conservative string
}

func newCollector(sig bytecode.MethodSignature, handlers []string) *collector {
	c := &collector{sig: sig, types: newTypeSet(), seen: make(map[*collector]struct{})}
	if handlers != nil {
		c.handlers = newTypeSet()
		for _, t := range handlers {
			c.handlers.add(t)
		}
	}
	return c
}

func (c *collector) addReceiver(r *collector) {
	if _, ok := c.seen[r]; ok {
		return
	}
	c.seen[r] = struct{}{}
	c.receivers = append(c.receivers, r)
}

// collect records t in c and passes it on to every receiver that lacks it.
func (f *Interprocedural) collect(c *collector, t string) {
	type pending struct {
		c *collector
		t string
	}
	queue := []pending{{c, t}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if f.caught(p.c, p.t) {
			continue
		}
		p.c.types.add(p.t)
		for _, r := range p.c.receivers {
			if !r.types.contains(p.t) {
				queue = append(queue, pending{r, p.t})
			}
		}
	}
}

// caught records t locally when one of c's handlers catches it.
func (f *Interprocedural) caught(c *collector, t string) bool {
	if c.handlers == nil {
		return false
	}
	if c.handlers.contains(t) {
		c.types.add(t)
		return true
	}
	for _, h := range append([]string(nil), c.handlers.order...) {
		if f.subclassOf(t, h) {
			c.handlers.add(t)
			c.types.add(t)
			return true
		}
	}
	return false
}

func (f *Interprocedural) collectAll(c *collector, types []string) {
	for _, t := range append([]string(nil), types...) {
		f.collect(c, t)
	}
}

// enter makes m the method the helpers operate on.
func (f *Interprocedural) enter(m *bytecode.Method, g *cfg.Graph) {
	if f.m != m {
		f.init(m, g)
	}
}

func (f *Interprocedural) inProgram(class string) bool {
	_, ok := f.program[class]
	return ok
}

// Infer implements Strategy.
func (f *Interprocedural) Infer(ctx context.Context, m *bytecode.Method, g *cfg.Graph, sites []*cfg.Block, res *Results) (err error) {
	if len(sites) == 0 {
		return nil
	}
	defer catch(&err)
	if f.ctx == nil {
		f.ctx = ctx
		defer func() { f.ctx = nil }()
	}
	f.init(m, g)
	sig := m.Signature()

	constructed, ok := f.constructed[sig]
	if !ok {
		constructed = newCollector(sig, nil)
		f.constructed[sig] = constructed
		f.findConstructed(constructed)
	}
	escaping, ok := f.escaping[sig]
	if !ok {
		escaping = newCollector(sig, nil)
		f.escaping[sig] = escaping
	}

	st := &inferenceState{m: m, g: g, res: res, collected: make(map[int]*collector)}
	f.inProgress[sig] = st
	defer delete(f.inProgress, sig)

	inferred := make(map[int]struct{}, len(sites))
	for _, s := range sites {
		inferred[s.ID] = struct{}{}
	}
	for id, set := range res.Edges {
		if _, ok := inferred[id]; ok {
			continue
		}
		for _, e := range set.Edges() {
			if e.Succ == -1 && e.TypeKind == cfg.TypeExact {
				f.collect(escaping, e.Exception)
			}
		}
	}

	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		ins := f.endInstruction(site)
		switch {
		case ins.Op == bytecode.ATHROW:
			f.inferThrow(site, constructed, escaping, res)
		case ins.Op.IsInvoke():
			st.calls = append(st.calls, site)
		default:
			f.fail("block does not end in an exception throwing instruction", nil)
		}
	}

	f.processCalls(st, escaping, false)

	waiting := make([]bytecode.MethodSignature, 0, len(f.inProgress))
	for other := range f.inProgress {
		if other != sig {
			waiting = append(waiting, other)
		}
	}
	bytecode.SortByName(waiting)
	for _, other := range waiting {
		st, ok := f.inProgress[other]
		if !ok {
			continue
		}
		f.logger.Debug("resuming suspended inference", "method", other, "from", sig)
		f.processCalls(st, f.escaping[other], true)
	}
	f.enter(m, g)

	for _, site := range st.calls {
		ins := f.endInstruction(site)
		callThrows := st.collected[site.ID]
		set := NewEdgeSet(f.h)
		for _, t := range f.narrow(callThrows.types.order, callThrows.conservative) {
			f.add(set, cfg.NewTypedEdge(0, f.handlerBlock(ins.Offset, t), site.ID, t))
		}
		f.add(set, cfg.NewTypedEdge(0, f.handlerBlock(ins.Offset, ""), site.ID, ""))
		res.Edges[site.ID] = set
		res.Precision[site.ID] = Result{Precise: false, Conservative: callThrows.conservative}
	}
	return nil
}

// narrow keeps the types that are subclasses of conservative, or the
// unchecked ones when conservative is empty.
func (f *Interprocedural) narrow(types []string, conservative string) []string {
	var out []string
	for _, t := range append([]string(nil), types...) {
		if conservative == "" {
			if !f.unchecked(t) {
				continue
			}
		} else if !f.subclassOf(t, conservative) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// inferThrow gives a throw site an edge for every type constructed in
// reach of the method that the thrown operand may be.
func (f *Interprocedural) inferThrow(site *cfg.Block, constructed, escaping *collector, res *Results) {
	ins := f.endInstruction(site)
	set := NewEdgeSet(f.h)

	var candidates []string
	r := f.immediate(site.EndRef)
	if r.Precise {
		candidates = []string{r.Conservative}
	} else {
		r.Conservative = f.conservativeType(site, site.EndRef, bytecode.ThrowableClass)
		candidates = constructed.types.order
		if len(candidates) == 0 {
			candidates = []string{r.Conservative}
		}
	}

	edge := func(t string) {
		succ := f.handlerBlock(ins.Offset, t)
		if succ < 0 {
			f.collect(escaping, t)
		}
		f.add(set, cfg.NewTypedEdge(0, succ, site.ID, t))
	}
	for _, t := range f.narrow(candidates, r.Conservative) {
		edge(t)
	}
	if set.Len() == 0 {
		edge(r.Conservative)
	}
	res.Edges[site.ID] = set
	res.Precision[site.ID] = r
}

// processCalls works through the call sites of st starting at the first
// unfinished one. A call site collects the types escaping every method it
// may bind to; computing those may suspend st inside a callee, in which case
// a later resume continues from the same binding.
func (f *Interprocedural) processCalls(st *inferenceState, caller *collector, resumed bool) {
	f.enter(st.m, st.g)
	sig := st.m.Signature()
	for st.next < len(st.calls) {
		if err := f.ctx.Err(); err != nil {
			bail(err)
		}
		site := st.calls[st.next]
		ins := f.endInstruction(site)
		invoked := ins.CalledMethod()
		widest, thrown := f.conservativeThrown(ins.Offset, invoked)

		var callThrows *collector
		if resumed {
			callThrows = f.calls[invoked]
		}
		if callThrows == nil {
			callThrows = newCollector(invoked, f.handlerTypes(ins.Offset))
			f.calls[invoked] = callThrows
		}
		callThrows.addReceiver(caller)

		if !f.inProgram(invoked.Class) {
			f.collectAll(callThrows, thrown)
		} else {
			key := worklistKey{method: sig, block: site.ID}
			wl, ok := f.worklists[key]
			if !ok {
				bs := f.resolve(invoked, ins.Op)
				wl = &bindingWorklist{items: append([]bytecode.MethodSignature(nil), bs.methods...)}
				f.worklists[key] = wl
				if bs.outside {
					f.warnOutside(invoked, "conservative estimate included")
					f.collectAll(callThrows, thrown)
				}
			}
			for len(wl.items) > 0 {
				bound := wl.items[0]
				wl.items = wl.items[1:]

				boundThrows, ok := f.escaping[bound]
				if !ok {
					boundThrows = newCollector(bound, nil)
					f.escaping[bound] = boundThrows
				}
				boundThrows.addReceiver(callThrows)
				f.collectAll(callThrows, boundThrows.types.order)
				f.findEscaping(boundThrows)
				f.enter(st.m, st.g)
			}
			delete(f.worklists, key)
		}

		callThrows.conservative = widest
		st.collected[site.ID] = callThrows
		st.next++
	}
	f.enter(st.m, st.g)
}

// findEscaping adds to c the types escaping the method it stands for. A
// method in progress is resumed instead; its results reach c as they are
// found.
func (f *Interprocedural) findEscaping(c *collector) {
	if st, ok := f.inProgress[c.sig]; ok {
		f.processCalls(st, c, true)
		return
	}
	g, err := f.src.GraphFor(f.ctx, c.sig)
	if err != nil {
		f.fail("failed to build graph for "+c.sig.String(), err)
	}
	if g == nil {
		return
	}
	for _, b := range g.BlocksOf(cfg.BlockExit.Mask()) {
		if b.SubType != cfg.SubThrow {
			continue
		}
		for _, e := range g.InEdges(b.ID) {
			if e.TypeKind == cfg.TypeExact {
				f.collect(c, e.Exception)
			}
		}
	}
}

func (f *Interprocedural) warnOutside(invoked bytecode.MethodSignature, detail string) {
	if f.warned[invoked] {
		return
	}
	f.warned[invoked] = true
	f.logger.Warn("a concrete implementation exists outside of the program boundary",
		"method", invoked, "detail", detail)
}

// resolve returns the methods a call to invoked may bind to.
func (f *Interprocedural) resolve(invoked bytecode.MethodSignature, op bytecode.Opcode) bindingSet {
	key := strconv.Itoa(int(op)) + " " + invoked.String()
	if v, ok := f.bindings.Get(key); ok {
		return v.(bindingSet)
	}
	found := make(map[bytecode.MethodSignature]struct{})
	outside := f.bindingsOf(invoked, op, found)
	bs := bindingSet{outside: outside}
	for m := range found {
		bs.methods = append(bs.methods, m)
	}
	bytecode.SortByName(bs.methods)
	f.bindings.Set(key, bs)
	return bs
}

func (f *Interprocedural) relationships(class string) *irg.ClassNode {
	n, err := f.irg.Class(class)
	if err != nil {
		f.fail("invalid class hierarchy data", err)
	}
	return n
}

func (f *Interprocedural) class(name string) *bytecode.Class {
	c, err := f.h.Class(name)
	if err != nil {
		bail(err)
	}
	return c
}

// bindingsOf adds to found the program methods a call to method may bind
// to, and reports whether it may also bind outside the program. Calls on an
// interface bind through its implementors; other calls bind to the named
// class or the nearest superclass declaring the method, and unless the call
// is invokespecial, to any overriding subclass.
func (f *Interprocedural) bindingsOf(method bytecode.MethodSignature, op bytecode.Opcode, found map[bytecode.MethodSignature]struct{}) bool {
	node := f.relationships(method.Class)
	cls := f.class(method.Class)

	outside := false
	if cls.Interface {
		for _, impl := range node.Implementors() {
			if f.bindingsOf(method.WithClass(impl), op, found) {
				outside = true
			}
		}
		return outside
	}

	if cls.Declares(method) {
		found[method] = struct{}{}
	} else if super, ok := f.superclassBinding(method.WithClass(node.Superclass())); ok {
		found[super] = struct{}{}
	} else if !cls.Abstract {
		outside = true
	}
	if op == bytecode.INVOKESPECIAL {
		return outside
	}
	for _, sub := range node.Subclasses() {
		f.subclassBindings(method.WithClass(sub), found)
	}
	return outside
}

func (f *Interprocedural) superclassBinding(method bytecode.MethodSignature) (bytecode.MethodSignature, bool) {
	for method.Class != irg.UndefinedID && method.Class != irg.BaseID {
		node := f.relationships(method.Class)
		if f.class(method.Class).Declares(method) {
			return method, true
		}
		method = method.WithClass(node.Superclass())
	}
	return bytecode.MethodSignature{}, false
}

func (f *Interprocedural) subclassBindings(method bytecode.MethodSignature, found map[bytecode.MethodSignature]struct{}) {
	if method.Class == irg.UndefinedID {
		return
	}
	node := f.relationships(method.Class)
	if f.class(method.Class).Declares(method) {
		found[method] = struct{}{}
	}
	for _, sub := range node.Subclasses() {
		f.subclassBindings(method.WithClass(sub), found)
	}
}

// findConstructed adds to c the throwables constructed by its method and by
// every program method it may call, and the throwables returned by calls
// leaving the program.
func (f *Interprocedural) findConstructed(c *collector) {
	m, ok := f.class(c.sig.Class).Method(c.sig.Name, c.sig.Descriptor)
	if !ok {
		f.fail("class consistency error: "+c.sig.String()+" not found", nil)
	}
	for i := range m.Instructions {
		ins := &m.Instructions[i]
		if !ins.Op.IsInvoke() || ins.Op == bytecode.INVOKEDYNAMIC {
			continue
		}
		if ins.IsConstructorCall() && f.throwable(ins.Owner) {
			f.collect(c, ins.Owner)
			continue
		}
		if f.inProgram(ins.Owner) {
			f.constructedBy(c, ins.CalledMethod(), ins.Op)
			continue
		}
		if t, ok := ins.ReturnType(); ok && f.throwable(t) {
			f.collect(c, t)
		}
	}
}

func (f *Interprocedural) constructedBy(caller *collector, invoked bytecode.MethodSignature, op bytecode.Opcode) {
	bs := f.resolve(invoked, op)
	if bs.outside {
		f.warnOutside(invoked, "no conservative estimate possible for constructed types")
	}
	for _, bound := range bs.methods {
		data, ok := f.constructed[bound]
		if !ok {
			data = newCollector(bound, nil)
			data.addReceiver(caller)
			f.constructed[bound] = data
			f.findConstructed(data)
			continue
		}
		data.addReceiver(caller)
		f.collectAll(caller, data.types.order)
	}
}

// conservativeType returns the widest type the operand consumed at idx can
// have, found by tracing it to its producers without following flow across
// exception edges.
func (f *Interprocedural) conservativeType(b *cfg.Block, idx int, conservative string) string {
	if f.active == nil {
		f.active = make(map[int]bool)
	}
	if f.active[idx] {
		return conservative
	}
	f.active[idx] = true
	defer delete(f.active, idx)

	producers := newLocatedSet()
	found := f.findProducers(b, idx, conservative, producers)
	if !found.Precise {
		return found.Conservative
	}

	widest := ""
	for _, p := range producers.items {
		prod := f.instruction(p.idx)
		current := found.Conservative
		switch {
		case prod.Op == bytecode.ACONST_NULL:
			widest = f.common(widest, bytecode.NullPointerClass)

		case prod.Op == bytecode.AALOAD:
			widest = bytecode.ThrowableClass

		case prod.Op.IsALoad():
			if lv, ok := f.m.LocalVariableAt(prod.Local, prod.Offset); ok {
				if t, ok := bytecode.ObjectType(lv.Descriptor); ok && f.subclassOf(t, current) {
					current = t
				}
			}
			assigns := newLocatedSet()
			if !f.findAssigns(p.block, p.idx, storeMatcher(prod.Local), true, assigns, make(map[int]bool)) {
				widest = f.common(widest, current)
				continue
			}
			for _, a := range assigns.items {
				widest = f.common(widest, f.conservativeType(a.block, a.idx, current))
			}

		case prod.Op == bytecode.GETFIELD || prod.Op == bytecode.GETSTATIC:
			if t, ok := prod.FieldType(); ok {
				widest = f.common(widest, t)
			} else {
				widest = f.common(widest, current)
			}

		case prod.IsConstructorCall() && f.throwable(prod.Owner):
			widest = f.common(widest, prod.Owner)

		case prod.Op.IsInvoke():
			if t, ok := prod.ReturnType(); ok && f.throwable(t) {
				widest = f.common(widest, t)
			} else {
				widest = f.common(widest, current)
			}

		default:
			f.malformed(p.block, "thrown operand is produced by "+prod.Op.String())
		}
	}
	if widest == "" {
		return found.Conservative
	}
	return widest
}
