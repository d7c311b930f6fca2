// Package branch assigns branch IDs to the edges of completed control flow
// graphs. A branch ID names the decision an edge depends on; IDs meeting at
// a join are folded back into the IDs of the enclosing decision through a
// table of reduction rules.
package branch

import (
	"fmt"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/metrics"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// TransformationError reports a graph the branch pass cannot process.
type TransformationError struct {
	Method string
	Block  int
	Reason string
	Err    error
}

func (e *TransformationError) Error() string {
	msg := "branch assignment failed for " + e.Method
	if e.Block > 0 {
		msg += fmt.Sprintf(": block %d", e.Block)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformationError) Unwrap() error { return e.Err }

// Processor assigns branch IDs. It implements builder.Transformer. A
// Processor may be reused across graphs but not concurrently.
type Processor struct {
	logger log.Logger

	g     *cfg.Graph
	next  int
	rules *ReductionRules
	known map[*cfg.Edge]bool
	// noProp holds IDs that mark the nearest decision on an edge and must
	// not flow on past it.
	noProp *cfg.IDSet
}

// NewProcessor returns a branch ID processor.
func NewProcessor(logger log.Logger) *Processor {
	return &Processor{logger: log.OrDefault(logger)}
}

// Transform assigns branch IDs to every edge of g, replacing any IDs
// already present, and sets the graph's branch count and summary branch.
func (p *Processor) Transform(g *cfg.Graph) error {
	p.g = g
	p.next = 1
	p.rules = NewReductionRules()
	p.known = make(map[*cfg.Edge]bool)
	p.noProp = cfg.NewIDSet()
	defer func() {
		p.g, p.rules, p.known = nil, nil, nil
	}()

	for _, e := range g.Edges() {
		e.SetBranchIDs(cfg.NewIDSet())
	}
	g.SummaryBranchID = -1

	if err := p.assign(g.Blocks()); err != nil {
		return err
	}
	g.BranchCount = p.next - 1
	metrics.RecordBranchCount(g.BranchCount)
	return nil
}

func (p *Processor) fail(b *cfg.Block, reason string, err error) error {
	id := 0
	if b != nil {
		id = b.ID
	}
	return &TransformationError{Method: p.g.DisplayName, Block: id, Reason: reason, Err: err}
}

func (p *Processor) newID(b *cfg.Block) cfg.BranchID {
	id := cfg.BranchID{ID: p.next, Type: cfg.BranchTypeOf(b.Type, b.SubType)}
	p.next++
	return id
}

func (p *Processor) block(id int) (*cfg.Block, error) {
	b, err := p.g.Block(id)
	if err != nil {
		return nil, p.fail(nil, "edge refers to a missing block", err)
	}
	return b, nil
}

// assign processes blocks in order: each block's in-set is computed, then
// handed to its outgoing edges.
func (p *Processor) assign(blocks []*cfg.Block) error {
	for _, b := range blocks {
		in, err := p.inSet(b)
		if err != nil {
			return err
		}

		if len(b.Successors) == 0 {
			if b.Type != cfg.BlockExit {
				return p.fail(b, "non-exit block has no successor", nil)
			}
			if b.SubType == cfg.SubSummaryThrow {
				id, err := in.OnlyID()
				if err != nil {
					return p.fail(b, "summary throw exit has an ambiguous branch", err)
				}
				p.g.SummaryBranchID = id
			}
			continue
		}
		if b.SubType == cfg.SubFinally {
			continue
		}

		out := p.g.OutEdges(b.ID)
		var work []*cfg.Edge
		for _, e := range out {
			if p.known[e] {
				if id, ok := e.FirstBranchID(); ok && in.Contains(id) {
					in.Remove(id)
					continue
				}
			}
			work = append(work, e)
		}

		switch len(work) {
		case 0:
		case 1:
			e := work[0]
			ids := in.Set()
			if ids.Empty() {
				p.logger.Warn("edge receives no branch IDs", "method", p.g.DisplayName, "edge", e)
			}
			e.SetBranchIDs(ids)
			if len(out) > 1 {
				id := p.newID(b)
				e.AddBranchID(id)
				p.noProp.Add(id)
			}
			p.known[e] = true
			if b.SubType == cfg.SubJSR {
				if err := p.linkReturn(e, ids); err != nil {
					return err
				}
			}
		default:
			reduction := cfg.NewIDSet()
			for _, e := range work {
				if !p.known[e] {
					id := p.newID(b)
					e.AddBranchID(id)
					reduction.Add(id)
					p.known[e] = true
				} else {
					reduction.AddAll(e.BranchIDs())
				}
			}
			p.rules.Put(reduction, in.Set())
		}
	}
	return nil
}

// linkReturn copies the IDs of a subroutine call edge to the edge returning
// from that subroutine call.
func (p *Processor) linkReturn(call *cfg.Edge, ids *cfg.IDSet) error {
	if call.SpecialNodeID <= 0 {
		return nil
	}
	ret, err := p.block(call.SpecialNodeID)
	if err != nil {
		return err
	}
	key := call.LabelKey()
	for _, e := range p.g.OutEdges(ret.ID) {
		if e.LabelKey() == key {
			e.SetBranchIDs(ids)
			break
		}
	}
	return nil
}

// inSet returns the reduced union of the IDs on the edges entering b. An
// entry block gets a fresh ID. Incoming edges without IDs yet, typically
// loop back edges, are resolved first by walking back to the decision they
// come from.
func (p *Processor) inSet(b *cfg.Block) (*MinimalEdgeSet, error) {
	in := NewMinimalEdgeSet(p.rules)
	if len(b.Predecessors) == 0 {
		in.Add(p.newID(b))
		return in, nil
	}
	for _, e := range p.g.InEdges(b.ID) {
		if e.BranchIDCount() == 0 {
			pred, err := p.block(e.Pred)
			if err != nil {
				return nil, err
			}
			var path []*cfg.Block
			process, err := p.findBranchNode(pred, b, &path)
			if err != nil {
				return nil, err
			}
			if process {
				if err := p.assign(path); err != nil {
					return nil, err
				}
			}
		}
		ids := e.BranchIDs()
		ids.RemoveAll(p.noProp)
		in.AddAll(ids)
	}
	return in, nil
}

// findBranchNode walks back from b towards the decision controlling it,
// collecting in path the blocks to process before stop can be. It reports
// whether path should be processed. Reaching stop again without passing a
// decision means the walk went round a loop with no exit; that is logged
// and the walk truncated.
func (p *Processor) findBranchNode(b, stop *cfg.Block, path *[]*cfg.Block) (bool, error) {
	var follow *cfg.Edge
	in := p.g.InEdges(b.ID)
	for _, e := range in {
		if !p.known[e] {
			follow = e
			break
		}
	}
	if len(in) > 0 && follow == nil {
		*path = append([]*cfg.Block{b}, *path...)
		return true, nil
	}

	switch len(b.Successors) {
	case 0:
		return false, p.fail(b, "required successors not found in graph", nil)

	case 1:
		if b == stop {
			end := stop
			if n := len(*path); n > 0 {
				end = (*path)[n-1]
			}
			p.logger.Warn("method probably contains an infinite loop",
				"method", p.g.DisplayName, "from", stop.ID, "to", end.ID)
			return false, nil
		}
		if len(b.Predecessors) == 0 {
			e, ok := p.g.Edge(b.ID, b.Successors[0])
			if !ok {
				return false, p.fail(b, "successor edge not found", nil)
			}
			e.AddBranchID(p.newID(b))
			p.known[e] = true
			return true, nil
		}
		*path = append([]*cfg.Block{b}, *path...)
		pred, err := p.block(follow.Pred)
		if err != nil {
			return false, err
		}
		return p.findBranchNode(pred, stop, path)
	}

	succ := stop
	if len(*path) > 0 {
		succ = (*path)[0]
	}
	out := p.g.OutEdges(b.ID)
	for _, e := range out {
		if e.Succ == succ.ID && !p.known[e] {
			e.AddBranchID(p.newID(b))
			p.known[e] = true
		}
	}
	reduction := cfg.NewIDSet()
	for _, e := range out {
		if !p.known[e] {
			return true, nil
		}
		reduction.AddAll(e.BranchIDs())
	}

	if b == stop {
		joined := cfg.NewIDSet()
		for _, e := range p.g.InEdges(b.ID) {
			joined.AddAll(e.BranchIDs())
		}
		p.rules.Put(reduction, joined)
		return false, nil
	}

	predIn, err := p.inSet(b)
	if err != nil {
		return false, err
	}
	substitution := predIn.Set()
	if substitution.ContainsAll(reduction) {
		p.logger.Warn("method probably contains an infinite loop", "method", p.g.DisplayName, "block", b.ID)
		substitution.RemoveAll(reduction)
	}
	p.rules.Put(reduction, substitution)
	return true, nil
}
