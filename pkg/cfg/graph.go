package cfg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
)

// Graph is the control flow graph of one method. Blocks live in an arena
// where index i holds block ID i+1; edges are kept in insertion order and
// indexed by both endpoints.
type Graph struct {
	Signature   bytecode.MethodSignature
	DisplayName string

	// BranchCount is the number of branch IDs assigned to the graph.
	BranchCount int
	// SummaryBranchID is the branch ID on the edge into the summary throw
	// exit, or -1.
	SummaryBranchID int
	// NextEdgeID is the next free edge ID while the graph is being built.
	NextEdgeID int

	blocks   []*Block
	edges    []*Edge
	out      map[int][]*Edge
	in       map[int][]*Edge
	byOffset map[int]*Block
	logger   log.Logger
}

// NewGraph returns an empty graph for a method.
func NewGraph(sig bytecode.MethodSignature) *Graph {
	return &Graph{
		Signature:       sig,
		DisplayName:     sig.String(),
		BranchCount:     1,
		SummaryBranchID: -1,
		out:             make(map[int][]*Edge),
		in:              make(map[int][]*Edge),
		byOffset:        make(map[int]*Block),
	}
}

// SetLogger sets the logger used for recoverable inconsistencies.
func (g *Graph) SetLogger(l log.Logger) {
	g.logger = l
}

func (g *Graph) log() log.Logger {
	return log.OrDefault(g.logger)
}

// AddBlock appends a block. Non-virtual blocks become reachable through
// BlockAtOffset by their start offset.
func (g *Graph) AddBlock(b *Block) {
	g.blocks = append(g.blocks, b)
	if !b.Virtual() {
		g.byOffset[b.StartOffset] = b
	}
}

// AddEdge appends an edge and records the adjacency on both endpoints.
// Parallel edges are allowed. The endpoints must exist.
func (g *Graph) AddEdge(e *Edge) error {
	from, err := g.Block(e.Pred)
	if err != nil {
		return fmt.Errorf("edge %d: %w", e.ID, err)
	}
	to, err := g.Block(e.Succ)
	if err != nil {
		return fmt.Errorf("edge %d: %w", e.ID, err)
	}
	g.appendEdge(e)
	from.Successors = append(from.Successors, to.ID)
	to.Predecessors = append(to.Predecessors, from.ID)
	return nil
}

// RestoreEdge appends an edge read back from storage. Block adjacency is
// left untouched; readers restore it from the stored successor and
// predecessor lists.
func (g *Graph) RestoreEdge(e *Edge) {
	g.appendEdge(e)
}

// appendEdge records e; its endpoints must not change afterwards.
func (g *Graph) appendEdge(e *Edge) {
	g.edges = append(g.edges, e)
	g.out[e.Pred] = append(g.out[e.Pred], e)
	g.in[e.Succ] = append(g.in[e.Succ], e)
}

// Block returns the block with the given ID. Block IDs are expected to be
// dense; if they are not the lookup recovers by sorting the arena and finally
// by linear search.
func (g *Graph) Block(id int) (*Block, error) {
	if id < 1 {
		return nil, fmt.Errorf("no block with ID %d", id)
	}
	if id > len(g.blocks) {
		g.log().Warn("graph may contain non-contiguous block IDs", "method", g.DisplayName, "id", id)
		return g.findBlock(id)
	}
	if b := g.blocks[id-1]; b.ID == id {
		return b, nil
	}

	sort.SliceStable(g.blocks, func(i, j int) bool { return g.blocks[i].ID < g.blocks[j].ID })
	if b := g.blocks[id-1]; b.ID == id {
		return b, nil
	}
	g.log().Warn("graph contains non-contiguous or redundant block IDs, first match returned",
		"method", g.DisplayName, "id", id)
	return g.findBlock(id)
}

func (g *Graph) findBlock(id int) (*Block, error) {
	for _, b := range g.blocks {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no block with ID %d", id)
}

// BlockAtOffset returns the real block starting at the given offset.
func (g *Graph) BlockAtOffset(offset int) (*Block, bool) {
	b, ok := g.byOffset[offset]
	return b, ok
}

// Blocks returns the blocks in ID order.
func (g *Graph) Blocks() []*Block {
	return append([]*Block(nil), g.blocks...)
}

// BlocksOf returns the blocks whose type matches the mask.
func (g *Graph) BlocksOf(mask TypeMask) []*Block {
	var out []*Block
	for _, b := range g.blocks {
		if b.Type.Mask()&mask != 0 {
			out = append(out, b)
		}
	}
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []*Edge {
	return append([]*Edge(nil), g.edges...)
}

// OutEdges returns the edges leaving a block, in insertion order.
func (g *Graph) OutEdges(id int) []*Edge {
	return append([]*Edge(nil), g.out[id]...)
}

// InEdges returns the edges entering a block, in insertion order.
func (g *Graph) InEdges(id int) []*Edge {
	return append([]*Edge(nil), g.in[id]...)
}

// Edge returns the first edge from pred to succ.
func (g *Graph) Edge(pred, succ int) (*Edge, bool) {
	for _, e := range g.out[pred] {
		if e.Succ == succ {
			return e, true
		}
	}
	return nil, false
}

// AddExceptionalExit appends a throw exit block for exceptions leaving pred
// and returns it.
func (g *Graph) AddExceptionalExit(pred *Block) *Block {
	exit := NewBlock(g.HighestNodeID()+1, BlockExit, SubThrow, LabelExit, pred.StartOffset, pred.EndOffset)
	g.AddBlock(exit)
	return exit
}

// NodeCount returns the number of blocks.
func (g *Graph) NodeCount() int {
	return len(g.blocks)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HighestNodeID returns the largest block ID under the dense ID contract.
func (g *Graph) HighestNodeID() int {
	return len(g.blocks)
}

// Validate checks the structural invariants of a completed graph: block IDs
// are 1..N, there is exactly one entry, at least one exit, and every non-exit
// block has a successor.
func (g *Graph) Validate() error {
	entries, exits := 0, 0
	for i, b := range g.blocks {
		if b.ID != i+1 {
			return &MalformedError{Method: g.DisplayName, Reason: fmt.Sprintf("block at index %d has ID %d", i, b.ID)}
		}
		switch b.Type {
		case BlockEntry:
			entries++
		case BlockExit:
			exits++
			continue
		}
		if len(b.Successors) == 0 {
			return &MalformedError{Method: g.DisplayName, Block: b.ID, Reason: "non-exit block has no successor"}
		}
	}
	if entries != 1 {
		return &MalformedError{Method: g.DisplayName, Reason: fmt.Sprintf("graph has %d entry blocks", entries)}
	}
	if exits == 0 {
		return &MalformedError{Method: g.DisplayName, Reason: "graph has no exit block"}
	}
	return nil
}

// Equal reports whether two graphs have the same blocks, adjacency, edges and
// branch annotations. Instruction anchors are ignored.
func (g *Graph) Equal(o *Graph) bool {
	if g.DisplayName != o.DisplayName || g.BranchCount != o.BranchCount ||
		g.SummaryBranchID != o.SummaryBranchID ||
		len(g.blocks) != len(o.blocks) || len(g.edges) != len(o.edges) {
		return false
	}
	for i, a := range g.blocks {
		b := o.blocks[i]
		if a.ID != b.ID || a.Type != b.Type || a.SubType != b.SubType || a.Label != b.Label ||
			a.StartOffset != b.StartOffset || a.EndOffset != b.EndOffset ||
			!equalInts(a.Successors, b.Successors) || !equalInts(a.Predecessors, b.Predecessors) {
			return false
		}
	}
	for i, a := range g.edges {
		b := o.edges[i]
		if a.ID != b.ID || a.Pred != b.Pred || a.Succ != b.Succ || a.Label != b.Label ||
			a.HasAux != b.HasAux || a.AuxLabel != b.AuxLabel || a.SpecialNodeID != b.SpecialNodeID ||
			a.TypeKind != b.TypeKind || a.Exception != b.Exception ||
			!a.BranchIDs().Equal(b.BranchIDs()) {
			return false
		}
	}
	return true
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String lists the edges with their endpoint blocks.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, e := range g.edges {
		if e.Label == "" {
			sb.WriteString("(nl): ")
		} else {
			sb.WriteString(e.Label + ": ")
		}
		from, _ := g.Block(e.Pred)
		to, _ := g.Block(e.Succ)
		fmt.Fprintf(&sb, "%s  ->  %s\n", from, to)
	}
	return sb.String()
}
