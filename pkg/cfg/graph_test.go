package cfg

import (
	"errors"
	"testing"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSig = bytecode.MethodSignature{Class: "demo.A", Name: "run", Descriptor: "()V"}

// diamond builds entry -> 2(if) -> {3, 4} -> 5(exit).
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph(testSig)
	g.SetLogger(log.Discard())
	g.AddBlock(NewBlock(1, BlockEntry, SubDontCare, LabelEntry, 0, 0))
	g.AddBlock(NewBlock(2, BlockBasic, SubIf, LabelBlock, 0, 3))
	g.AddBlock(NewBlock(3, BlockBasic, SubGoto, LabelBlock, 4, 6))
	g.AddBlock(NewBlock(4, BlockBasic, SubReturn, LabelBlock, 7, 8))
	g.AddBlock(NewBlock(5, BlockExit, SubDontCare, LabelExit, 8, 8))
	for _, e := range []*Edge{
		NewEdge(1, 2, 1, ""),
		NewEdge(2, 4, 2, "T"),
		NewEdge(3, 3, 2, "F"),
		NewEdge(4, 4, 3, ""),
		NewEdge(5, 5, 4, ""),
	} {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestGraphAdjacency(t *testing.T) {
	g := diamond(t)

	b2 := blockOf(t, g, 2)
	assert.Equal(t, []int{4, 3}, b2.Successors)
	assert.Equal(t, []int{2, 3}, blockOf(t, g, 4).Predecessors)

	out := g.OutEdges(2)
	require.Len(t, out, 2)
	assert.Equal(t, "T", out[0].Label)
	assert.Equal(t, "F", out[1].Label)

	assert.Len(t, g.InEdges(4), 2)
	assert.Empty(t, g.InEdges(1))

	e, ok := g.Edge(3, 4)
	require.True(t, ok)
	assert.Equal(t, 4, e.ID)

	_, ok = g.Edge(4, 3)
	assert.False(t, ok)

	b, ok := g.BlockAtOffset(4)
	require.True(t, ok)
	assert.Equal(t, 3, b.ID)
	_, ok = g.BlockAtOffset(8)
	assert.False(t, ok, "virtual exit must not be indexed by offset")

	assert.Len(t, g.BlocksOf(MaskBasic), 3)
	assert.Len(t, g.BlocksOf(MaskEntry|MaskExit), 2)
	require.NoError(t, g.Validate())
}

func TestGraphAddEdgeUnknownBlock(t *testing.T) {
	g := diamond(t)
	err := g.AddEdge(NewEdge(9, 42, 1, ""))
	assert.Error(t, err)
	assert.Equal(t, 5, g.EdgeCount())
}

func TestGraphBlockRecoversFromDisorder(t *testing.T) {
	g := NewGraph(testSig)
	g.SetLogger(log.Discard())
	g.AddBlock(NewBlock(2, BlockBasic, SubDontCare, LabelBlock, 4, 5))
	g.AddBlock(NewBlock(1, BlockEntry, SubDontCare, LabelEntry, 0, 0))

	b, err := g.Block(1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, 1, g.Blocks()[0].ID, "arena is re-sorted")

	_, err = g.Block(7)
	assert.Error(t, err)
}

func TestAddExceptionalExit(t *testing.T) {
	g := diamond(t)
	exit := g.AddExceptionalExit(blockOf(t, g, 3))
	assert.Equal(t, 6, exit.ID)
	assert.Equal(t, BlockExit, exit.Type)
	assert.Equal(t, SubThrow, exit.SubType)
	assert.Equal(t, 4, exit.StartOffset)
	assert.Equal(t, 6, g.HighestNodeID())
}

func TestValidateDetectsDeadEnd(t *testing.T) {
	g := NewGraph(testSig)
	g.AddBlock(NewBlock(1, BlockEntry, SubDontCare, LabelEntry, 0, 0))
	g.AddBlock(NewBlock(2, BlockBasic, SubDontCare, LabelBlock, 0, 1))
	g.AddBlock(NewBlock(3, BlockExit, SubDontCare, LabelExit, 1, 1))
	require.NoError(t, g.AddEdge(NewEdge(1, 2, 1, "")))

	err := g.Validate()
	var me *MalformedError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 2, me.Block)
}

func TestEdgeIndexKeepsInsertionOrder(t *testing.T) {
	g := NewGraph(testSig)
	g.SetLogger(log.Discard())
	g.AddBlock(NewBlock(1, BlockEntry, SubDontCare, LabelEntry, 0, 0))
	g.AddBlock(NewBlock(2, BlockBasic, SubIf, LabelBlock, 0, 3))
	g.AddBlock(NewBlock(3, BlockExit, SubDontCare, LabelExit, 4, 4))

	// Interleave the sources so each block's edges are spread over the list.
	var want2, want3 []int
	for i := 1; i <= 60; i++ {
		pred, succ := 1+i%2, 3
		if i%3 == 0 {
			succ = 2
			pred = 1
		}
		require.NoError(t, g.AddEdge(NewEdge(i, succ, pred, "")))
		if pred == 2 {
			want2 = append(want2, i)
		}
		if succ == 3 {
			want3 = append(want3, i)
		}
	}
	ids := func(edges []*Edge) []int {
		var out []int
		for _, e := range edges {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, want2, ids(g.OutEdges(2)))
	assert.Equal(t, want3, ids(g.InEdges(3)))
	assert.Len(t, g.Edges(), 60)

	first, ok := g.Edge(1, 2)
	require.True(t, ok)
	assert.Equal(t, 3, first.ID)

	// Callers may not reorder the index through a returned slice.
	out := g.OutEdges(2)
	out[0], out[1] = out[1], out[0]
	assert.Equal(t, want2, ids(g.OutEdges(2)))

	restored := NewGraph(testSig)
	restored.RestoreEdge(NewEdge(1, 3, 2, "x"))
	restored.RestoreEdge(NewEdge(2, 3, 1, "y"))
	assert.Equal(t, []int{1, 2}, ids(restored.InEdges(3)))
	_, ok = restored.Edge(2, 3)
	assert.True(t, ok)
}

func TestEdgeBranchIDs(t *testing.T) {
	e := NewEdge(1, 2, 1, "")
	_, ok := e.FirstBranchID()
	assert.False(t, ok)

	e.AddBranchID(BranchID{ID: 5, Type: BranchIf})
	e.AddBranchID(BranchID{ID: 2, Type: BranchEntry})
	e.AddBranchID(BranchID{ID: 5, Type: BranchCall})

	first, ok := e.FirstBranchID()
	require.True(t, ok)
	assert.Equal(t, 2, first.ID)
	assert.Equal(t, 2, e.BranchIDCount())

	assert.Equal(t, []BranchID{{ID: 2, Type: BranchEntry}, {ID: 5, Type: BranchIf}}, e.BranchIDs().Slice())

	copied := e.BranchIDs()
	copied.Add(BranchID{ID: 9})
	assert.Equal(t, 2, e.BranchIDCount(), "BranchIDs must return a copy")

	e.SetBranchIDs(NewIDSet(BranchID{ID: 7, Type: BranchSwitch}))
	assert.Equal(t, "[7]", e.BranchIDs().String())
}

func TestTypedEdge(t *testing.T) {
	anyEdge := NewTypedEdge(1, 2, 3, "")
	assert.Equal(t, AnyLabel, anyEdge.Label)
	assert.Equal(t, TypeAny, anyEdge.TypeKind)
	assert.True(t, anyEdge.Exceptional())

	exact := NewTypedEdge(1, 2, 3, "java.io.IOException")
	assert.Equal(t, "java.io.IOException", exact.Label)
	assert.Equal(t, TypeExact, exact.TypeKind)

	plain := NewEdge(1, 2, 3, "T")
	assert.False(t, plain.Exceptional())
	assert.Equal(t, -1, plain.SpecialNodeID)
	assert.Equal(t, "T&&null", plain.LabelKey())

	jsr := NewAuxEdge(2, 5, 4, "jsr", "12", 9)
	assert.Equal(t, "jsr&&12", jsr.LabelKey())
	assert.Equal(t, 9, jsr.SpecialNodeID)
}

func TestIDSet(t *testing.T) {
	s := NewIDSet(BranchID{ID: 3}, BranchID{ID: 1}, BranchID{ID: 2})
	assert.Equal(t, "1,2,3", s.Key())
	assert.True(t, s.ContainsAll(NewIDSet(BranchID{ID: 1}, BranchID{ID: 3})))
	assert.False(t, s.ContainsAll(NewIDSet(BranchID{ID: 4})))

	s.RemoveAll(NewIDSet(BranchID{ID: 1}, BranchID{ID: 2}))
	assert.Equal(t, "[3]", s.String())
	assert.False(t, s.Remove(BranchID{ID: 1}))

	var empty IDSet
	assert.True(t, empty.Empty())
	assert.True(t, empty.Add(BranchID{ID: 1}))
}

func TestCodes(t *testing.T) {
	bt, err := BlockTypeFromCode(54)
	require.NoError(t, err)
	assert.Equal(t, BlockBasic, bt)
	_, err = BlockTypeFromCode(1)
	assert.Error(t, err)

	st, err := BlockSubTypeFromCode(95)
	require.NoError(t, err)
	assert.Equal(t, "ret", st.String())

	l, err := BlockLabelFromChar('F')
	require.NoError(t, err)
	assert.Equal(t, LabelCall, l)

	br, err := BranchTypeFromCode(-1)
	require.NoError(t, err)
	assert.Equal(t, BranchDontCare, br)

	assert.Equal(t, BranchIf, BranchTypeOf(BlockBasic, SubIf))
	assert.Equal(t, BranchCall, BranchTypeOf(BlockCall, SubDontCare))
	assert.Equal(t, BranchDontCare, BranchTypeOf(BlockExit, SubSummaryThrow))
}

func blockOf(t *testing.T, g *Graph, id int) *Block {
	t.Helper()
	b, err := g.Block(id)
	require.NoError(t, err)
	return b
}
