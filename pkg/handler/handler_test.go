package handler

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

const testClass = "demo.Io"

var fixedTime = time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

func newHandler(opts Options) *Handler {
	opts.Logger = log.Discard()
	opts.Version = "1.0"
	opts.Now = func() time.Time { return fixedTime }
	return New(nil, opts)
}

// checkGraph returns the graph of `void check(int)`: an if block whose
// false branch calls a method that may throw IOException.
func checkGraph(t *testing.T) *cfg.Graph {
	t.Helper()
	sig := bytecode.MethodSignature{Class: testClass, Name: "check", Descriptor: "(I)V"}
	g := cfg.NewGraph(sig)
	g.DisplayName = "void demo.Io.check(int)"
	g.SetLogger(log.Discard())
	for _, b := range []*cfg.Block{
		cfg.NewBlock(1, cfg.BlockEntry, cfg.SubDontCare, cfg.LabelEntry, -1, -1),
		cfg.NewBlock(2, cfg.BlockBasic, cfg.SubIf, cfg.LabelBlock, 0, 1),
		cfg.NewBlock(3, cfg.BlockCall, cfg.SubDontCare, cfg.LabelCall, 4, 5),
		cfg.NewBlock(4, cfg.BlockReturn, cfg.SubDontCare, cfg.LabelReturn, 5, 5),
		cfg.NewBlock(5, cfg.BlockBasic, cfg.SubReturn, cfg.LabelBlock, 8, 8),
		cfg.NewBlock(6, cfg.BlockExit, cfg.SubDontCare, cfg.LabelExit, -1, -1),
		cfg.NewBlock(7, cfg.BlockExit, cfg.SubSummaryThrow, cfg.LabelExit, -1, -1),
		cfg.NewBlock(8, cfg.BlockExit, cfg.SubThrow, cfg.LabelExit, 4, 5),
	} {
		g.AddBlock(b)
	}
	edges := []struct {
		e   *cfg.Edge
		ids []int
		typ cfg.BranchType
	}{
		{cfg.NewEdge(1, 2, 1, ""), []int{1}, cfg.BranchEntry},
		{cfg.NewEdge(2, 5, 2, "T"), []int{2}, cfg.BranchIf},
		{cfg.NewEdge(3, 3, 2, "F"), []int{3}, cfg.BranchIf},
		{cfg.NewAuxEdge(4, 4, 3, "<r>", "5", -1), []int{3}, cfg.BranchIf},
		{cfg.NewEdge(5, 5, 4, ""), []int{3}, cfg.BranchIf},
		{cfg.NewEdge(6, 6, 5, ""), []int{2}, cfg.BranchIf},
		{cfg.NewTypedEdge(7, 8, 3, "java.io.IOException"), []int{4}, cfg.BranchCall},
	}
	for _, x := range edges {
		require.NoError(t, g.AddEdge(x.e))
		for _, id := range x.ids {
			x.e.AddBranchID(cfg.BranchID{ID: id, Type: x.typ})
		}
	}
	g.BranchCount = 4
	g.SummaryBranchID = -1
	g.NextEdgeID = 8
	return g
}

// subroutineGraph returns a graph with a subroutine call edge linked to its
// return block.
func subroutineGraph(t *testing.T) *cfg.Graph {
	t.Helper()
	sig := bytecode.MethodSignature{Class: testClass, Name: "cleanup", Descriptor: "()V"}
	g := cfg.NewGraph(sig)
	g.DisplayName = "void demo.Io.cleanup()"
	for _, b := range []*cfg.Block{
		cfg.NewBlock(1, cfg.BlockEntry, cfg.SubDontCare, cfg.LabelEntry, -1, -1),
		cfg.NewBlock(2, cfg.BlockBasic, cfg.SubJSR, cfg.LabelBlock, 0, 0),
		cfg.NewBlock(3, cfg.BlockBasic, cfg.SubReturn, cfg.LabelBlock, 3, 3),
		cfg.NewBlock(4, cfg.BlockBasic, cfg.SubFinally, cfg.LabelBlock, 4, 5),
		cfg.NewBlock(5, cfg.BlockExit, cfg.SubDontCare, cfg.LabelExit, -1, -1),
		cfg.NewBlock(6, cfg.BlockExit, cfg.SubSummaryThrow, cfg.LabelExit, -1, -1),
	} {
		g.AddBlock(b)
	}
	for _, e := range []*cfg.Edge{
		cfg.NewEdge(1, 2, 1, ""),
		cfg.NewAuxEdge(2, 4, 2, "jsr", "0", 4),
		cfg.NewEdge(3, 5, 3, ""),
		cfg.NewAuxEdge(4, 3, 4, "jsr", "0", -1),
	} {
		require.NoError(t, g.AddEdge(e))
		e.AddBranchID(cfg.BranchID{ID: 1, Type: cfg.BranchEntry})
	}
	g.BranchCount = 1
	g.SummaryBranchID = 1
	return g
}

func TestWriteMap(t *testing.T) {
	h := newHandler(Options{})
	require.NoError(t, h.Add(checkGraph(t)))

	var buf bytes.Buffer
	require.NoError(t, h.WriteMap(&buf, testClass))

	want := `0 Mapping Information
0 File: demo.Io.java Created: Fri Oct 16 09:30:00 UTC 2026
0 version 1.0
0
1 "void demo.Io.check(int)" 8 8
4 demo.Io#check#(I)V
2 1 E 45 -100 -1 -1  0  0 
2 2 K 54 71 0 1  0  0 
2 3 F 44 -100 4 5  0  0 
2 4 T 50 -100 5 5  0  0 
2 5 K 54 61 8 8  0  0 
2 6 X 46 -100 -1 -1  0  0 
2 7 X 46 99 -1 -1  0  0 
2 8 X 46 96 4 5  0  0 
0 end of method void demo.Io.check(int)
`
	assert.Equal(t, want, buf.String())
}

func TestWriteCF(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "branch extensions",
			opts: Options{BranchExtensions: true},
			want: `1 "void demo.Io.check(int)" 8 8 4 -1
4 demo.Io#check#(I)V
3 1 2 1 1:16
3 2 5 2 2:1 T
3 3 3 2 3:1 F
3 4 4 3 3:1 <r>:5
3 5 5 4 3:1
3 6 6 5 2:1
3 7 8 3 4:8 java.io.IOException
0 end of method void demo.Io.check(int)
`,
		},
		{
			name: "legacy",
			opts: Options{Legacy: true},
			want: `1 "void demo.Io.check(int)" 8 8
4 0
3 1 2 1
3 2 5 2 T
3 3 3 2 F
3 4 4 3 <r>:5
3 5 5 4
3 6 6 5
3 7 8 3 java.io.IOException
0 end of method void demo.Io.check(int)
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(tt.opts)
			require.NoError(t, h.Add(checkGraph(t)))

			var buf bytes.Buffer
			require.NoError(t, h.WriteCF(&buf, testClass))
			lines := strings.SplitN(buf.String(), "\n", 5)
			require.Len(t, lines, 5)
			assert.Equal(t, "0 Control Flow Information", lines[0])
			assert.Equal(t, tt.want, lines[4])
		})
	}
}

func TestWriteCFSpecialNode(t *testing.T) {
	h := newHandler(Options{})
	g := subroutineGraph(t)
	g.Edges()[1].HasAux = false
	require.NoError(t, h.Add(g))

	var buf bytes.Buffer
	require.NoError(t, h.WriteCF(&buf, testClass))
	assert.Contains(t, buf.String(), "\n3 2 4 2 jsr:null:4\n")
	assert.Contains(t, buf.String(), "\n3 4 3 4 jsr:0\n")
}

func TestWriteCFMissingBranchIDs(t *testing.T) {
	h := newHandler(Options{BranchExtensions: true})
	g := checkGraph(t)
	g.Edges()[0].SetBranchIDs(cfg.NewIDSet())
	require.NoError(t, h.Add(g))

	err := h.WriteCF(&bytes.Buffer{}, testClass)
	assert.ErrorContains(t, err, "has no branch IDs")
}

func TestFilesRoundTrip(t *testing.T) {
	for _, branchExt := range []bool{true, false} {
		dir := t.TempDir()
		w := newHandler(Options{BranchExtensions: branchExt})
		check, sub := checkGraph(t), subroutineGraph(t)
		require.NoError(t, w.Add(check))
		require.NoError(t, w.Add(sub))
		paths, err := w.WriteFiles(dir, testClass)
		require.NoError(t, err)
		require.Len(t, paths, 2)

		r := newHandler(Options{BranchExtensions: branchExt})
		require.NoError(t, r.ReadFiles(dir, testClass))
		assert.False(t, r.Legacy())
		assert.Equal(t, testClass, r.ClassName())

		names, err := r.Methods()
		require.NoError(t, err)
		assert.Equal(t, []string{"void demo.Io.check(int)", "void demo.Io.cleanup()"}, names)

		got, err := r.Graph(check.Signature)
		require.NoError(t, err)
		if branchExt {
			assert.True(t, check.Equal(got), "read back:\n%s", got)
		} else {
			assert.Equal(t, check.EdgeCount(), got.EdgeCount())
			assert.Zero(t, got.Edges()[0].BranchIDCount())
		}
		e, ok := got.Edge(3, 8)
		require.True(t, ok)
		assert.Equal(t, cfg.TypeExact, e.TypeKind)
		assert.Equal(t, "java.io.IOException", e.Exception)
		assert.Equal(t, 8, got.NextEdgeID)

		gotSub, err := r.GraphByName("void demo.Io.cleanup()")
		require.NoError(t, err)
		call, ok := gotSub.Edge(2, 4)
		require.True(t, ok)
		assert.Equal(t, 4, call.SpecialNodeID)
		assert.Equal(t, "jsr&&0", call.LabelKey())

		sigs, err := r.Signatures(testClass)
		require.NoError(t, err)
		assert.Len(t, sigs, 2)
	}
}

func TestReadLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	w := newHandler(Options{Legacy: true})
	require.NoError(t, w.Add(checkGraph(t)))
	_, err := w.WriteFiles(dir, testClass)
	require.NoError(t, err)

	var logs bytes.Buffer
	r := New(nil, Options{Logger: log.New(log.LoggerConfig{Level: log.InfoLevel, Stdout: &logs, Stderr: &logs})})
	require.NoError(t, r.ReadFiles(dir, testClass))
	assert.True(t, r.Legacy())
	assert.Contains(t, logs.String(), "legacy map file")

	g, err := r.GraphByName("void demo.Io.check(int)")
	require.NoError(t, err)
	assert.Equal(t, 7, g.EdgeCount())
	assert.Equal(t, []int{5, 3}, blockOf(t, g, 2).Successors)

	_, err = r.Graph(checkGraph(t).Signature)
	assert.ErrorIs(t, err, ErrMethodNotFound)
	sigs, err := r.Signatures(testClass)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestReadErrors(t *testing.T) {
	header := "0 Mapping Information\n0 File: demo.Io.java Created: now\n0 version 1\n0\n"
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, err error)
	}{
		{"empty", "", func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrEmptyFile) }},
		{"wrong file name", "0 Mapping Information\n0 File: other.A.java Created: now\n0 v\n0\n",
			func(t *testing.T, err error) { assert.ErrorContains(t, err, "does not match class name") }},
		{"missing method header", header + "2 1 E 45 -100 -1 -1\n",
			func(t *testing.T, err error) { assert.ErrorContains(t, err, "method header not found") }},
		{"bad block type", header + "1 \"f\" 1 1\n4 demo.Io#f#()V\n2 1 E 47 -100 -1 -1  0  0\n",
			func(t *testing.T, err error) {
				var fe *FormatError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, 7, fe.Line)
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(Options{})
			tt.check(t, h.ReadMap(strings.NewReader(tt.input), "demo.Io.java"))
		})
	}
}

func TestReadCFBeforeMap(t *testing.T) {
	h := newHandler(Options{})
	input := "0 Control Flow Information\n0 File: demo.Io.java Created: now\n0 version 1\n0\n"
	err := h.ReadCF(strings.NewReader(input), "demo.Io.java")
	assert.ErrorIs(t, err, ErrMapNotLoaded)
}

func TestParseBranchIDs(t *testing.T) {
	ids, err := parseBranchIDs("3:1,1,2:8")
	require.NoError(t, err)
	got := ids.Slice()
	require.Len(t, got, 3)
	assert.Equal(t, cfg.BranchDontCare, got[0].Type)
	assert.Equal(t, cfg.BranchCall, got[1].Type)
	assert.Equal(t, cfg.BranchIf, got[2].Type)

	_, err = parseBranchIDs("a:1")
	assert.Error(t, err)
	_, err = parseBranchIDs("1:3")
	assert.Error(t, err)
}

func TestRestoreType(t *testing.T) {
	tests := []struct {
		label string
		kind  cfg.TypeKind
	}{
		{"", cfg.TypeUnknown},
		{"T", cfg.TypeUnknown},
		{"Default", cfg.TypeUnknown},
		{"12", cfg.TypeUnknown},
		{"-3", cfg.TypeUnknown},
		{"<any>", cfg.TypeAny},
		{"java.lang.IllegalStateException", cfg.TypeExact},
	}
	for _, tt := range tests {
		e := cfg.NewEdge(1, 2, 1, tt.label)
		restoreType(e)
		assert.Equal(t, tt.kind, e.TypeKind, tt.label)
	}
}

func TestWriteDot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDot(&buf, checkGraph(t)))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "digraph \"demo.Io.check(I)V\" {\n"))
	assert.Contains(t, out, "    E [label=\"1(E)\\n[-1:-1]\",shape=circle,height=0.01,width=0.01,margin=0];\n")
	assert.Contains(t, out, "    b2 [label=\"2\\n[0:1]\",shape=diamond,height=0.01,width=0.01,margin=0.02];\n")
	assert.Contains(t, out, "    b3 [label=\"3(C)\\n[4:5]\",shape=ellipse,height=0.01,width=0.01];\n")
	assert.Contains(t, out, "shape=doublecircle")
	assert.Contains(t, out, "    b2 -> b3 [label=\"[3] F\"]\n")
	assert.Contains(t, out, "    E -> b2 [label=\"[1]\"]\n")
	assert.True(t, strings.HasSuffix(out, "}\n"))

	path, err := WriteDotFile(t.TempDir(), "check", checkGraph(t))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "check.dot"))
}

func blockOf(t *testing.T, g *cfg.Graph, id int) *cfg.Block {
	t.Helper()
	b, err := g.Block(id)
	require.NoError(t, err)
	return b
}
