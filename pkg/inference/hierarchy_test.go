package inference

import (
	"errors"
	"testing"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ise = "java.lang.IllegalStateException"
	ioe = "java.io.IOException"
)

func testHierarchy() *Hierarchy {
	prog := bytecode.NewProgram(
		&bytecode.Class{Name: "demo.Base", Super: bytecode.RuntimeExceptionClass},
		&bytecode.Class{Name: "demo.Sub", Super: "demo.Base", Interfaces: []string{"demo.Marker"}},
		&bytecode.Class{Name: "demo.Marker", Interface: true},
		&bytecode.Class{Name: "demo.Orphan", Super: "demo.Missing"},
	)
	return NewHierarchy(prog, 0)
}

func TestSubclassOf(t *testing.T) {
	h := testHierarchy()
	tests := []struct {
		a, b string
		want bool
	}{
		{"demo.Sub", "demo.Sub", true},
		{"demo.Sub", "demo.Base", true},
		{"demo.Sub", bytecode.RuntimeExceptionClass, true},
		{"demo.Sub", bytecode.ThrowableClass, true},
		{"demo.Base", "demo.Sub", false},
		{"demo.Sub", "demo.Marker", false},
		{"demo.Marker", "demo.Marker", true},
		{"demo.Marker", bytecode.ObjectClass, false},
		{ioe, bytecode.RuntimeExceptionClass, false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"<"+tt.b, func(t *testing.T) {
			got, err := h.SubclassOf(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommonSuperclass(t *testing.T) {
	h := testHierarchy()
	tests := []struct {
		a, b, want string
	}{
		{"", ise, ise},
		{ise, "", ise},
		{ise, ise, ise},
		{"demo.Sub", ise, bytecode.RuntimeExceptionClass},
		{"demo.Sub", ioe, bytecode.ExceptionClass},
		{"java.lang.AssertionError", ioe, bytecode.ThrowableClass},
		{"demo.Marker", "demo.Sub", bytecode.ObjectClass},
	}
	for _, tt := range tests {
		got, err := h.CommonSuperclass(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s ^ %s", tt.a, tt.b)
	}
}

func TestUncheckedAndThrowable(t *testing.T) {
	h := testHierarchy()

	for name, want := range map[string]bool{
		"demo.Sub":                      true,
		"java.lang.AssertionError":      true,
		ioe:                             false,
		bytecode.ThrowableClass:         false,
		"java.lang.OutOfMemoryError":    true,
		"java.io.FileNotFoundException": false,
	} {
		got, err := h.IsUnchecked(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	ok, err := h.IsThrowable("java.lang.String")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.IsThrowable(ioe)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIncompleteClasspath(t *testing.T) {
	h := testHierarchy()

	_, err := h.SubclassOf("demo.Orphan", ise)
	var cp *IncompleteClasspathError
	require.True(t, errors.As(err, &cp))
	assert.Equal(t, "demo.Missing", cp.Class)
	assert.ErrorIs(t, err, bytecode.ErrClassNotFound)
}

func TestHierarchyCachesClasses(t *testing.T) {
	h := testHierarchy()
	for i := 0; i < 3; i++ {
		_, err := h.Class("demo.Sub")
		require.NoError(t, err)
	}
	st := h.Stats()
	assert.Equal(t, int64(1), st.MissCount)
	assert.Equal(t, int64(2), st.HitCount)
	assert.InDelta(t, 2.0/3, st.HitRate(), 1e-9)
}

func TestEdgeSetOrder(t *testing.T) {
	s := NewEdgeSet(testHierarchy())
	add := func(exception string) bool {
		ok, err := s.Add(cfg.NewTypedEdge(0, -1, 2, exception))
		require.NoError(t, err)
		return ok
	}

	assert.True(t, add(bytecode.RuntimeExceptionClass))
	assert.True(t, add(ise))
	assert.True(t, add(bytecode.ExceptionClass))
	assert.True(t, add(bytecode.NullPointerClass))
	assert.True(t, add(""))
	assert.False(t, add(""), "second catch-all")
	assert.False(t, add(ise), "duplicate type")
	assert.True(t, add(ioe))

	var labels []string
	for _, e := range s.Edges() {
		labels = append(labels, e.Label)
	}
	assert.Equal(t, []string{
		ioe,
		bytecode.NullPointerClass,
		ise,
		bytecode.RuntimeExceptionClass,
		bytecode.ExceptionClass,
		cfg.AnyLabel,
	}, labels)
	assert.Equal(t, 6, s.Len())
}

func TestEdgeSetRemove(t *testing.T) {
	s := NewEdgeSet(testHierarchy())
	e := cfg.NewTypedEdge(0, -1, 2, ise)
	_, err := s.Add(e)
	require.NoError(t, err)

	assert.True(t, s.Contains(e))
	assert.False(t, s.Contains(cfg.NewTypedEdge(0, -1, 2, ise)))
	assert.True(t, s.Remove(e))
	assert.False(t, s.Remove(e))
	assert.Zero(t, s.Len())

	var nilSet *EdgeSet
	assert.Zero(t, nilSet.Len())
	assert.Nil(t, nilSet.Edges())
}

func TestResultsImprecise(t *testing.T) {
	res := NewResults()
	a := cfg.NewBlock(2, cfg.BlockBasic, cfg.SubThrow, cfg.LabelBlock, 0, 0)
	b := cfg.NewBlock(3, cfg.BlockCall, cfg.SubDontCare, cfg.LabelCall, 1, 1)
	c := cfg.NewBlock(5, cfg.BlockBasic, cfg.SubThrow, cfg.LabelBlock, 2, 2)
	res.Precision[2] = Result{Precise: true, Conservative: ise}
	res.Precision[3] = Result{Conservative: bytecode.ThrowableClass}

	assert.Equal(t, []*cfg.Block{b}, res.Imprecise([]*cfg.Block{a, b, c}))
}
