package branch

import (
	"testing"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n ...int) *cfg.IDSet {
	s := cfg.NewIDSet()
	for _, id := range n {
		s.Add(cfg.BranchID{ID: id, Type: cfg.BranchIf})
	}
	return s
}

func TestReduce(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(2, 3), ids(1))
	r.Put(ids(4, 5), ids(2))

	tests := []struct {
		name string
		in   *cfg.IDSet
		want string
	}{
		{"whole reduction set", ids(2, 3), "1"},
		{"extra IDs kept", ids(2, 3, 7), "1,7"},
		{"partial set untouched", ids(2), "2"},
		{"chained", ids(3, 4, 5), "1"},
		{"empty", ids(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Reduce(tt.in).Key())
		})
	}
}

func TestPutRewritesSubstitutions(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(4, 5), ids(2, 3))
	r.Put(ids(2, 3), ids(1))

	sub, ok := r.Get(ids(4, 5))
	require.True(t, ok)
	assert.Equal(t, "1", sub.Key())
	assert.Equal(t, 2, r.Len())
}

func TestPutDropsSelfCancellingRules(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(2), ids(3))
	r.Put(ids(3), ids(2))

	assert.Equal(t, 1, r.Len())
	_, ok := r.Get(ids(2))
	assert.False(t, ok)
	sub, ok := r.Get(ids(3))
	require.True(t, ok)
	assert.Equal(t, "2", sub.Key())
}

func TestPutReplacesExistingRule(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(2, 3), ids(1))
	r.Put(ids(2, 3), ids(9))

	assert.Equal(t, 1, r.Len())
	sub, _ := r.Get(ids(2, 3))
	assert.Equal(t, "9", sub.Key())
}

func TestReduceTerminates(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(1), ids(1, 2))
	assert.Equal(t, "1,2", r.Reduce(ids(1)).Key())
}

func TestPutCopiesSets(t *testing.T) {
	r := NewReductionRules()
	red, sub := ids(2, 3), ids(1)
	r.Put(red, sub)
	sub.Add(cfg.BranchID{ID: 8})
	red.Add(cfg.BranchID{ID: 9})

	got, ok := r.Get(ids(2, 3))
	require.True(t, ok)
	assert.Equal(t, "1", got.Key())
}

func TestMinimalEdgeSet(t *testing.T) {
	r := NewReductionRules()
	r.Put(ids(2, 3), ids(1))

	m := NewMinimalEdgeSet(r)
	m.Add(cfg.BranchID{ID: 2})
	assert.Equal(t, 1, m.Len())
	m.AddAll(ids(3, 6))
	assert.Equal(t, "1,6", m.Set().Key())
	assert.True(t, m.Contains(cfg.BranchID{ID: 6}))

	_, err := m.OnlyID()
	assert.Error(t, err)

	assert.True(t, m.Remove(cfg.BranchID{ID: 6}))
	assert.False(t, m.Remove(cfg.BranchID{ID: 6}))
	id, err := m.OnlyID()
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	m.Remove(cfg.BranchID{ID: 1})
	_, err = m.OnlyID()
	assert.Error(t, err)
}
